package display

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Serializer defaults.
const (
	// DefaultSettleDelay is how long the bus stays held after each write so
	// the display finishes processing before the next transaction.
	DefaultSettleDelay = 50 * time.Millisecond

	// DefaultRequestTimeout bounds a single transaction against the control surface.
	DefaultRequestTimeout = 5 * time.Second
)

// WriteSerializer drains write requests one at a time, in submission order,
// each under the shared bus token.
//
// The queue is unbounded: Enqueue never blocks and never rejects while the
// serializer is running. A failed write is reported through the result
// callback and dropped; it is never retried.
type WriteSerializer struct {
	bus       *Bus
	surface   Surface
	settle    time.Duration
	opTimeout time.Duration
	onResult  func(WriteRequest, error)
	logger    Logger

	mu      sync.Mutex
	queue   []WriteRequest
	pending map[Key]int // queued or executing, per key
	closed  bool
	wake    chan struct{}

	applied atomic.Uint64
	failed  atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// newWriteSerializer creates a serializer sharing bus with the poller.
func newWriteSerializer(bus *Bus, surface Surface, settle, opTimeout time.Duration, logger Logger, onResult func(WriteRequest, error)) *WriteSerializer {
	return &WriteSerializer{
		bus:       bus,
		surface:   surface,
		settle:    settle,
		opTimeout: opTimeout,
		onResult:  onResult,
		logger:    logger,
		pending:   make(map[Key]int),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the single consumer goroutine.
func (s *WriteSerializer) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.drainLoop(ctx)
}

// Stop stops accepting requests and waits for the consumer to exit.
// Requests still queued are discarded.
func (s *WriteSerializer) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		dropped := len(s.queue)
		s.queue = nil
		clear(s.pending)
		s.mu.Unlock()

		close(s.done)
		s.wg.Wait()

		if dropped > 0 {
			s.logger.Warn("write queue discarded on shutdown", "pending", dropped)
		}
	})
}

// Enqueue appends req to the FIFO. The caller reserves req's key first.
func (s *WriteSerializer) Enqueue(req WriteRequest) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStopped
	}
	s.queue = append(s.queue, req)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued requests not yet started.
func (s *WriteSerializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Counts returns how many writes were applied and how many failed.
func (s *WriteSerializer) Counts() (applied, failed uint64) {
	return s.applied.Load(), s.failed.Load()
}

// hasPending reports whether a write for k is queued or in flight. A read
// of k taken while this holds may predate the write.
func (s *WriteSerializer) hasPending(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[k] > 0
}

// reserve marks k pending ahead of Enqueue, so a read that completes after
// the optimistic update is never mistaken for the written value.
func (s *WriteSerializer) reserve(k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStopped
	}
	s.pending[k]++
	return nil
}

func (s *WriteSerializer) finished(k Key) {
	s.mu.Lock()
	if n := s.pending[k]; n > 1 {
		s.pending[k] = n - 1
	} else {
		delete(s.pending, k)
	}
	s.mu.Unlock()
}

// next pops the head of the queue.
func (s *WriteSerializer) next() (WriteRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return WriteRequest{}, false
	}
	req := s.queue[0]
	s.queue[0] = WriteRequest{}
	s.queue = s.queue[1:]
	return req, true
}

func (s *WriteSerializer) drainLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		req, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-s.wake:
				continue
			}
		}

		if err := s.execute(ctx, req); errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
	}
}

// execute performs one write under the bus token, including the settle delay.
func (s *WriteSerializer) execute(ctx context.Context, req WriteRequest) error {
	if err := s.bus.Acquire(ctx); err != nil {
		s.finished(req.Key())
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	err := s.surface.Write(opCtx, req.DeviceID, req.Control, req.Value)
	cancel()

	// The display needs time to apply the command before the bus is reused.
	settle := time.NewTimer(s.settle)
	select {
	case <-settle.C:
	case <-ctx.Done():
		settle.Stop()
	}
	s.bus.Release()
	s.finished(req.Key())

	if err != nil {
		s.failed.Add(1)
		err = fmt.Errorf("write %s on device %d: %w", req.Control, req.DeviceID, err)
		s.logger.Error("write failed, dropping request",
			"request_id", req.ID,
			"device_id", req.DeviceID,
			"control", req.Control,
			"value", req.Value,
			"error", err,
		)
	} else {
		s.applied.Add(1)
		s.logger.Debug("write applied",
			"request_id", req.ID,
			"device_id", req.DeviceID,
			"control", req.Control,
			"value", req.Value,
		)
	}

	if s.onResult != nil {
		s.onResult(req, err)
	}
	return err
}
