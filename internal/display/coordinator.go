package display

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Surface is the control-surface contract the coordinator consumes.
// Implementations classify failures with the package's sentinel errors
// and never retry.
type Surface interface {
	// ListDevices returns every display currently attached to the control surface.
	ListDevices(ctx context.Context) ([]Device, error)

	// Read returns the current raw value of a control.
	Read(ctx context.Context, deviceID int, c Control) (int, error)

	// Write sets a control's raw value.
	Write(ctx context.Context, deviceID int, c Control, value int) error

	// Options returns the option table for an enumerated control.
	Options(ctx context.Context, deviceID int, c Control) (OptionTable, error)
}

// Logger defines the logging interface used by the coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Coordinator.
type Options struct {
	// Surface is the control-surface client. Required.
	Surface Surface

	// PollInterval is the time between poll cycles. Default: 30s.
	PollInterval time.Duration

	// SettleDelay is how long the bus stays held after each write. Default: 50ms.
	SettleDelay time.Duration

	// RequestTimeout bounds each transaction. Default: 5s.
	RequestTimeout time.Duration

	// RefreshAfterWrite schedules an early poll after every applied write.
	RefreshAfterWrite bool

	// Logger is an optional structured logger.
	Logger Logger
}

// Coordinator is the facade callers observe. It owns the cache, the bus
// token, the poller and the write serializer.
//
// Thread Safety: All methods are safe for concurrent use. The read paths
// (CurrentValue, CurrentOptions, LastSyncStatus, Devices, Snapshot) never
// wait on the bus.
type Coordinator struct {
	cache  *Cache
	bus    *Bus
	status *statusTracker
	poller *Poller
	writer *WriteSerializer
	logger Logger

	refreshAfterWrite bool

	observers   []EventHandler
	observersMu sync.RWMutex

	started   atomic.Bool
	stopped   atomic.Bool
	stopOnce  sync.Once
	ctxCancel context.CancelFunc
}

// New creates a coordinator. Call Start to begin polling and draining.
func New(opts Options) (*Coordinator, error) {
	if opts.Surface == nil {
		return nil, fmt.Errorf("surface is required")
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	c := &Coordinator{
		cache:             NewCache(),
		bus:               NewBus(),
		status:            &statusTracker{},
		logger:            logger,
		refreshAfterWrite: opts.RefreshAfterWrite,
	}
	c.poller = newPoller(c.cache, c.bus, opts.Surface, c.status, interval, timeout, logger, c.emit)
	c.writer = newWriteSerializer(c.bus, opts.Surface, settle, timeout, logger, c.handleWriteResult)
	c.poller.pending = c.writer.hasPending

	return c, nil
}

// Start launches the poll loop and the write drainer.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.ctxCancel = cancel

	c.writer.Start(runCtx)
	c.poller.Start(runCtx)

	c.logger.Info("display coordinator started", "poll_interval", c.poller.interval.String())
	return nil
}

// Stop cancels in-flight transactions and waits for both loops to exit.
// Safe to call multiple times.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		if c.ctxCancel != nil {
			c.ctxCancel()
		}
		c.writer.Stop()
		c.poller.Stop()
		c.logger.Info("display coordinator stopped")
	})
}

// Subscribe registers h to receive every event. Handlers are invoked
// synchronously and must not call back into Stop.
func (c *Coordinator) Subscribe(h EventHandler) {
	if h == nil {
		return
	}
	c.observersMu.Lock()
	c.observers = append(c.observers, h)
	c.observersMu.Unlock()
}

// emit delivers ev to every observer, isolating observer panics.
func (c *Coordinator) emit(ev Event) {
	c.observersMu.RLock()
	observers := make([]EventHandler, len(c.observers))
	copy(observers, c.observers)
	c.observersMu.RUnlock()

	for _, h := range observers {
		c.dispatch(h, ev)
	}
}

func (c *Coordinator) dispatch(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panic recovered", "event", ev.Type, "panic", r)
		}
	}()
	h(ev)
}

// RequestWrite validates the request, applies it optimistically and
// queues it for the write drainer. It returns as soon as the request is
// queued; the transport outcome is reported later as an event.
//
// Invalid requests are rejected before the cache or the queue is touched.
func (c *Coordinator) RequestWrite(deviceID int, ctrl Control, value int, source string) (WriteRequest, error) {
	if c.stopped.Load() {
		return WriteRequest{}, ErrStopped
	}
	if !ctrl.Valid() {
		return WriteRequest{}, fmt.Errorf("%w: %q", ErrUnsupportedControl, ctrl)
	}

	dev, ok := c.cache.Device(deviceID)
	if !ok {
		return WriteRequest{}, fmt.Errorf("%w: %d", ErrUnknownDevice, deviceID)
	}

	options, _ := c.cache.Options(deviceID, ctrl)
	if err := ValidateValue(ctrl, value, options); err != nil {
		return WriteRequest{}, err
	}

	// Reserved before the timestamp is taken: a read that finishes before
	// this point also started before the optimistic value.
	if err := c.writer.reserve(Key{DeviceID: deviceID, Control: ctrl}); err != nil {
		return WriteRequest{}, err
	}

	now := time.Now().UTC()
	req := WriteRequest{
		ID:          uuid.NewString(),
		DeviceID:    deviceID,
		Control:     ctrl,
		Value:       value,
		Source:      source,
		SubmittedAt: now,
	}

	change := c.cache.SetOptimistic(deviceID, ctrl, value, now)
	if valueChanged(change) {
		c.emit(Event{Type: EventValueChanged, Timestamp: now, Device: dev, Change: &change})
	}

	if err := c.writer.Enqueue(req); err != nil {
		// Stopped between reserve and Enqueue: no write will follow the
		// optimistic value, so take it back.
		c.writer.finished(req.Key())
		if undo, ok := c.cache.RevertOptimistic(change); ok && valueChanged(undo) {
			c.emit(Event{Type: EventValueChanged, Timestamp: time.Now().UTC(), Device: dev, Change: &undo})
		}
		return WriteRequest{}, err
	}

	c.logger.Info("write requested",
		"request_id", req.ID,
		"device_id", deviceID,
		"control", ctrl,
		"value", value,
		"source", source,
	)

	return req, nil
}

func valueChanged(ch Change) bool {
	return ch.Previous.Value != ch.Current.Value || ch.Previous.State != ch.Current.State
}

// handleWriteResult runs on the drain goroutine after every write.
func (c *Coordinator) handleWriteResult(req WriteRequest, err error) {
	dev, _ := c.cache.Device(req.DeviceID)
	now := time.Now().UTC()

	if err != nil {
		c.status.writeFailed(err)
		c.emit(Event{Type: EventWriteFailed, Timestamp: now, Device: dev, Write: &req, Err: err})
		return
	}

	c.emit(Event{Type: EventWriteApplied, Timestamp: now, Device: dev, Write: &req})
	if c.refreshAfterWrite {
		c.poller.RequestRefresh()
	}
}

// CurrentValue returns the cached value for (deviceID, ctrl). It may be
// an unconfirmed optimistic value. The bool is false for unknown devices.
func (c *Coordinator) CurrentValue(deviceID int, ctrl Control) (ControlValue, bool) {
	return c.cache.Value(deviceID, ctrl)
}

// CurrentOptions returns the option table of an enumerated control.
// The bool is false if the device is unknown, the control is continuous,
// or the table has not been fetched.
func (c *Coordinator) CurrentOptions(deviceID int, ctrl Control) (OptionTable, bool) {
	if ctrl.Kind() != KindEnumerated {
		return nil, false
	}
	return c.cache.Options(deviceID, ctrl)
}

// CurrentLabel returns the option label for the cached value of an
// enumerated control.
func (c *Coordinator) CurrentLabel(deviceID int, ctrl Control) (string, bool) {
	v, ok := c.cache.Value(deviceID, ctrl)
	if !ok || !v.Known() {
		return "", false
	}
	options, ok := c.CurrentOptions(deviceID, ctrl)
	if !ok {
		return "", false
	}
	return options.Label(v.Value)
}

// LastSyncStatus reports the outcome of the most recent poll cycle.
func (c *Coordinator) LastSyncStatus() SyncStatus {
	return c.status.get()
}

// Devices returns every discovered device ordered by ID.
func (c *Coordinator) Devices() []Device {
	return c.cache.Devices()
}

// DeviceState returns one device with all of its cached values.
func (c *Coordinator) DeviceState(deviceID int) (DeviceState, bool) {
	return c.cache.DeviceState(deviceID)
}

// Snapshot returns an immutable copy of the whole cache.
func (c *Coordinator) Snapshot() Snapshot {
	return c.cache.Snapshot(c.status.get())
}

// RequestRefresh schedules an early poll cycle.
func (c *Coordinator) RequestRefresh() {
	c.poller.RequestRefresh()
}

// PendingWrites returns the number of queued writes not yet started.
func (c *Coordinator) PendingWrites() int {
	return c.writer.Pending()
}

// Stats contains counters for metrics and health reporting.
type Stats struct {
	Devices       int
	PendingWrites int
	WritesApplied uint64
	WritesFailed  uint64
	Status        SyncStatus
}

// Stats returns current coordinator counters.
func (c *Coordinator) Stats() Stats {
	applied, failed := c.writer.Counts()
	return Stats{
		Devices:       len(c.cache.Devices()),
		PendingWrites: c.writer.Pending(),
		WritesApplied: applied,
		WritesFailed:  failed,
		Status:        c.status.get(),
	}
}

// Poller exposes the poll scheduler, mainly so tests can drive cycles.
func (c *Coordinator) Poller() *Poller {
	return c.poller
}
