package display

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 30 * time.Second

// Poller periodically reads every control of every known device and merges
// the results into the cache. Each transaction holds the shared bus token
// for its own duration only, so queued writes interleave between reads.
type Poller struct {
	cache     *Cache
	bus       *Bus
	surface   Surface
	status    *statusTracker
	interval  time.Duration
	opTimeout time.Duration
	emit      func(Event)
	logger    Logger

	// pending reports keys with a write queued or in flight; reads of those
	// keys are dropped and retried.
	pending func(Key) bool

	// cycleMu keeps RunCycle calls from overlapping.
	cycleMu sync.Mutex

	refresh  chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newPoller(cache *Cache, bus *Bus, surface Surface, status *statusTracker, interval, opTimeout time.Duration, logger Logger, emit func(Event)) *Poller {
	return &Poller{
		cache:     cache,
		bus:       bus,
		surface:   surface,
		status:    status,
		interval:  interval,
		opTimeout: opTimeout,
		emit:      emit,
		logger:    logger,
		refresh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start runs one cycle immediately, then one per interval until Stop or
// ctx cancellation.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.pollLoop(ctx)
}

// Stop ends the poll loop and waits for an in-flight cycle to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

// RequestRefresh schedules an early cycle. Multiple requests made while
// one is pending collapse into a single cycle.
func (p *Poller) RequestRefresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	//nolint:errcheck // Failures are recorded in SyncStatus
	p.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
		case <-p.refresh:
		}
		//nolint:errcheck // Failures are recorded in SyncStatus
		p.RunCycle(ctx)
	}
}

// RunCycle performs one full poll cycle.
//
// A discovery failure aborts the cycle, leaves the cache untouched and is
// returned wrapped in ErrDiscovery. Individual read failures are absorbed
// and only counted. A nil return means the cycle completed.
func (p *Poller) RunCycle(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	started := time.Now().UTC()

	devices, err := p.listDevices(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fmt.Errorf("%w: %w", ErrDiscovery, err)
		status := p.status.cycleFailed(started, err)
		p.logger.Warn("poll cycle aborted, cache preserved", "error", err)
		p.emit(Event{Type: EventSyncFailed, Timestamp: started, Status: &status, Err: err})
		return err
	}

	for _, d := range devices {
		if p.cache.AddDevice(d) {
			p.logger.Info("display discovered", "device_id", d.ID, "model", d.Model, "bus", d.Bus)
			p.emit(Event{Type: EventDeviceDiscovered, Timestamp: started, Device: d})
		}
	}

	p.fetchMissingOptions(ctx)

	reads, failures, deferred := p.readAll(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	changes := p.cache.ApplyReads(reads, time.Now().UTC())
	status := p.status.cycleSucceeded(started, failures)

	// Reads overtaken by a write request were discarded; check those keys
	// again soon rather than waiting a full interval.
	if stale := deferred + len(p.staleKeys(reads)); stale > 0 {
		p.logger.Debug("stale reads skipped, refresh scheduled", "keys", stale)
		p.RequestRefresh()
	}

	for i := range changes {
		ch := changes[i]
		dev, _ := p.cache.Device(ch.Key.DeviceID)
		p.emit(Event{Type: EventValueChanged, Timestamp: ch.Current.UpdatedAt, Device: dev, Change: &ch})
	}
	p.emit(Event{Type: EventSyncCompleted, Timestamp: time.Now().UTC(), Status: &status})

	p.logger.Debug("poll cycle complete",
		"devices", len(devices),
		"reads", len(reads),
		"read_failures", failures,
		"changes", len(changes),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// staleKeys lists successfully read keys whose cached value is still
// optimistic after the merge.
func (p *Poller) staleKeys(reads map[Key]ReadResult) []Key {
	var stale []Key
	for k, r := range reads {
		if r.Err != nil {
			continue
		}
		if v, ok := p.cache.Value(k.DeviceID, k.Control); ok && v.State == StateOptimistic {
			stale = append(stale, k)
		}
	}
	return stale
}

func (p *Poller) listDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	err := p.bus.Do(ctx, func() error {
		opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
		defer cancel()

		var err error
		devices, err = p.surface.ListDevices(opCtx)
		return err
	})
	return devices, err
}

// fetchMissingOptions loads option tables for enumerated controls that do
// not have one yet. A failed fetch is retried on the next cycle.
func (p *Poller) fetchMissingOptions(ctx context.Context) {
	for _, d := range p.cache.Devices() {
		for _, ctrl := range allControls {
			if !p.cache.NeedsOptions(d.ID, ctrl) {
				continue
			}

			var table OptionTable
			err := p.bus.Do(ctx, func() error {
				opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
				defer cancel()

				var err error
				table, err = p.surface.Options(opCtx, d.ID, ctrl)
				return err
			})
			if err != nil {
				p.logger.Warn("option table fetch failed", "device_id", d.ID, "control", ctrl, "error", err)
				continue
			}

			p.cache.SetOptions(d.ID, ctrl, table)
			p.logger.Debug("option table loaded", "device_id", d.ID, "control", ctrl, "options", len(table))
		}
	}
}

// readAll reads every known key, taking and releasing the bus per read.
// Reads of keys with a pending write are left out and counted as deferred.
func (p *Poller) readAll(ctx context.Context) (reads map[Key]ReadResult, failures, deferred int) {
	keys := p.cache.Keys()
	reads = make(map[Key]ReadResult, len(keys))

	for _, k := range keys {
		if ctx.Err() != nil {
			break
		}

		var value int
		var readAt time.Time
		var overtaken bool
		err := p.bus.Do(ctx, func() error {
			opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
			defer cancel()

			readAt = time.Now().UTC()
			var err error
			value, err = p.surface.Read(opCtx, k.DeviceID, k.Control)
			// Checked under the bus: a write queued now has not reached the display.
			overtaken = p.pending != nil && p.pending(k)
			return err
		})

		if err == nil && overtaken {
			deferred++
			continue
		}
		reads[k] = ReadResult{Value: value, Err: err, At: readAt}
		if err != nil {
			failures++
			p.logger.Debug("read failed, keeping last value", "device_id", k.DeviceID, "control", k.Control, "error", err)
		}
	}

	return reads, failures, deferred
}
