package display

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeSurface implements Surface for testing. It records every write,
// tracks how many transactions overlap and lets tests program failures.
type fakeSurface struct {
	mu      sync.Mutex
	devices []Device
	values  map[Key]int
	options map[Key]OptionTable

	listErr   error
	readErrs  map[Key]error
	writeErrs map[Key]error
	optErr    error

	writes []WriteRequest
	reads  int
	lists  int

	// delay is applied inside every transaction.
	delay time.Duration

	// onRead runs inside Read, while the caller holds the bus.
	onRead func(Key)

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeSurface(devices ...Device) *fakeSurface {
	return &fakeSurface{
		devices:   devices,
		values:    make(map[Key]int),
		options:   make(map[Key]OptionTable),
		readErrs:  make(map[Key]error),
		writeErrs: make(map[Key]error),
	}
}

func (f *fakeSurface) enter() {
	n := f.active.Add(1)
	for {
		high := f.maxActive.Load()
		if n <= high || f.maxActive.CompareAndSwap(high, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
}

func (f *fakeSurface) leave() {
	f.active.Add(-1)
}

func (f *fakeSurface) ListDevices(ctx context.Context) ([]Device, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Device, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

func (f *fakeSurface) Read(ctx context.Context, deviceID int, c Control) (int, error) {
	f.enter()
	defer f.leave()

	k := Key{DeviceID: deviceID, Control: c}
	f.mu.Lock()
	hook := f.onRead
	f.mu.Unlock()
	if hook != nil {
		hook(k)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if err := f.readErrs[k]; err != nil {
		return 0, err
	}
	return f.values[k], nil
}

func (f *fakeSurface) Write(ctx context.Context, deviceID int, c Control, value int) error {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	k := Key{DeviceID: deviceID, Control: c}
	f.writes = append(f.writes, WriteRequest{DeviceID: deviceID, Control: c, Value: value})
	if err := f.writeErrs[k]; err != nil {
		return err
	}
	f.values[k] = value
	return nil
}

func (f *fakeSurface) Options(ctx context.Context, deviceID int, c Control) (OptionTable, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.optErr != nil {
		return nil, f.optErr
	}
	return f.options[Key{DeviceID: deviceID, Control: c}].Clone(), nil
}

func (f *fakeSurface) set(id int, c Control, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[Key{DeviceID: id, Control: c}] = value
}

func (f *fakeSurface) setReadErr(id int, c Control, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErrs[Key{DeviceID: id, Control: c}] = err
}

func (f *fakeSurface) setWriteErr(id int, c Control, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErrs[Key{DeviceID: id, Control: c}] = err
}

func (f *fakeSurface) setOnRead(fn func(Key)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRead = fn
}

func (f *fakeSurface) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeSurface) getWrites() []WriteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WriteRequest, len(f.writes))
	copy(out, f.writes)
	return out
}

// eventRecorder collects coordinator events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls cond until it is true or the timeout elapses.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
