package display

import (
	"sort"
	"sync"
	"time"
)

// Cache is the owned registry of discovered devices and their last known
// values. It is shared by pointer between the poller, the serializer and
// the facade.
//
// Write discipline: only ApplyReads (poller) produces Confirmed values and
// only SetOptimistic (facade) produces Optimistic values. Devices are only
// ever added.
//
// All methods are safe for concurrent use. Returned maps and tables are
// copies; callers can modify them freely.
type Cache struct {
	mu      sync.RWMutex
	devices map[int]Device
	values  map[Key]ControlValue
	options map[Key]OptionTable
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		devices: make(map[int]Device),
		values:  make(map[Key]ControlValue),
		options: make(map[Key]OptionTable),
	}
}

// AddDevice registers d if it is not yet known.
// Returns true if the device was newly added.
func (c *Cache) AddDevice(d Device) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.devices[d.ID]; ok {
		return false
	}
	c.devices[d.ID] = d
	return true
}

// HasDevice reports whether id has been discovered.
func (c *Cache) HasDevice(id int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.devices[id]
	return ok
}

// Device returns the device with the given id.
func (c *Cache) Device(id int) (Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[id]
	return d, ok
}

// Devices returns all known devices ordered by ID.
func (c *Cache) Devices() []Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedDevicesLocked()
}

func (c *Cache) sortedDevicesLocked() []Device {
	out := make([]Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetOptions stores the option table for an enumerated control.
// Once a non-empty table is stored it is never replaced.
// Returns true if the table was stored.
func (c *Cache) SetOptions(id int, ctrl Control, table OptionTable) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := Key{DeviceID: id, Control: ctrl}
	if existing := c.options[k]; len(existing) > 0 {
		return false
	}
	if table == nil {
		table = OptionTable{}
	}
	c.options[k] = table.Clone()
	return true
}

// Options returns a copy of the option table for (id, ctrl).
// The bool is false if no table has been fetched.
func (c *Cache) Options(id int, ctrl Control) (OptionTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.options[Key{DeviceID: id, Control: ctrl}]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// NeedsOptions reports whether (id, ctrl) is enumerated and its option
// table has not been fetched yet.
func (c *Cache) NeedsOptions(id int, ctrl Control) bool {
	if ctrl.Kind() != KindEnumerated {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.options[Key{DeviceID: id, Control: ctrl}]
	return !ok
}

// Value returns the cached value for (id, ctrl). The bool is false only
// when the device is unknown; a known device with no reading yet returns
// a value in StateUnknown.
func (c *Cache) Value(id int, ctrl Control) (ControlValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.devices[id]; !ok {
		return ControlValue{}, false
	}
	v, ok := c.values[Key{DeviceID: id, Control: ctrl}]
	if !ok {
		return ControlValue{State: StateUnknown}, true
	}
	return v, true
}

// SetOptimistic records a requested value ahead of confirmation.
func (c *Cache) SetOptimistic(id int, ctrl Control, value int, at time.Time) Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := Key{DeviceID: id, Control: ctrl}
	prev, ok := c.values[k]
	if !ok {
		prev = ControlValue{State: StateUnknown}
	}
	cur := ControlValue{Value: value, State: StateOptimistic, UpdatedAt: at}
	c.values[k] = cur
	return Change{Key: k, Previous: prev, Current: cur}
}

// RevertOptimistic undoes the optimistic update described by ch, provided
// nothing has replaced it since. The returned change runs the other way.
func (c *Cache) RevertOptimistic(ch Change) (Change, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.values[ch.Key]
	if !ok || !sameValue(cur, ch.Current) {
		return Change{}, false
	}
	if ch.Previous.State == StateUnknown {
		delete(c.values, ch.Key)
	} else {
		c.values[ch.Key] = ch.Previous
	}
	return Change{Key: ch.Key, Previous: cur, Current: ch.Previous}, true
}

func sameValue(a, b ControlValue) bool {
	return a.Value == b.Value && a.State == b.State && a.UpdatedAt.Equal(b.UpdatedAt)
}

// ApplyReads merges one poll cycle's reads and returns what changed.
func (c *Cache) ApplyReads(reads map[Key]ReadResult, at time.Time) []Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := Merge(c.values, reads, at)
	changes := diffValues(c.values, merged)
	c.values = merged
	return changes
}

// DeviceState returns one device with its values and options.
func (c *Cache) DeviceState(id int) (DeviceState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[id]
	if !ok {
		return DeviceState{}, false
	}
	return c.deviceStateLocked(d), true
}

func (c *Cache) deviceStateLocked(d Device) DeviceState {
	ds := DeviceState{
		Device: d,
		Values: make(map[Control]ControlValue, len(allControls)),
	}
	for _, ctrl := range allControls {
		v, ok := c.values[Key{DeviceID: d.ID, Control: ctrl}]
		if !ok {
			v = ControlValue{State: StateUnknown}
		}
		ds.Values[ctrl] = v

		if t, ok := c.options[Key{DeviceID: d.ID, Control: ctrl}]; ok {
			if ds.Options == nil {
				ds.Options = make(map[Control]OptionTable)
			}
			ds.Options[ctrl] = t.Clone()
		}
	}
	return ds
}

// Snapshot returns a deep copy of every device's state.
func (c *Cache) Snapshot(status SyncStatus) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	devices := c.sortedDevicesLocked()
	snap := Snapshot{
		Devices: make([]DeviceState, 0, len(devices)),
		Status:  status,
		TakenAt: time.Now().UTC(),
	}
	for _, d := range devices {
		snap.Devices = append(snap.Devices, c.deviceStateLocked(d))
	}
	return snap
}

// Keys returns every (device, control) pair that should be polled,
// ordered by device then control.
func (c *Cache) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()

	devices := c.sortedDevicesLocked()
	keys := make([]Key, 0, len(devices)*len(allControls))
	for _, d := range devices {
		for _, ctrl := range allControls {
			keys = append(keys, Key{DeviceID: d.ID, Control: ctrl})
		}
	}
	return keys
}
