package display

import (
	"sort"
	"time"
)

// ReadResult is the outcome of one poll read. A non-nil Err means the
// read failed and carries no value. At is when the read started; a zero At
// is treated as current.
type ReadResult struct {
	Value int
	Err   error
	At    time.Time
}

// Merge folds one poll cycle's reads into the previous cache contents.
//
// For every key, a successful read wins and becomes Confirmed at time at;
// otherwise the old value is kept unchanged. A read that started before
// an optimistic write was requested is stale and does not replace it.
// Keys that were never read successfully stay absent (Unknown). Neither
// input is modified.
func Merge(old map[Key]ControlValue, reads map[Key]ReadResult, at time.Time) map[Key]ControlValue {
	merged := make(map[Key]ControlValue, len(old)+len(reads))
	for k, v := range old {
		merged[k] = v
	}

	for k, r := range reads {
		if r.Err != nil {
			continue
		}
		if prev, ok := old[k]; ok && staleRead(prev, r) {
			continue
		}
		merged[k] = ControlValue{
			Value:     r.Value,
			State:     StateConfirmed,
			UpdatedAt: at,
		}
	}

	return merged
}

// staleRead reports whether r was taken before the optimistic value v.
func staleRead(v ControlValue, r ReadResult) bool {
	return v.State == StateOptimistic && !r.At.IsZero() && r.At.Before(v.UpdatedAt)
}

// Change describes a cached value that moved during a merge or write.
type Change struct {
	Key      Key
	Previous ControlValue
	Current  ControlValue
}

// diffValues lists the keys whose value or state differs between a and b.
// Timestamps alone do not count as a change.
func diffValues(a, b map[Key]ControlValue) []Change {
	var changes []Change
	for k, cur := range b {
		prev, ok := a[k]
		if !ok {
			prev = ControlValue{State: StateUnknown}
		} else if prev.Value == cur.Value && prev.State == cur.State {
			continue
		}
		changes = append(changes, Change{Key: k, Previous: prev, Current: cur})
	}
	sort.Slice(changes, func(i, j int) bool {
		return keyLess(changes[i].Key, changes[j].Key)
	})
	return changes
}

// keyLess orders keys by device ID, then by poll order of the control.
func keyLess(a, b Key) bool {
	if a.DeviceID != b.DeviceID {
		return a.DeviceID < b.DeviceID
	}
	return controlIndex(a.Control) < controlIndex(b.Control)
}

func controlIndex(c Control) int {
	for i, ac := range allControls {
		if ac == c {
			return i
		}
	}
	return len(allControls)
}
