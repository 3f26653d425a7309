package display

import (
	"errors"
	"testing"
	"time"
)

func TestMerge(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	earlier := at.Add(-time.Minute)

	kBright := Key{DeviceID: 0, Control: Brightness}
	kContrast := Key{DeviceID: 0, Control: Contrast}
	kInput := Key{DeviceID: 0, Control: InputSource}

	tests := []struct {
		name  string
		old   map[Key]ControlValue
		reads map[Key]ReadResult
		want  map[Key]ControlValue
	}{
		{
			name:  "successful read confirms",
			old:   map[Key]ControlValue{},
			reads: map[Key]ReadResult{kBright: {Value: 60}},
			want: map[Key]ControlValue{
				kBright: {Value: 60, State: StateConfirmed, UpdatedAt: at},
			},
		},
		{
			name: "read overrides optimistic",
			old: map[Key]ControlValue{
				kBright: {Value: 80, State: StateOptimistic, UpdatedAt: earlier},
			},
			reads: map[Key]ReadResult{kBright: {Value: 60}},
			want: map[Key]ControlValue{
				kBright: {Value: 60, State: StateConfirmed, UpdatedAt: at},
			},
		},
		{
			name: "read started before optimistic write is stale",
			old: map[Key]ControlValue{
				kBright: {Value: 90, State: StateOptimistic, UpdatedAt: earlier},
			},
			reads: map[Key]ReadResult{kBright: {Value: 60, At: earlier.Add(-time.Second)}},
			want: map[Key]ControlValue{
				kBright: {Value: 90, State: StateOptimistic, UpdatedAt: earlier},
			},
		},
		{
			name: "read started after optimistic write confirms",
			old: map[Key]ControlValue{
				kBright: {Value: 90, State: StateOptimistic, UpdatedAt: earlier},
			},
			reads: map[Key]ReadResult{kBright: {Value: 90, At: earlier.Add(time.Second)}},
			want: map[Key]ControlValue{
				kBright: {Value: 90, State: StateConfirmed, UpdatedAt: at},
			},
		},
		{
			name: "older read still replaces confirmed value",
			old: map[Key]ControlValue{
				kBright: {Value: 70, State: StateConfirmed, UpdatedAt: earlier},
			},
			reads: map[Key]ReadResult{kBright: {Value: 60, At: earlier.Add(-time.Second)}},
			want: map[Key]ControlValue{
				kBright: {Value: 60, State: StateConfirmed, UpdatedAt: at},
			},
		},
		{
			name: "failed read keeps old value",
			old: map[Key]ControlValue{
				kBright: {Value: 80, State: StateOptimistic, UpdatedAt: earlier},
			},
			reads: map[Key]ReadResult{kBright: {Err: ErrTransport}},
			want: map[Key]ControlValue{
				kBright: {Value: 80, State: StateOptimistic, UpdatedAt: earlier},
			},
		},
		{
			name:  "failed read of never-read key stays absent",
			old:   map[Key]ControlValue{},
			reads: map[Key]ReadResult{kInput: {Err: ErrUnsupportedControl}},
			want:  map[Key]ControlValue{},
		},
		{
			name: "unread keys are preserved",
			old: map[Key]ControlValue{
				kContrast: {Value: 50, State: StateConfirmed, UpdatedAt: earlier},
			},
			reads: map[Key]ReadResult{kBright: {Value: 10}},
			want: map[Key]ControlValue{
				kBright:   {Value: 10, State: StateConfirmed, UpdatedAt: at},
				kContrast: {Value: 50, State: StateConfirmed, UpdatedAt: earlier},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.old, tt.reads, at)
			if len(got) != len(tt.want) {
				t.Fatalf("Merge() returned %d keys, want %d", len(got), len(tt.want))
			}
			for k, want := range tt.want {
				if got[k] != want {
					t.Errorf("Merge()[%s] = %+v, want %+v", k, got[k], want)
				}
			}
		})
	}
}

func TestMergeDoesNotModifyInputs(t *testing.T) {
	at := time.Now().UTC()
	k := Key{DeviceID: 1, Control: Brightness}

	old := map[Key]ControlValue{k: {Value: 5, State: StateConfirmed}}
	reads := map[Key]ReadResult{
		k:                                  {Value: 99},
		{DeviceID: 1, Control: InputSource}: {Err: errors.New("boom")},
	}

	Merge(old, reads, at)

	if old[k].Value != 5 || len(old) != 1 {
		t.Errorf("Merge() modified old map: %+v", old)
	}
	if len(reads) != 2 {
		t.Errorf("Merge() modified reads map: %+v", reads)
	}
}

func TestDiffValues(t *testing.T) {
	at := time.Now().UTC()
	k0 := Key{DeviceID: 0, Control: Brightness}
	k1 := Key{DeviceID: 0, Control: InputSource}
	k2 := Key{DeviceID: 1, Control: Brightness}

	a := map[Key]ControlValue{
		k0: {Value: 10, State: StateConfirmed, UpdatedAt: at.Add(-time.Minute)},
		k1: {Value: 15, State: StateOptimistic},
	}
	b := map[Key]ControlValue{
		k0: {Value: 10, State: StateConfirmed, UpdatedAt: at}, // timestamp only
		k1: {Value: 15, State: StateConfirmed},
		k2: {Value: 40, State: StateConfirmed},
	}

	changes := diffValues(a, b)
	if len(changes) != 2 {
		t.Fatalf("diffValues() returned %d changes, want 2", len(changes))
	}
	if changes[0].Key != k1 {
		t.Errorf("changes[0].Key = %v, want %v", changes[0].Key, k1)
	}
	if changes[1].Key != k2 {
		t.Errorf("changes[1].Key = %v, want %v", changes[1].Key, k2)
	}
	if changes[1].Previous.State != StateUnknown {
		t.Errorf("new key Previous.State = %q, want %q", changes[1].Previous.State, StateUnknown)
	}
}
