package display

import (
	"fmt"
	"sort"
	"time"
)

// Control identifies a tunable display parameter.
type Control string

// Supported controls.
const (
	Brightness  Control = "brightness"
	Contrast    Control = "contrast"
	InputSource Control = "input_source"
)

// Kind classifies how a control's value is interpreted.
type Kind string

const (
	// KindContinuous is a percentage-like integer range.
	KindContinuous Kind = "continuous"

	// KindEnumerated is a raw integer code mapped to a label by an OptionTable.
	KindEnumerated Kind = "enumerated"
)

// Value bounds per kind.
const (
	continuousMin = 0
	continuousMax = 100
	enumMin       = 0
	enumMax       = 255
)

// allControls is the fixed poll order.
var allControls = []Control{Brightness, Contrast, InputSource}

// Controls returns every supported control in poll order.
func Controls() []Control {
	out := make([]Control, len(allControls))
	copy(out, allControls)
	return out
}

// ParseControl converts a string to a Control.
func ParseControl(s string) (Control, error) {
	c := Control(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedControl, s)
	}
	return c, nil
}

// Valid reports whether c is one of the supported controls.
func (c Control) Valid() bool {
	switch c {
	case Brightness, Contrast, InputSource:
		return true
	}
	return false
}

// Kind returns the control's kind.
func (c Control) Kind() Kind {
	if c == InputSource {
		return KindEnumerated
	}
	return KindContinuous
}

// Range returns the inclusive raw value bounds for the control.
func (c Control) Range() (lo, hi int) {
	if c.Kind() == KindEnumerated {
		return enumMin, enumMax
	}
	return continuousMin, continuousMax
}

// VCPCode returns the MCCS feature code the control surface uses for c.
func (c Control) VCPCode() byte {
	switch c {
	case Brightness:
		return 0x10
	case Contrast:
		return 0x12
	case InputSource:
		return 0x60
	}
	return 0
}

// String implements fmt.Stringer.
func (c Control) String() string {
	return string(c)
}

// Device is a display discovered on the control surface.
// Devices are immutable once discovered and are never removed.
type Device struct {
	// ID is the control surface's display index, stable for the process lifetime.
	ID int `json:"id"`

	// Model is the display's reported model name.
	Model string `json:"model"`

	// Bus is the transport address (e.g. "/dev/i2c-4"). Opaque to the coordinator.
	Bus string `json:"bus"`
}

// OptionTable maps raw codes of an enumerated control to display labels.
type OptionTable map[int]string

// Label returns the label for code, if any.
func (t OptionTable) Label(code int) (string, bool) {
	l, ok := t[code]
	return l, ok
}

// Codes returns the table's codes in ascending order.
func (t OptionTable) Codes() []int {
	codes := make([]int, 0, len(t))
	for c := range t {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

// Clone returns an independent copy of the table. A nil table clones to nil.
func (t OptionTable) Clone() OptionTable {
	if t == nil {
		return nil
	}
	out := make(OptionTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// ValueState tags how much a cached value can be trusted.
type ValueState string

const (
	// StateUnknown means the value has never been read.
	StateUnknown ValueState = "unknown"

	// StateConfirmed means the value came from a successful poll.
	StateConfirmed ValueState = "confirmed"

	// StateOptimistic means the value was requested but not yet confirmed by a poll.
	StateOptimistic ValueState = "optimistic"
)

// ControlValue is the cached reading for one (device, control) pair.
type ControlValue struct {
	Value     int        `json:"value"`
	State     ValueState `json:"state"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Known reports whether the value has ever been set.
func (v ControlValue) Known() bool {
	return v.State == StateConfirmed || v.State == StateOptimistic
}

// Key addresses a single cached value.
type Key struct {
	DeviceID int
	Control  Control
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.DeviceID, k.Control)
}

// WriteRequest is a caller's request to set a control, consumed once by the serializer.
type WriteRequest struct {
	ID          string    `json:"id"`
	DeviceID    int       `json:"device_id"`
	Control     Control   `json:"control"`
	Value       int       `json:"value"`
	Source      string    `json:"source,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Key returns the cache key the request targets.
func (r WriteRequest) Key() Key {
	return Key{DeviceID: r.DeviceID, Control: r.Control}
}

// SyncStatus reports the health of the most recent poll cycles and writes.
type SyncStatus struct {
	LastCycleOK         bool      `json:"last_cycle_ok"`
	LastCycleAt         time.Time `json:"last_cycle_at,omitempty"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorAt         time.Time `json:"last_error_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalCycles         uint64    `json:"total_cycles"`
	ReadFailures        int       `json:"read_failures"`
	FailedWrites        uint64    `json:"failed_writes"`
	LastWriteError      string    `json:"last_write_error,omitempty"`
}

// ConnectionLabel renders the status the way the connection sensor shows it.
func (s SyncStatus) ConnectionLabel() string {
	if s.TotalCycles == 0 {
		return "connecting"
	}
	if s.LastCycleOK {
		return "connected"
	}
	return "error: " + s.LastError
}

// DeviceState is a device together with all of its cached values and options.
type DeviceState struct {
	Device  Device                   `json:"device"`
	Values  map[Control]ControlValue `json:"values"`
	Options map[Control]OptionTable  `json:"options,omitempty"`
}

// Snapshot is an immutable view of the whole cache.
type Snapshot struct {
	Devices []DeviceState `json:"devices"`
	Status  SyncStatus    `json:"status"`
	TakenAt time.Time     `json:"taken_at"`
}

// Device returns the state for id, if present.
func (s Snapshot) Device(id int) (DeviceState, bool) {
	for _, d := range s.Devices {
		if d.Device.ID == id {
			return d, true
		}
	}
	return DeviceState{}, false
}
