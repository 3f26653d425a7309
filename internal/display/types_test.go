package display

import (
	"errors"
	"testing"
)

func TestParseControl(t *testing.T) {
	tests := []struct {
		in      string
		want    Control
		wantErr bool
	}{
		{"brightness", Brightness, false},
		{"contrast", Contrast, false},
		{"input_source", InputSource, false},
		{"volume", "", true},
		{"", "", true},
		{"Brightness", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseControl(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedControl) {
					t.Errorf("ParseControl(%q) error = %v, want ErrUnsupportedControl", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseControl(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseControl(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestControlKindAndRange(t *testing.T) {
	tests := []struct {
		ctrl   Control
		kind   Kind
		lo, hi int
		vcp    byte
	}{
		{Brightness, KindContinuous, 0, 100, 0x10},
		{Contrast, KindContinuous, 0, 100, 0x12},
		{InputSource, KindEnumerated, 0, 255, 0x60},
	}

	for _, tt := range tests {
		t.Run(tt.ctrl.String(), func(t *testing.T) {
			if got := tt.ctrl.Kind(); got != tt.kind {
				t.Errorf("Kind() = %q, want %q", got, tt.kind)
			}
			lo, hi := tt.ctrl.Range()
			if lo != tt.lo || hi != tt.hi {
				t.Errorf("Range() = (%d, %d), want (%d, %d)", lo, hi, tt.lo, tt.hi)
			}
			if got := tt.ctrl.VCPCode(); got != tt.vcp {
				t.Errorf("VCPCode() = 0x%02x, want 0x%02x", got, tt.vcp)
			}
		})
	}
}

func TestControlsReturnsCopy(t *testing.T) {
	c := Controls()
	c[0] = "mutated"
	if Controls()[0] != Brightness {
		t.Error("Controls() exposed the internal slice")
	}
}

func TestOptionTable(t *testing.T) {
	table := OptionTable{0x11: "HDMI1", 0x0f: "DisplayPort1", 0x12: "HDMI2"}

	codes := table.Codes()
	want := []int{0x0f, 0x11, 0x12}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("Codes()[%d] = %d, want %d", i, codes[i], want[i])
		}
	}

	if l, ok := table.Label(0x11); !ok || l != "HDMI1" {
		t.Errorf("Label(0x11) = (%q, %v), want (HDMI1, true)", l, ok)
	}
	if _, ok := table.Label(0x01); ok {
		t.Error("Label(0x01) ok = true, want false")
	}

	clone := table.Clone()
	clone[0x01] = "VGA1"
	if _, ok := table[0x01]; ok {
		t.Error("Clone() shares storage with the original")
	}

	var empty OptionTable
	if empty.Clone() != nil {
		t.Error("nil.Clone() should be nil")
	}
}

func TestSyncStatusConnectionLabel(t *testing.T) {
	tests := []struct {
		name   string
		status SyncStatus
		want   string
	}{
		{"no cycle yet", SyncStatus{}, "connecting"},
		{"ok", SyncStatus{TotalCycles: 1, LastCycleOK: true}, "connected"},
		{"failed", SyncStatus{TotalCycles: 3, LastError: "display: discovery failure: refused"}, "error: display: discovery failure: refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.ConnectionLabel(); got != tt.want {
				t.Errorf("ConnectionLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateValue(t *testing.T) {
	inputs := OptionTable{0x0f: "DisplayPort1", 0x11: "HDMI1"}

	tests := []struct {
		name    string
		ctrl    Control
		value   int
		options OptionTable
		wantErr error
	}{
		{"brightness low bound", Brightness, 0, nil, nil},
		{"brightness high bound", Brightness, 100, nil, nil},
		{"brightness over", Brightness, 150, nil, ErrInvalidValue},
		{"brightness negative", Brightness, -1, nil, ErrInvalidValue},
		{"contrast mid", Contrast, 50, nil, nil},
		{"input advertised", InputSource, 0x11, inputs, nil},
		{"input not advertised", InputSource, 0x12, inputs, ErrInvalidValue},
		{"input no table", InputSource, 0x12, nil, nil},
		{"input out of byte", InputSource, 256, nil, ErrInvalidValue},
		{"unknown control", Control("volume"), 10, nil, ErrUnsupportedControl},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateValue(tt.ctrl, tt.value, tt.options)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateValue() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateValue() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsTransportClass(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrTransport, true},
		{ErrMalformedResponse, true},
		{ErrUnsupportedControl, false},
		{ErrInvalidValue, false},
		{errors.New("other"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsTransportClass(tt.err); got != tt.want {
			t.Errorf("IsTransportClass(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
