package display

import "fmt"

// ValidateValue checks value against the control's declared range and,
// for enumerated controls with a non-empty option table, against the
// table's codes.
func ValidateValue(c Control, value int, options OptionTable) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedControl, c)
	}

	lo, hi := c.Range()
	if value < lo || value > hi {
		return fmt.Errorf("%w: %s must be %d-%d, got %d", ErrInvalidValue, c, lo, hi, value)
	}

	if c.Kind() == KindEnumerated && len(options) > 0 {
		if _, ok := options[value]; !ok {
			return fmt.Errorf("%w: %s code 0x%02x is not an advertised option", ErrInvalidValue, c, value)
		}
	}

	return nil
}
