package register

import (
	"fmt"
	"strings"
)

// Field is a named bit range of a control register: Width bits starting at bit Shift.
type Field struct {
	Name  string
	Shift uint8
	Width uint8
}

// Flag is a single-bit field.
func Flag(name string, bit uint8) Field {
	return Field{Name: name, Shift: bit, Width: 1}
}

// Bits is a field spanning bits hi..lo inclusive, as written in datasheets (e.g. ODR[6:4]).
func Bits(name string, hi, lo uint8) Field {
	return Field{Name: name, Shift: lo, Width: hi - lo + 1}
}

func (f Field) Mask() byte {
	return byte((1<<f.Width)-1) << f.Shift
}

// Max is the largest unshifted value the field can hold.
func (f Field) Max() byte {
	return byte((1 << f.Width) - 1)
}

func (f Field) String() string {
	if f.Width == 1 {
		return fmt.Sprintf("%s[%d]", f.Name, f.Shift)
	}
	return fmt.Sprintf("%s[%d:%d]", f.Name, f.Shift+f.Width-1, f.Shift)
}

// Setting assigns an unshifted value to a named field.
type Setting struct {
	Field string
	Value byte
}

// Set is shorthand for a Setting literal.
func Set(field string, value byte) Setting {
	return Setting{Field: field, Value: value}
}

// On enables a flag.
func On(field string) Setting {
	return Setting{Field: field, Value: 1}
}

// Layout is the field layout of one control register.
type Layout struct {
	Name     string
	Register Register
	Fields   []Field
}

// Validate checks that every field lies inside the byte and that no two fields
// share a bit.
func (l Layout) Validate() error {
	var used byte
	seen := make(map[string]bool, len(l.Fields))
	for _, f := range l.Fields {
		if f.Width == 0 || int(f.Shift)+int(f.Width) > 8 {
			return fmt.Errorf("%s: %w: %s", l.Name, ErrFieldRange, f)
		}
		name := strings.ToUpper(f.Name)
		if seen[name] {
			return fmt.Errorf("%s: duplicate field %s", l.Name, f.Name)
		}
		seen[name] = true
		if used&f.Mask() != 0 {
			return fmt.Errorf("%s: %w: %s shares bits %08b", l.Name, ErrFieldOverlap, f, used&f.Mask())
		}
		used |= f.Mask()
	}
	return nil
}

func (l Layout) Field(name string) (Field, error) {
	for _, f := range l.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, nil
		}
	}
	return Field{}, fmt.Errorf("%s: %w: %s", l.Name, ErrUnknownField, name)
}

// Compose builds the full register byte from settings. Fields not mentioned
// are zero; the result always replaces the whole register.
func (l Layout) Compose(settings ...Setting) (byte, error) {
	var v byte
	for _, s := range settings {
		f, err := l.Field(s.Field)
		if err != nil {
			return 0, err
		}
		if s.Value > f.Max() {
			return 0, fmt.Errorf("%s: %w: %s=%d (max %d)", l.Name, ErrFieldOverflow, f.Name, s.Value, f.Max())
		}
		v |= s.Value << f.Shift
	}
	return v, nil
}

// Decode extracts every field from a register value.
func (l Layout) Decode(v byte) map[string]byte {
	out := make(map[string]byte, len(l.Fields))
	for _, f := range l.Fields {
		out[f.Name] = (v & f.Mask()) >> f.Shift
	}
	return out
}
