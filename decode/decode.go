// Package decode turns raw little-endian register runs into physical values.
package decode

import (
	"errors"
	"fmt"
)

// Width is the bit width of a two's-complement output register run.
type Width uint8

const (
	Width16 Width = 16
	Width24 Width = 24
)

var (
	ErrWidth       = errors.New("unsupported raw width")
	ErrShortBuffer = errors.New("raw buffer too short")
)

// Bytes returns the number of bytes occupied by a value of this width.
func (w Width) Bytes() int {
	return int(w) / 8
}

func (w Width) valid() bool {
	return w == Width16 || w == Width24
}

// Signed assembles the first w.Bytes() bytes of raw, least significant byte
// first, and sign-extends the result from bit w-1.
func Signed(raw []byte, w Width) (int32, error) {
	if !w.valid() {
		return 0, fmt.Errorf("%w: %d", ErrWidth, w)
	}
	n := w.Bytes()
	if len(raw) < n {
		return 0, fmt.Errorf("%w: need %d bytes, got %d", ErrShortBuffer, n, len(raw))
	}
	var u uint32
	for i := n - 1; i >= 0; i-- {
		u = u<<8 | uint32(raw[i])
	}
	shift := 32 - uint(w)
	return int32(u<<shift) >> shift, nil
}

// Value decodes raw and applies value = signed*scale + offset.
func Value(raw []byte, w Width, scale, offset float64) (float64, error) {
	s, err := Signed(raw, w)
	if err != nil {
		return 0, err
	}
	return Scale(s, scale, offset), nil
}

func Scale(raw int32, scale, offset float64) float64 {
	return float64(raw)*scale + offset
}
