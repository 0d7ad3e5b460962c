// Package register describes device register maps and the bit fields of
// control registers.
package register

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Register is a one-byte register address.
type Register byte

// Map names the registers of a device. It is built once per device type and
// never mutated afterwards.
type Map map[string]Register

var (
	ErrUnknownRegister = errors.New("unknown register")
	ErrUnknownField    = errors.New("unknown field")
	ErrFieldOverflow   = errors.New("value does not fit field")
	ErrFieldOverlap    = errors.New("overlapping fields")
	ErrFieldRange      = errors.New("field outside register")
)

func (m Map) Lookup(name string) (Register, error) {
	r, ok := m[strings.ToUpper(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	return r, nil
}

// Names returns register names ordered by address.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if m[names[i]] == m[names[j]] {
			return names[i] < names[j]
		}
		return m[names[i]] < m[names[j]]
	})
	return names
}
