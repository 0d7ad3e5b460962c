package device

import (
	"fmt"
	"strings"
)

type Value struct {
	Group    string  `json:"group" yaml:"group"`
	Quantity string  `json:"quantity" yaml:"quantity"`
	Unit     Unit    `json:"unit" yaml:"unit"`
	Value    float64 `json:"value" yaml:"value"`
}

func (v Value) String() string {
	return fmt.Sprintf("%s.%s=%g%s", v.Group, v.Quantity, v.Value, v.Unit)
}

// Reading is the result of one Sample call.
type Reading struct {
	Device string  `json:"device" yaml:"device"`
	Values []Value `json:"values" yaml:"values"`
}

func (r Reading) Get(group, quantity string) (Value, bool) {
	for _, v := range r.Values {
		if v.Group == group && v.Quantity == quantity {
			return v, true
		}
	}
	return Value{}, false
}

// Vector returns the x, y and z channels of a group.
func (r Reading) Vector(group string) ([3]float64, bool) {
	var out [3]float64
	for i, q := range []string{"x", "y", "z"} {
		v, ok := r.Get(group, q)
		if !ok {
			return out, false
		}
		out[i] = v.Value
	}
	return out, true
}

func (r Reading) String() string {
	parts := make([]string, 0, len(r.Values))
	for _, v := range r.Values {
		parts = append(parts, v.String())
	}
	return r.Device + " " + strings.Join(parts, " ")
}
