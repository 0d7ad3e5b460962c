// Package device implements the register protocol shared by the ST sensors
// on the bus: identify, configure and sample, driven entirely by a
// Descriptor.
package device

import (
	"errors"
	"fmt"

	"github.com/mklimuk/sensorhub/decode"
	"github.com/mklimuk/sensorhub/register"
)

// Unit names the physical unit of a decoded value.
type Unit string

const (
	Gauss            Unit = "G"
	Celsius          Unit = "°C"
	Pascal           Unit = "Pa"
	DegreesPerSecond Unit = "dps"
	StandardGravity  Unit = "g"
)

var ErrInvalidDescriptor = errors.New("invalid device descriptor")

// Channel is one value inside an output group.
type Channel struct {
	Quantity string
	Unit     Unit
	Width    decode.Width
	Scale    float64
	Offset   float64
}

// Group is a run of consecutive output registers read in one transaction.
type Group struct {
	Name     string
	Start    register.Register
	Channels []Channel
}

// Len is the number of bytes read for the group.
func (g Group) Len() int {
	n := 0
	for _, c := range g.Channels {
		n += c.Width.Bytes()
	}
	return n
}

// Control is a control register together with the field values Configure
// writes to it.
type Control struct {
	Layout   register.Layout
	Settings []register.Setting
}

// Value composes the register byte.
func (c Control) Value() (byte, error) {
	return c.Layout.Compose(c.Settings...)
}

// Descriptor is the immutable description of one sensor type.
type Descriptor struct {
	Name             string
	Address          byte
	IdentityRegister register.Register
	Identity         byte
	Registers        register.Map
	Controls         []Control
	Groups           []Group
	// Status is optional.
	Status *register.Layout
}

// Validate checks the layouts, settings and groups of the descriptor.
func (d Descriptor) Validate() error {
	if d.Address > 0x7F {
		return fmt.Errorf("%w: %s: address %#x is not 7-bit", ErrInvalidDescriptor, d.Name, d.Address)
	}
	for _, c := range d.Controls {
		if err := c.Layout.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidDescriptor, d.Name, err)
		}
		if _, err := c.Value(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidDescriptor, d.Name, err)
		}
	}
	if d.Status != nil {
		if err := d.Status.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidDescriptor, d.Name, err)
		}
	}
	if len(d.Groups) == 0 {
		return fmt.Errorf("%w: %s: no output groups", ErrInvalidDescriptor, d.Name)
	}
	for _, g := range d.Groups {
		if len(g.Channels) == 0 {
			return fmt.Errorf("%w: %s: group %s has no channels", ErrInvalidDescriptor, d.Name, g.Name)
		}
		for _, c := range g.Channels {
			if c.Width != decode.Width16 && c.Width != decode.Width24 {
				return fmt.Errorf("%w: %s: %s.%s: %w", ErrInvalidDescriptor, d.Name, g.Name, c.Quantity, decode.ErrWidth)
			}
		}
	}
	return nil
}
