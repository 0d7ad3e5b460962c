// Package magnetic drives the ST LIS2MDL 3-axis magnetometer.
package magnetic

import (
	"context"
	"fmt"
	"math"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sensorhub/bus"
	"github.com/mklimuk/sensorhub/decode"
	"github.com/mklimuk/sensorhub/device"
	"github.com/mklimuk/sensorhub/register"
)

const (
	Address  = 0x1E
	Identity = 0x40
)

const (
	regOffsetXL register.Register = 0x45
	regWhoAmI   register.Register = 0x4F
	regCfgA     register.Register = 0x60
	regCfgB     register.Register = 0x61
	regCfgC     register.Register = 0x62
	regIntCtrl  register.Register = 0x63
	regIntSrc   register.Register = 0x64
	regStatus   register.Register = 0x67
	regOutX     register.Register = 0x68
	regTempOut  register.Register = 0x6E
)

// sensitivity in gauss per LSB
const sensitivity = 0.0015

// ODR is the output data rate code of CFG_REG_A.
type ODR byte

const (
	ODR10Hz ODR = iota
	ODR20Hz
	ODR50Hz
	ODR100Hz
)

func (o ODR) String() string {
	switch o {
	case ODR10Hz:
		return "10Hz"
	case ODR20Hz:
		return "20Hz"
	case ODR50Hz:
		return "50Hz"
	case ODR100Hz:
		return "100Hz"
	}
	return fmt.Sprintf("ODR(%d)", byte(o))
}

// ParseODR maps a frequency to the closest rate not above it.
func ParseODR(f physic.Frequency) (ODR, error) {
	switch {
	case f >= 100*physic.Hertz:
		return ODR100Hz, nil
	case f >= 50*physic.Hertz:
		return ODR50Hz, nil
	case f >= 20*physic.Hertz:
		return ODR20Hz, nil
	case f >= 10*physic.Hertz:
		return ODR10Hz, nil
	}
	return 0, fmt.Errorf("lis2mdl: unsupported output data rate %s", f)
}

var cfgA = register.Layout{
	Name:     "CFG_REG_A",
	Register: regCfgA,
	Fields: []register.Field{
		register.Flag("COMP_TEMP_EN", 7),
		register.Flag("REBOOT", 6),
		register.Flag("SOFT_RST", 5),
		register.Flag("LP", 4),
		register.Bits("ODR", 3, 2),
		register.Bits("MD", 1, 0),
	},
}

var status = register.Layout{
	Name:     "STATUS_REG",
	Register: regStatus,
	Fields: []register.Field{
		register.Flag("ZYXOR", 7),
		register.Flag("ZOR", 6),
		register.Flag("YOR", 5),
		register.Flag("XOR", 4),
		register.Flag("ZYXDA", 3),
		register.Flag("ZDA", 2),
		register.Flag("YDA", 1),
		register.Flag("XDA", 0),
	},
}

type options struct {
	odr ODR
}

type Option func(*options)

// WithODR overrides the default 100 Hz output data rate.
func WithODR(o ODR) Option {
	return func(opts *options) {
		opts.odr = o
	}
}

// Descriptor describes the magnetometer configured for continuous conversion
// with temperature compensation.
func Descriptor(opts ...Option) device.Descriptor {
	o := options{odr: ODR100Hz}
	for _, opt := range opts {
		opt(&o)
	}
	return device.Descriptor{
		Name:             "lis2mdl",
		Address:          Address,
		IdentityRegister: regWhoAmI,
		Identity:         Identity,
		Registers: register.Map{
			"OFFSET_X_REG_L": regOffsetXL,
			"WHO_AM_I":       regWhoAmI,
			"CFG_REG_A":      regCfgA,
			"CFG_REG_B":      regCfgB,
			"CFG_REG_C":      regCfgC,
			"INT_CTRL_REG":   regIntCtrl,
			"INT_SOURCE_REG": regIntSrc,
			"STATUS_REG":     regStatus,
			"OUTX_L_REG":     regOutX,
			"TEMP_OUT_L_REG": regTempOut,
		},
		Controls: []device.Control{
			{
				Layout: cfgA,
				Settings: []register.Setting{
					register.On("COMP_TEMP_EN"),
					register.Set("ODR", byte(o.odr)),
					// continuous mode
					register.Set("MD", 0b00),
				},
			},
		},
		Groups: []device.Group{
			{
				Name:  "field",
				Start: regOutX,
				Channels: []device.Channel{
					{Quantity: "x", Unit: device.Gauss, Width: decode.Width16, Scale: sensitivity},
					{Quantity: "y", Unit: device.Gauss, Width: decode.Width16, Scale: sensitivity},
					{Quantity: "z", Unit: device.Gauss, Width: decode.Width16, Scale: sensitivity},
				},
			},
			{
				Name:  "temperature",
				Start: regTempOut,
				Channels: []device.Channel{
					{Quantity: "t", Unit: device.Celsius, Width: decode.Width16, Scale: 0.125, Offset: 25},
				},
			},
		},
		Status: &status,
	}
}

// LIS2MDL is a magnetometer driver sharing a bus handle with other sensors.
type LIS2MDL struct {
	*device.Driver
}

func New(h *bus.Handle, opts ...Option) *LIS2MDL {
	return &LIS2MDL{Driver: device.New(h, Descriptor(opts...))}
}

// Field reads the magnetic field vector only.
func (m *LIS2MDL) Field(ctx context.Context) ([3]physic.MagneticFluxDensity, error) {
	var out [3]physic.MagneticFluxDensity
	values, err := m.SampleGroup(ctx, m.Descriptor().Groups[0])
	if err != nil {
		return out, err
	}
	if len(values) != 3 {
		return out, fmt.Errorf("lis2mdl: expected 3 field values, got %d", len(values))
	}
	for i, v := range values {
		out[i] = GaussToFlux(v.Value)
	}
	return out, nil
}

// GaussToFlux converts gauss to periph flux density (1 G = 100 µT).
func GaussToFlux(g float64) physic.MagneticFluxDensity {
	return physic.MagneticFluxDensity(math.Round(g * 100 * float64(physic.MicroTesla)))
}

// Heading returns the compass heading in degrees [0, 360) computed from the
// horizontal components of a field reading. No tilt compensation is applied.
func Heading(field [3]float64) float64 {
	h := math.Atan2(field[1], field[0]) * 180 / math.Pi
	if h < 0 {
		h += 360
	}
	return h
}
