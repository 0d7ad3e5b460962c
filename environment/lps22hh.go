// Package environment drives the ST LPS22HH pressure and temperature sensor.
package environment

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
	Address  = 0x5D
	Identity = 0xB3
)

const (
	regInterruptCfg register.Register = 0x0B
	regIfCtrl       register.Register = 0x0E
	regWhoAmI       register.Register = 0x0F
	regCtrl1        register.Register = 0x10
	regCtrl2        register.Register = 0x11
	regCtrl3        register.Register = 0x12
	regFifoCtrl     register.Register = 0x13
	regStatus       register.Register = 0x27
	regPressOut     register.Register = 0x28
	regTempOut      register.Register = 0x2B
)

const (
	// 4096 LSB per hPa, reported in Pa
	pressureScale = 100.0 / 4096
	// 100 LSB per °C
	temperatureScale = 0.01
)

// ODR is the output data rate code of CTRL_REG1. ODROneShot powers the
// conversion down until a one-shot is triggered.
type ODR byte

const (
	ODROneShot ODR = iota
	ODR1Hz
	ODR10Hz
	ODR25Hz
	ODR50Hz
	ODR75Hz
	ODR100Hz
	ODR200Hz
)

var odrNames = []string{"one-shot", "1Hz", "10Hz", "25Hz", "50Hz", "75Hz", "100Hz", "200Hz"}

func (o ODR) String() string {
	if int(o) < len(odrNames) {
		return odrNames[o]
	}
	return fmt.Sprintf("ODR(%d)", byte(o))
}

var odrRates = []physic.Frequency{0, physic.Hertz, 10 * physic.Hertz, 25 * physic.Hertz, 50 * physic.Hertz,
	75 * physic.Hertz, 100 * physic.Hertz, 200 * physic.Hertz}

// ParseODR maps a frequency to the closest rate not above it.
func ParseODR(f physic.Frequency) (ODR, error) {
	for i := len(odrRates) - 1; i > 0; i-- {
		if f >= odrRates[i] {
			return ODR(i), nil
		}
	}
	return 0, fmt.Errorf("lps22hh: unsupported output data rate %s", f)
}

// LowPass selects the low-pass filter applied to pressure output.
type LowPass byte

const (
	LowPassOff LowPass = iota
	LowPassODR9
	LowPassODR20
)

var ctrl1 = register.Layout{
	Name:     "CTRL_REG1",
	Register: regCtrl1,
	Fields: []register.Field{
		register.Bits("ODR", 6, 4),
		register.Flag("EN_LPFP", 3),
		register.Flag("LPFP_CFG", 2),
		register.Flag("BDU", 1),
		register.Flag("SIM", 0),
	},
}

var ctrl2 = register.Layout{
	Name:     "CTRL_REG2",
	Register: regCtrl2,
	Fields: []register.Field{
		register.Flag("BOOT", 7),
		register.Flag("INT_H_L", 6),
		register.Flag("PP_OD", 5),
		register.Flag("IF_ADD_INC", 4),
		register.Flag("SWRESET", 2),
		register.Flag("LOW_NOISE_EN", 1),
		register.Flag("ONE_SHOT", 0),
	},
}

var status = register.Layout{
	Name:     "STATUS",
	Register: regStatus,
	Fields: []register.Field{
		register.Flag("T_OR", 5),
		register.Flag("P_OR", 4),
		register.Flag("T_DA", 1),
		register.Flag("P_DA", 0),
	},
}

type options struct {
	odr     ODR
	lowPass LowPass
}

type Option func(*options)

// WithODR overrides the default 50 Hz output data rate.
func WithODR(o ODR) Option {
	return func(opts *options) {
		opts.odr = o
	}
}

// WithLowPass overrides the default ODR/9 pressure filter.
func WithLowPass(lp LowPass) Option {
	return func(opts *options) {
		opts.lowPass = lp
	}
}

func Descriptor(opts ...Option) device.Descriptor {
	o := options{odr: ODR50Hz, lowPass: LowPassODR9}
	for _, opt := range opts {
		opt(&o)
	}
	ctrl1Settings := []register.Setting{register.Set("ODR", byte(o.odr))}
	switch o.lowPass {
	case LowPassODR9:
		ctrl1Settings = append(ctrl1Settings, register.On("EN_LPFP"))
	case LowPassODR20:
		ctrl1Settings = append(ctrl1Settings, register.On("EN_LPFP"), register.On("LPFP_CFG"))
	}
	return device.Descriptor{
		Name:             "lps22hh",
		Address:          Address,
		IdentityRegister: regWhoAmI,
		Identity:         Identity,
		Registers: register.Map{
			"INTERRUPT_CFG":   regInterruptCfg,
			"IF_CTRL":         regIfCtrl,
			"WHO_AM_I":        regWhoAmI,
			"CTRL_REG1":       regCtrl1,
			"CTRL_REG2":       regCtrl2,
			"CTRL_REG3":       regCtrl3,
			"FIFO_CTRL":       regFifoCtrl,
			"STATUS":          regStatus,
			"PRESSURE_OUT_XL": regPressOut,
			"TEMP_OUT_L":      regTempOut,
		},
		Controls: []device.Control{
			{Layout: ctrl1, Settings: ctrl1Settings},
			{
				Layout:   ctrl2,
				Settings: []register.Setting{register.On("IF_ADD_INC"), register.On("LOW_NOISE_EN")},
			},
		},
		Groups: []device.Group{
			{
				Name:     "pressure",
				Start:    regPressOut,
				Channels: []device.Channel{{Quantity: "p", Unit: device.Pascal, Width: decode.Width24, Scale: pressureScale}},
			},
			{
				Name:     "temperature",
				Start:    regTempOut,
				Channels: []device.Channel{{Quantity: "t", Unit: device.Celsius, Width: decode.Width16, Scale: temperatureScale}},
			},
		},
		Status: &status,
	}
}

// LPS22HH is a barometer driver sharing a bus handle with other sensors.
type LPS22HH struct {
	*device.Driver
}

func New(h *bus.Handle, opts ...Option) *LPS22HH {
	return &LPS22HH{Driver: device.New(h, Descriptor(opts...))}
}

// GetPressure reads the pressure group and returns Pa.
func (b *LPS22HH) GetPressure(ctx context.Context) (float64, error) {
	return b.single(ctx, 0)
}

// GetTemperature reads the temperature group and returns °C.
func (b *LPS22HH) GetTemperature(ctx context.Context) (float64, error) {
	return b.single(ctx, 1)
}

func (b *LPS22HH) single(ctx context.Context, group int) (float64, error) {
	values, err := b.SampleGroup(ctx, b.Descriptor().Groups[group])
	if err != nil {
		return 0, err
	}
	return values[0].Value, nil
}

// Sense fills the pressure and temperature of env. Humidity is left untouched.
func (b *LPS22HH) Sense(ctx context.Context, env *physic.Env) error {
	r, err := b.Sample(ctx)
	if err != nil {
		return err
	}
	p, ok := r.Get("pressure", "p")
	if !ok {
		return fmt.Errorf("lps22hh: no pressure in reading")
	}
	t, ok := r.Get("temperature", "t")
	if !ok {
		return fmt.Errorf("lps22hh: no temperature in reading")
	}
	env.Pressure = physic.Pressure(math.Round(p.Value * float64(physic.Pascal)))
	env.Temperature = physic.ZeroCelsius + physic.Temperature(math.Round(t.Value*float64(physic.Celsius)))
	return nil
}
