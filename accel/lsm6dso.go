// Package accel drives the ST LSM6DSO inertial module (accelerometer and
// gyroscope).
package accel

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sensorhub/bus"
	"github.com/mklimuk/sensorhub/decode"
	"github.com/mklimuk/sensorhub/device"
	"github.com/mklimuk/sensorhub/register"
)

const (
	Address  = 0x6B
	Identity = 0x6C
)

const (
	regFuncCfg  register.Register = 0x01
	regInt1Ctrl register.Register = 0x0D
	regInt2Ctrl register.Register = 0x0E
	regWhoAmI   register.Register = 0x0F
	regCtrl1XL  register.Register = 0x10
	regCtrl2G   register.Register = 0x11
	regCtrl3C   register.Register = 0x12
	regCtrl4C   register.Register = 0x13
	regCtrl5C   register.Register = 0x14
	regCtrl6C   register.Register = 0x15
	regCtrl7G   register.Register = 0x16
	regCtrl8XL  register.Register = 0x17
	regStatus   register.Register = 0x1E
	regOutTemp  register.Register = 0x20
	regOutXG    register.Register = 0x22
	regOutXA    register.Register = 0x28
)

// ODR is the output data rate code shared by CTRL1_XL and CTRL2_G.
type ODR byte

const (
	ODRPowerDown ODR = iota
	ODR12Hz5
	ODR26Hz
	ODR52Hz
	ODR104Hz
	ODR208Hz
	ODR416Hz
	ODR833Hz
	ODR1666Hz
	ODR3332Hz
	ODR6667Hz
)

var odrRates = []physic.Frequency{0, 12500 * physic.MilliHertz, 26 * physic.Hertz, 52 * physic.Hertz,
	104 * physic.Hertz, 208 * physic.Hertz, 416 * physic.Hertz, 833 * physic.Hertz, 1666 * physic.Hertz,
	3332 * physic.Hertz, 6667 * physic.Hertz}

func (o ODR) String() string {
	if o == ODRPowerDown {
		return "power-down"
	}
	if int(o) < len(odrRates) {
		return odrRates[o].String()
	}
	return fmt.Sprintf("ODR(%d)", byte(o))
}

// ParseODR maps a frequency to the closest rate not above it.
func ParseODR(f physic.Frequency) (ODR, error) {
	for i := len(odrRates) - 1; i > 0; i-- {
		if f >= odrRates[i] {
			return ODR(i), nil
		}
	}
	return 0, fmt.Errorf("lsm6dso: unsupported output data rate %s", f)
}

// AccelRange is the accelerometer full scale in g.
type AccelRange int

const (
	Range2G  AccelRange = 2
	Range4G  AccelRange = 4
	Range8G  AccelRange = 8
	Range16G AccelRange = 16
)

// fs is the FS_XL code and sensitivity in g per LSB
func (r AccelRange) fs() (code byte, sensitivity float64, err error) {
	switch r {
	case Range2G:
		return 0b00, 0.061e-3, nil
	case Range16G:
		return 0b01, 0.488e-3, nil
	case Range4G:
		return 0b10, 0.122e-3, nil
	case Range8G:
		return 0b11, 0.244e-3, nil
	}
	return 0, 0, fmt.Errorf("lsm6dso: unsupported accelerometer range ±%dg", int(r))
}

// GyroRange is the gyroscope full scale in degrees per second.
type GyroRange int

const (
	Range125DPS  GyroRange = 125
	Range250DPS  GyroRange = 250
	Range500DPS  GyroRange = 500
	Range1000DPS GyroRange = 1000
	Range2000DPS GyroRange = 2000
)

// fs returns the FS_G code, whether FS_125 must be set and the sensitivity in
// dps per LSB.
func (r GyroRange) fs() (code byte, fs125 bool, sensitivity float64, err error) {
	switch r {
	case Range125DPS:
		return 0, true, 4.375e-3, nil
	case Range250DPS:
		return 0b00, false, 8.75e-3, nil
	case Range500DPS:
		return 0b01, false, 17.5e-3, nil
	case Range1000DPS:
		return 0b10, false, 35e-3, nil
	case Range2000DPS:
		return 0b11, false, 70e-3, nil
	}
	return 0, false, 0, fmt.Errorf("lsm6dso: unsupported gyroscope range ±%ddps", int(r))
}

var ctrl1XL = register.Layout{
	Name:     "CTRL1_XL",
	Register: regCtrl1XL,
	Fields: []register.Field{
		register.Bits("ODR_XL", 7, 4),
		register.Bits("FS_XL", 3, 2),
		register.Flag("LPF2_XL_EN", 1),
	},
}

var ctrl2G = register.Layout{
	Name:     "CTRL2_G",
	Register: regCtrl2G,
	Fields: []register.Field{
		register.Bits("ODR_G", 7, 4),
		register.Bits("FS_G", 3, 2),
		register.Flag("FS_125", 1),
	},
}

var ctrl3C = register.Layout{
	Name:     "CTRL3_C",
	Register: regCtrl3C,
	Fields: []register.Field{
		register.Flag("BOOT", 7),
		register.Flag("BDU", 6),
		register.Flag("H_LACTIVE", 5),
		register.Flag("PP_OD", 4),
		register.Flag("SIM", 3),
		register.Flag("IF_INC", 2),
		register.Flag("SW_RESET", 0),
	},
}

var status = register.Layout{
	Name:     "STATUS_REG",
	Register: regStatus,
	Fields: []register.Field{
		register.Flag("TDA", 2),
		register.Flag("GDA", 1),
		register.Flag("XLDA", 0),
	},
}

type options struct {
	accelODR   ODR
	gyroODR    ODR
	accelRange AccelRange
	gyroRange  GyroRange
}

type Option func(*options)

// WithAccel sets the accelerometer data rate and full scale (104 Hz, ±2 g by default).
func WithAccel(odr ODR, r AccelRange) Option {
	return func(o *options) {
		o.accelODR = odr
		o.accelRange = r
	}
}

// WithGyro sets the gyroscope data rate and full scale (104 Hz, ±250 dps by default).
func WithGyro(odr ODR, r GyroRange) Option {
	return func(o *options) {
		o.gyroODR = odr
		o.gyroRange = r
	}
}

// Descriptor fails only for unsupported ranges.
func Descriptor(opts ...Option) (device.Descriptor, error) {
	o := options{accelODR: ODR104Hz, gyroODR: ODR104Hz, accelRange: Range2G, gyroRange: Range250DPS}
	for _, opt := range opts {
		opt(&o)
	}
	fsXL, accelSens, err := o.accelRange.fs()
	if err != nil {
		return device.Descriptor{}, err
	}
	fsG, fs125, gyroSens, err := o.gyroRange.fs()
	if err != nil {
		return device.Descriptor{}, err
	}
	gyroSettings := []register.Setting{register.Set("ODR_G", byte(o.gyroODR)), register.Set("FS_G", fsG)}
	if fs125 {
		gyroSettings = append(gyroSettings, register.On("FS_125"))
	}
	return device.Descriptor{
		Name:             "lsm6dso",
		Address:          Address,
		IdentityRegister: regWhoAmI,
		Identity:         Identity,
		Registers: register.Map{
			"FUNC_CFG_ACCESS": regFuncCfg,
			"INT1_CTRL":       regInt1Ctrl,
			"INT2_CTRL":       regInt2Ctrl,
			"WHO_AM_I":        regWhoAmI,
			"CTRL1_XL":        regCtrl1XL,
			"CTRL2_G":         regCtrl2G,
			"CTRL3_C":         regCtrl3C,
			"CTRL4_C":         regCtrl4C,
			"CTRL5_C":         regCtrl5C,
			"CTRL6_C":         regCtrl6C,
			"CTRL7_G":         regCtrl7G,
			"CTRL8_XL":        regCtrl8XL,
			"STATUS_REG":      regStatus,
			"OUT_TEMP_L":      regOutTemp,
			"OUTX_L_G":        regOutXG,
			"OUTX_L_A":        regOutXA,
		},
		Controls: []device.Control{
			{
				Layout:   ctrl3C,
				Settings: []register.Setting{register.On("BDU"), register.On("IF_INC")},
			},
			{
				Layout:   ctrl1XL,
				Settings: []register.Setting{register.Set("ODR_XL", byte(o.accelODR)), register.Set("FS_XL", fsXL)},
			},
			{Layout: ctrl2G, Settings: gyroSettings},
		},
		Groups: []device.Group{
			{
				Name:     "temperature",
				Start:    regOutTemp,
				Channels: []device.Channel{{Quantity: "t", Unit: device.Celsius, Width: decode.Width16, Scale: 1.0 / 256, Offset: 25}},
			},
			{
				Name:  "gyro",
				Start: regOutXG,
				Channels: []device.Channel{
					{Quantity: "x", Unit: device.DegreesPerSecond, Width: decode.Width16, Scale: gyroSens},
					{Quantity: "y", Unit: device.DegreesPerSecond, Width: decode.Width16, Scale: gyroSens},
					{Quantity: "z", Unit: device.DegreesPerSecond, Width: decode.Width16, Scale: gyroSens},
				},
			},
			{
				Name:  "accel",
				Start: regOutXA,
				Channels: []device.Channel{
					{Quantity: "x", Unit: device.StandardGravity, Width: decode.Width16, Scale: accelSens},
					{Quantity: "y", Unit: device.StandardGravity, Width: decode.Width16, Scale: accelSens},
					{Quantity: "z", Unit: device.StandardGravity, Width: decode.Width16, Scale: accelSens},
				},
			},
		},
		Status: &status,
	}, nil
}

// LSM6DSO is an inertial module driver sharing a bus handle with other sensors.
type LSM6DSO struct {
	*device.Driver
}

func New(h *bus.Handle, opts ...Option) (*LSM6DSO, error) {
	desc, err := Descriptor(opts...)
	if err != nil {
		return nil, err
	}
	return &LSM6DSO{Driver: device.New(h, desc)}, nil
}

// Motion reads the angular rate (dps) and acceleration (g) vectors. The two
// vectors come from separate bus acquisitions.
func (m *LSM6DSO) Motion(ctx context.Context) (gyro, accel [3]float64, err error) {
	groups := m.Descriptor().Groups
	if gyro, err = m.vector(ctx, groups[1]); err != nil {
		return
	}
	accel, err = m.vector(ctx, groups[2])
	return
}

func (m *LSM6DSO) vector(ctx context.Context, g device.Group) ([3]float64, error) {
	var out [3]float64
	values, err := m.SampleGroup(ctx, g)
	if err != nil {
		return out, err
	}
	for i := range out {
		out[i] = values[i].Value
	}
	return out, nil
}
