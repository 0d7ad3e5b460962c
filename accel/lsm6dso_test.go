package accel

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sensorhub/bus"
	"github.com/mklimuk/sensorhub/bus/bustest"
)

func setup(t *testing.T, opts ...Option) (*bustest.Device, *LSM6DSO) {
	t.Helper()
	wire := bustest.NewWire()
	dev := bustest.NewDevice(map[byte]byte{byte(regWhoAmI): Identity})
	wire.Attach(Address, dev)
	m, err := New(bus.NewHandle(wire), opts...)
	require.NoError(t, err)
	return dev, m
}

func TestLSM6DSO_ConfigureRanges(t *testing.T) {
	tests := []struct {
		accel AccelRange
		gyro  GyroRange
		xl    byte
		g     byte
	}{
		{Range2G, Range250DPS, 0x40, 0x40},
		{Range16G, Range125DPS, 0x44, 0x42},
		{Range4G, Range500DPS, 0x48, 0x44},
		{Range8G, Range1000DPS, 0x4C, 0x48},
		{Range2G, Range2000DPS, 0x40, 0x4C},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%dg/%ddps", test.accel, test.gyro), func(t *testing.T) {
			dev, m := setup(t, WithAccel(ODR104Hz, test.accel), WithGyro(ODR104Hz, test.gyro))
			require.NoError(t, m.Configure(context.Background()))
			assert.Equal(t, byte(0x44), dev.Get(byte(regCtrl3C)), "BDU and IF_INC")
			assert.Equal(t, test.xl, dev.Get(byte(regCtrl1XL)))
			assert.Equal(t, test.g, dev.Get(byte(regCtrl2G)))
		})
	}
}

func TestDescriptor_UnsupportedRange(t *testing.T) {
	_, err := Descriptor(WithAccel(ODR104Hz, 3))
	assert.Error(t, err)
	_, err = Descriptor(WithGyro(ODR104Hz, 4000))
	assert.Error(t, err)
	_, err = New(nil, WithGyro(ODR52Hz, 0))
	assert.Error(t, err)
}

func TestDescriptor_Valid(t *testing.T) {
	desc, err := Descriptor(WithAccel(ODR6667Hz, Range16G), WithGyro(ODR12Hz5, Range125DPS))
	require.NoError(t, err)
	assert.NoError(t, desc.Validate())
}

func TestLSM6DSO_Sample(t *testing.T) {
	dev, m := setup(t)
	// temperature +256 LSB, gyro x=1000 y=-1000 z=0, accel x=0 y=0 z=16393
	dev.Set(byte(regOutTemp), 0x00, 0x01)
	dev.Set(byte(regOutXG), 0xE8, 0x03, 0x18, 0xFC, 0x00, 0x00)
	dev.Set(byte(regOutXA), 0x00, 0x00, 0x00, 0x00, 0x09, 0x40)

	r, err := m.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, r.Values, 7)

	temp, ok := r.Get("temperature", "t")
	require.True(t, ok)
	assert.InDelta(t, 26.0, temp.Value, 1e-9)

	gyro, ok := r.Vector("gyro")
	require.True(t, ok)
	assert.InDelta(t, 8.75, gyro[0], 1e-9)
	assert.InDelta(t, -8.75, gyro[1], 1e-9)
	assert.InDelta(t, 0.0, gyro[2], 1e-9)

	acc, ok := r.Vector("accel")
	require.True(t, ok)
	assert.InDelta(t, 0.999973, acc[2], 1e-9)
}

func TestLSM6DSO_Motion(t *testing.T) {
	dev, m := setup(t, WithGyro(ODR104Hz, Range125DPS), WithAccel(ODR104Hz, Range16G))
	dev.Set(byte(regOutXG), 0xE8, 0x03, 0x00, 0x00, 0x00, 0x00)
	dev.Set(byte(regOutXA), 0xE8, 0x03, 0x00, 0x00, 0x00, 0x00)
	gyro, acc, err := m.Motion(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 4.375, gyro[0], 1e-9)
	assert.InDelta(t, 0.488, acc[0], 1e-9)
}

func TestLSM6DSO_Status(t *testing.T) {
	dev, m := setup(t)
	dev.Set(byte(regStatus), 0b0000_0101)
	flags, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, flags["XLDA"])
	assert.False(t, flags["GDA"])
	assert.True(t, flags["TDA"])
}

func TestParseODR(t *testing.T) {
	tests := []struct {
		given    physic.Frequency
		expected ODR
	}{
		{12500 * physic.MilliHertz, ODR12Hz5},
		{104 * physic.Hertz, ODR104Hz},
		{150 * physic.Hertz, ODR104Hz},
		{10 * physic.KiloHertz, ODR6667Hz},
	}
	for _, test := range tests {
		t.Run(test.given.String(), func(t *testing.T) {
			got, err := ParseODR(test.given)
			require.NoError(t, err)
			assert.Equal(t, test.expected, got)
		})
	}
	_, err := ParseODR(10 * physic.Hertz)
	assert.Error(t, err)
}
