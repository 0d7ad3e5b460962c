package i2c

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gi2c "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/sensorhub"
	"github.com/mklimuk/sensorhub/bus"
	"github.com/mklimuk/sensorhub/magnetic"
)

// fakeConnection is a register file addressed through gobot calls.
type fakeConnection struct {
	regs   [256]byte
	ptr    byte
	closed bool
	err    error
	blocks int
}

func (c *fakeConnection) Read(b []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	for i := range b {
		b[i] = c.regs[c.ptr]
		c.ptr++
	}
	return len(b), nil
}

func (c *fakeConnection) Write(b []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if len(b) == 0 {
		return 0, nil
	}
	c.ptr = b[0]
	for _, v := range b[1:] {
		c.regs[c.ptr] = v
		c.ptr++
	}
	return len(b), nil
}

func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConnection) ReadByte() (byte, error) {
	b := make([]byte, 1)
	_, err := c.Read(b)
	return b[0], err
}

func (c *fakeConnection) ReadByteData(reg uint8) (uint8, error) {
	c.ptr = reg
	return c.ReadByte()
}

func (c *fakeConnection) ReadWordData(reg uint8) (uint16, error) {
	b := make([]byte, 2)
	err := c.ReadBlockData(reg, b)
	return uint16(b[0]) | uint16(b[1])<<8, err
}

func (c *fakeConnection) ReadBlockData(reg uint8, b []byte) error {
	c.blocks++
	c.ptr = reg
	_, err := c.Read(b)
	return err
}

func (c *fakeConnection) WriteByte(val byte) error {
	_, err := c.Write([]byte{val})
	return err
}

func (c *fakeConnection) WriteByteData(reg uint8, val uint8) error {
	_, err := c.Write([]byte{reg, val})
	return err
}

func (c *fakeConnection) WriteWordData(reg uint8, val uint16) error {
	_, err := c.Write([]byte{reg, byte(val), byte(val >> 8)})
	return err
}

func (c *fakeConnection) WriteBlockData(reg uint8, b []byte) error {
	_, err := c.Write(append([]byte{reg}, b...))
	return err
}

func (c *fakeConnection) WriteBytes(b []byte) error {
	_, err := c.Write(b)
	return err
}

type fakeConnector struct {
	conns  map[int]*fakeConnection
	opened []int
	busNr  int
}

func (f *fakeConnector) GetI2cConnection(address int, busNr int) (gi2c.Connection, error) {
	f.busNr = busNr
	c, ok := f.conns[address]
	if !ok {
		return nil, errors.New("no such device")
	}
	f.opened = append(f.opened, address)
	return c, nil
}

func (f *fakeConnector) DefaultI2cBus() int {
	return 2
}

func TestGobotBus_Driver(t *testing.T) {
	mag := &fakeConnection{}
	mag.regs[0x4F] = magnetic.Identity
	copy(mag.regs[0x68:], []byte{0xE8, 0x03, 0x18, 0xFC, 0x00, 0x00, 0x64, 0x00})
	connector := &fakeConnector{conns: map[int]*fakeConnection{magnetic.Address: mag}}
	gb := NewGobotBus(connector, -1)
	m := magnetic.New(bus.NewHandle(gb))
	ctx := context.Background()

	ok, err := m.Identify(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Configure(ctx))
	assert.Equal(t, byte(0x8C), mag.regs[0x60])

	r, err := m.Sample(ctx)
	require.NoError(t, err)
	field, ok := r.Vector("field")
	require.True(t, ok)
	assert.InDelta(t, -1.5, field[1], 1e-9)

	assert.Equal(t, 2, connector.busNr)
	assert.Equal(t, []int{magnetic.Address}, connector.opened, "one connection per address")
	assert.Equal(t, 5, mag.blocks)

	require.NoError(t, gb.Close())
	assert.True(t, mag.closed)
}

func TestGobotBus_Errors(t *testing.T) {
	conn := &fakeConnection{err: errors.New("remote I/O error")}
	gb := NewGobotBus(&fakeConnector{conns: map[int]*fakeConnection{0x5D: conn}}, 1)
	ctx := context.Background()

	err := gb.Tx(ctx, 0x5D, []byte{0x0F}, make([]byte, 1))
	assert.ErrorIs(t, err, sensorhub.ErrTransport)

	err = gb.Tx(ctx, 0x1E, []byte{0x4F}, make([]byte, 1))
	assert.ErrorIs(t, err, sensorhub.ErrTransport)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, gb.WriteToAddr(cancelled, 0x5D, []byte{0x10, 0x00}), sensorhub.ErrTimeout)
}

func TestGobotBus_LongRead(t *testing.T) {
	conn := &fakeConnection{}
	for i := range conn.regs {
		conn.regs[i] = byte(i)
	}
	gb := NewGobotBus(&fakeConnector{conns: map[int]*fakeConnection{0x6B: conn}}, 1)
	r := make([]byte, 40)
	require.NoError(t, gb.Tx(context.Background(), 0x6B, []byte{0x10}, r))
	assert.Equal(t, byte(0x10), r[0])
	assert.Equal(t, byte(0x37), r[39])
	assert.Equal(t, 0, conn.blocks)
}
