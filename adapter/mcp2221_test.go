package adapter

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sensorhub"
	"github.com/mklimuk/sensorhub/bus"
	"github.com/mklimuk/sensorhub/environment"
)

// fakeBridge answers HID reports the way the MCP2221 firmware does, with one
// ST-style register file behind it.
type fakeBridge struct {
	addr     byte
	regs     [256]byte
	ptr      byte
	pending  int
	divider  byte
	busy     bool
	readFail bool
	closes   int
	requests [][]byte
	resp     []byte
}

func (b *fakeBridge) Write(req []byte) (int, error) {
	b.requests = append(b.requests, append([]byte(nil), req...))
	b.resp = make([]byte, reportSize)
	b.resp[0] = req[0]
	n := int(binary.LittleEndian.Uint16(req[1:3]))
	switch req[0] {
	case cmdWriteData, cmdWriteNoStop:
		if b.busy {
			b.resp[1] = 0x01
			break
		}
		if req[3]>>1 != b.addr || n == 0 {
			break
		}
		b.ptr = req[4]
		for _, v := range req[5 : 4+n] {
			b.regs[b.ptr] = v
			b.ptr++
		}
	case cmdReadData, cmdReadRepeatStart:
		b.pending = n
	case cmdGetI2CData:
		if b.readFail {
			b.resp[1] = 0x41
			break
		}
		b.resp[3] = byte(b.pending)
		for i := 0; i < b.pending; i++ {
			b.resp[4+i] = b.regs[b.ptr]
			b.ptr++
		}
		b.pending = 0
	case cmdStatus:
		if req[3] == subSetSpeed {
			b.divider = req[4]
			b.resp[3] = subSetSpeed
		}
		b.resp[14] = b.divider
		b.resp[16] = b.addr << 1
	}
	return len(req), nil
}

func (b *fakeBridge) Read(resp []byte) (int, error) {
	return copy(resp, b.resp), nil
}

func (b *fakeBridge) Close() error {
	b.closes++
	return nil
}

func newBridge(addr byte) (*fakeBridge, *MCP2221) {
	fb := &fakeBridge{addr: addr}
	return fb, NewMCP2221WithOpener(func() (Device, error) { return fb, nil }, 0)
}

func TestMCP2221_WriteRead(t *testing.T) {
	fb, m := newBridge(0x5D)
	fb.regs[0x0F] = 0xB3
	ctx := context.Background()

	buf := make([]byte, 1)
	require.NoError(t, m.Tx(ctx, 0x5D, []byte{0x0F}, buf))
	assert.Equal(t, byte(0xB3), buf[0])
	require.Len(t, fb.requests, 3)
	assert.Equal(t, byte(cmdWriteNoStop), fb.requests[0][0])
	assert.Equal(t, byte(0x5D<<1), fb.requests[0][3])
	assert.Equal(t, byte(cmdReadRepeatStart), fb.requests[1][0])
	assert.Equal(t, byte(0x5D<<1+1), fb.requests[1][3])
	assert.Equal(t, byte(cmdGetI2CData), fb.requests[2][0])
	assert.Equal(t, 3, fb.closes)

	require.NoError(t, m.WriteToAddr(ctx, 0x5D, []byte{0x10, 0x48}))
	assert.Equal(t, byte(0x48), fb.regs[0x10])
	assert.Equal(t, byte(cmdWriteData), fb.requests[3][0])
}

func TestMCP2221_Busy(t *testing.T) {
	fb, m := newBridge(0x5D)
	fb.busy = true
	err := m.WriteToAddr(context.Background(), 0x5D, []byte{0x10, 0x48})
	assert.ErrorIs(t, err, sensorhub.ErrBusBusy)
	assert.True(t, sensorhub.IsTransient(err))
}

func TestMCP2221_ReadFailure(t *testing.T) {
	fb, m := newBridge(0x5D)
	fb.readFail = true
	err := m.Tx(context.Background(), 0x5D, []byte{0x28}, make([]byte, 3))
	assert.ErrorIs(t, err, sensorhub.ErrTransport)
}

func TestMCP2221_TooLong(t *testing.T) {
	_, m := newBridge(0x5D)
	err := m.Tx(context.Background(), 0x5D, []byte{0x28}, make([]byte, 61))
	assert.Error(t, err)
}

func TestMCP2221_DeviceNotFound(t *testing.T) {
	m := NewMCP2221WithOpener(func() (Device, error) { return nil, ErrDeviceNotFound }, 0)
	err := m.Tx(context.Background(), 0x5D, []byte{0x0F}, make([]byte, 1))
	assert.True(t, errors.Is(err, ErrDeviceNotFound))
}

func TestMCP2221_StatusAndSpeed(t *testing.T) {
	fb, m := newBridge(0x1E)
	ctx := context.Background()
	require.NoError(t, m.SetSpeed(ctx, 100*physic.KiloHertz))
	assert.Equal(t, byte(117), fb.divider)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 117, status.I2CSpeedDivider)
	assert.Equal(t, "3c00", status.CurrentAddress)

	assert.Error(t, m.SetSpeed(ctx, 0))

	// slowest clock the one byte divider can express
	require.NoError(t, m.SetSpeed(ctx, 47*physic.KiloHertz))
	assert.Equal(t, byte(252), fb.divider)

	requests := len(fb.requests)
	assert.Error(t, m.SetSpeed(ctx, 10*physic.KiloHertz))
	assert.Error(t, m.SetSpeed(ctx, 4*physic.MegaHertz))
	assert.Len(t, fb.requests, requests, "rejected speeds must not reach the bridge")
	assert.Equal(t, byte(252), fb.divider)
}

func TestMCP2221_Release(t *testing.T) {
	fb, m := newBridge(0x1E)
	require.NoError(t, m.Release(context.Background()))
	last := fb.requests[len(fb.requests)-1]
	assert.Equal(t, byte(cmdStatus), last[0])
	assert.Equal(t, byte(subCancel), last[2])
}

func TestMCP2221_Driver(t *testing.T) {
	fb, m := newBridge(environment.Address)
	fb.regs[0x0F] = environment.Identity
	copy(fb.regs[0x28:], []byte{0x00, 0x40, 0x06, 0xC4, 0x09})
	baro := environment.New(bus.NewHandle(m))
	ctx := context.Background()

	require.NoError(t, baro.Configure(ctx))
	assert.Equal(t, byte(0x48), fb.regs[0x10])
	assert.Equal(t, byte(0x12), fb.regs[0x11])

	p, err := baro.GetPressure(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000.0, p, 1e-9)
}
