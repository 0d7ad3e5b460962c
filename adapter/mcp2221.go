// Package adapter implements an I2C transport over the Microchip MCP2221
// USB-to-I2C bridge (HID class, 64-byte reports).
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sensorhub"
	"github.com/mklimuk/sensorhub/snsctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

// maxTransfer is the payload a single HID report can carry.
const maxTransfer = 60

const (
	cmdStatus          = 0x10
	cmdGetI2CData      = 0x40
	cmdWriteData       = 0x90
	cmdReadData        = 0x91
	cmdWriteNoStop     = 0x94
	cmdReadRepeatStart = 0x93

	subCancel   = 0x10
	subSetSpeed = 0x20

	// internal clock used for the speed divider
	clock      = 12 * physic.MegaHertz
	maxDivider = 255
)

var ErrDeviceNotFound = errors.New("MCP2221 device not found")

// Device is the part of a HID handle the bridge uses.
type Device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Opener returns a fresh handle to the bridge for one command.
type Opener func() (Device, error)

type MCP2221 struct {
	mx           sync.Mutex
	open         Opener
	request      []byte
	response     []byte
	responseWait time.Duration
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

var _ sensorhub.I2CBus = &MCP2221{}

// NewMCP2221 talks to the first (or index-th) bridge found on USB.
func NewMCP2221(index ...int) *MCP2221 {
	return NewMCP2221WithOpener(EnumerateOpener(index...), 50*time.Millisecond)
}

// NewMCP2221WithOpener lets callers supply the HID handle, mostly for tests.
func NewMCP2221WithOpener(open Opener, responseWait time.Duration) *MCP2221 {
	return &MCP2221{
		open:         open,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: responseWait,
	}
}

// EnumerateOpener finds the bridge by vendor and product id. With several
// bridges attached an index is required.
func EnumerateOpener(index ...int) Opener {
	return func() (Device, error) {
		devs := hid.Enumerate(VendorID, ProductID)
		if len(devs) == 0 {
			return nil, ErrDeviceNotFound
		}
		if len(devs) > 1 && len(index) == 0 {
			return nil, fmt.Errorf("ambiguous device identification: %d bridges found", len(devs))
		}
		i := 0
		if len(index) > 0 {
			i = index[0]
		}
		if i < 0 || i >= len(devs) {
			return nil, fmt.Errorf("no device with id %d", i)
		}
		dev, err := devs[i].Open()
		if err != nil {
			return nil, fmt.Errorf("error opening device: %w", err)
		}
		return dev, nil
	}
}

// Tx writes w and, when r is not empty, reads r after a repeated start.
func (d *MCP2221) Tx(ctx context.Context, address byte, w, r []byte) error {
	if len(w) > maxTransfer || len(r) > maxTransfer {
		return fmt.Errorf("transfer to %#02x exceeds %d bytes", address, maxTransfer)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if len(r) == 0 {
		return d.write(ctx, cmdWriteData, address, w)
	}
	if len(w) > 0 {
		if err := d.write(ctx, cmdWriteNoStop, address, w); err != nil {
			return err
		}
	}
	cmd := byte(cmdReadRepeatStart)
	if len(w) == 0 {
		cmd = cmdReadData
	}
	return d.read(ctx, cmd, address, r)
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return d.Tx(ctx, address, buffer, nil)
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return d.Tx(ctx, address, nil, buffer)
}

func (d *MCP2221) write(ctx context.Context, cmd byte, address byte, buffer []byte) error {
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("write to %#02x failed: %w", address, err)
	}
	// the I2C engine did not accept the command
	if d.response[1] == 0x01 {
		snsctx.Logger(ctx).DebugContext(ctx, "adapter busy", "addr", fmt.Sprintf("%#02x", address))
		return fmt.Errorf("write to %#02x: %w", address, sensorhub.ErrBusBusy)
	}
	return nil
}

func (d *MCP2221) read(ctx context.Context, cmd byte, address byte, buffer []byte) error {
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("bus read from %#02x failed: %w", address, err)
	}
	if d.response[1] == 0x01 {
		return fmt.Errorf("read from %#02x: %w", address, sensorhub.ErrBusBusy)
	}
	d.resetBuffers()
	d.request[0] = cmdGetI2CData
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == 0x41 {
		return fmt.Errorf("%w: error reading the I2C slave data from the I2C engine", sensorhub.ErrTransport)
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("%w: invalid data size byte; expected %d, got %d", sensorhub.ErrTransport, len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:4+len(buffer)])
	return nil
}

// SetSpeed programs the I2C clock divider. The divider is a single byte, so
// the bridge supports clock/258 (about 46.5kHz) up to clock/4.
func (d *MCP2221) SetSpeed(ctx context.Context, f physic.Frequency) error {
	if f <= 0 || f > clock/4 || clock/f-3 > maxDivider {
		return fmt.Errorf("unsupported i2c speed %s (supported %s to %s)", f, clock/(maxDivider+3), clock/4)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[3] = subSetSpeed
	d.request[4] = byte(clock/f - 3)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] != subSetSpeed {
		return fmt.Errorf("speed not set (transfer in progress): %w", sensorhub.ErrBusBusy)
	}
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Release cancels a stuck transfer and frees the bridge's I2C engine.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = subCancel
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context) error {
	dev, err := d.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			snsctx.Logger(ctx).WarnContext(ctx, "could not close adapter handle", "error", err)
		}
	}()
	verbose := snsctx.IsVerbose(ctx)
	logger := snsctx.Logger(ctx)
	if verbose {
		logger.DebugContext(ctx, "sending message to adapter", "report", hex.EncodeToString(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("%w: could not write request: %w", sensorhub.ErrTransport, err)
	}
	if n != reportSize {
		return fmt.Errorf("%w: short write: %d", sensorhub.ErrTransport, n)
	}
	if d.responseWait > 0 {
		select {
		case <-time.After(d.responseWait):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", sensorhub.ErrTimeout, ctx.Err())
		}
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("%w: could not read response: %w", sensorhub.ErrTransport, err)
	}
	if n != reportSize {
		return fmt.Errorf("%w: short read: %d", sensorhub.ErrTransport, n)
	}
	if verbose {
		logger.DebugContext(ctx, "read message from adapter", "report", hex.EncodeToString(d.response))
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("%w: response to command %#02x, expected %#02x", sensorhub.ErrTransport, d.response[0], d.request[0])
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
