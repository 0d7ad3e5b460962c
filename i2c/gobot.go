package i2c

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gi2c "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/sensorhub"
)

// maxBlockRead is the SMBus I2C block transfer limit.
const maxBlockRead = 32

var _ sensorhub.I2CBus = &GobotBus{}

// GobotBus is a transport over a gobot platform adaptor (e.g. NanoPi). One
// gobot connection is opened lazily per device address.
type GobotBus struct {
	connector gi2c.Connector
	busNr     int

	mx    sync.Mutex
	conns map[byte]gi2c.Connection
}

// NewGobotBus uses the adaptor's default bus when busNr is negative.
func NewGobotBus(connector gi2c.Connector, busNr int) *GobotBus {
	if busNr < 0 {
		busNr = connector.DefaultI2cBus()
	}
	return &GobotBus{
		connector: connector,
		busNr:     busNr,
		conns:     make(map[byte]gi2c.Connection),
	}
}

func (b *GobotBus) connection(address byte) (gi2c.Connection, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if c, ok := b.conns[address]; ok {
		return c, nil
	}
	c, err := b.connector.GetI2cConnection(int(address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open connection to %#02x on bus %d: %w", sensorhub.ErrTransport, address, b.busNr, err)
	}
	b.conns[address] = c
	return c, nil
}

// Tx uses an SMBus block read (repeated start) for the common one-byte
// register pointer case. Longer pointers fall back to a write followed by a
// separate read, which ST sensors accept since the pointer is retained.
func (b *GobotBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", sensorhub.ErrTimeout, err)
	}
	c, err := b.connection(address)
	if err != nil {
		return err
	}
	switch {
	case len(r) == 0:
		err = writeAll(c, w)
	case len(w) == 1 && len(r) <= maxBlockRead:
		err = c.ReadBlockData(w[0], r)
	default:
		if err = writeAll(c, w); err == nil {
			err = readAll(c, r)
		}
	}
	if err != nil {
		return fmt.Errorf("i2c transaction with %#02x failed: %w", address, classify(err))
	}
	return nil
}

func writeAll(c gi2c.Connection, w []byte) error {
	if len(w) == 0 {
		return nil
	}
	n, err := c.Write(w)
	if err != nil {
		return err
	}
	if n != len(w) {
		return fmt.Errorf("%w: short write %d of %d", sensorhub.ErrTransport, n, len(w))
	}
	return nil
}

func readAll(c gi2c.Connection, r []byte) error {
	n, err := c.Read(r)
	if err != nil {
		return err
	}
	if n != len(r) {
		return fmt.Errorf("%w: short read %d of %d", sensorhub.ErrTransport, n, len(r))
	}
	return nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.Tx(ctx, address, nil, buffer)
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.Tx(ctx, address, buffer, nil)
}

func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}

// Close closes every connection opened so far. The adaptor itself is owned
// by the caller.
func (b *GobotBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var errs []error
	for addr, c := range b.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("could not close connection to %#02x: %w", addr, err))
		}
		delete(b.conns, addr)
	}
	return errors.Join(errs...)
}
