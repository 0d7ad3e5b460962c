package i2c

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"syscall"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/sensorhub"
)

// DefaultSpeed is the standard-mode I2C clock.
const DefaultSpeed = 100 * physic.KiloHertz

var _ sensorhub.I2CBus = &GenericBus{}

// GenericBus is a transport over a periph.io I2C bus.
type GenericBus struct {
	bus i2c.Bus
}

// NewGenericBus initialises the host drivers and opens the named bus
// (e.g. "/dev/i2c-1" or "1"; empty selects the first available one).
// A zero speed keeps the bus default.
func NewGenericBus(dev string, speed physic.Frequency) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	for _, failure := range state.Failed {
		slog.Debug("host driver failed", "driver", failure.D.String(), "error", failure.Err)
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus %q: %w", dev, err)
	}
	b := NewPeriphBus(bus)
	if speed > 0 {
		if err := b.SetSpeed(speed); err != nil {
			_ = bus.Close()
			return nil, err
		}
	}
	return b, nil
}

// NewPeriphBus wraps an already opened periph bus.
func NewPeriphBus(bus i2c.Bus) *GenericBus {
	return &GenericBus{bus: bus}
}

func (b *GenericBus) String() string {
	return b.bus.String()
}

func (b *GenericBus) SetSpeed(f physic.Frequency) error {
	if err := b.bus.SetSpeed(f); err != nil {
		return fmt.Errorf("could not set i2c bus speed to %s: %w", f, err)
	}
	return nil
}

// Tx performs one write or write-then-read transaction. periph transactions
// cannot be interrupted, so ctx is only checked before the transfer starts.
func (b *GenericBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", sensorhub.ErrTimeout, err)
	}
	if err := b.bus.Tx(uint16(address), w, r); err != nil {
		return fmt.Errorf("i2c transaction with %#02x failed: %w", address, classify(err))
	}
	return nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.Tx(ctx, address, nil, buffer)
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return b.Tx(ctx, address, buffer, nil)
}

// Release is a no-op: the kernel driver frees the bus after every transfer.
func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) Close() error {
	if c, ok := b.bus.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// classify maps a platform error onto the transport sentinels while keeping
// the original error in the chain.
func classify(err error) error {
	switch {
	case errors.Is(err, sensorhub.ErrTimeout), errors.Is(err, sensorhub.ErrTransport), errors.Is(err, sensorhub.ErrBusBusy):
		return err
	case errors.Is(err, syscall.ETIMEDOUT), errors.Is(err, context.DeadlineExceeded),
		strings.Contains(strings.ToLower(err.Error()), "timed out"):
		return fmt.Errorf("%w: %w", sensorhub.ErrTimeout, err)
	case errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.EAGAIN):
		return fmt.Errorf("%w: %w", sensorhub.ErrBusBusy, err)
	default:
		return fmt.Errorf("%w: %w", sensorhub.ErrTransport, err)
	}
}
