// Package bus serialises every transaction on a shared I2C transport.
//
// A Handle is built once during bring-up around an initialised transport and
// passed by pointer to each driver. Callers take a Conn with Acquire (or use
// Do) and may issue any number of transactions while holding it; nobody else
// can reach the wire until the Conn is released. Waiters are not served in
// FIFO order.
package bus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/mklimuk/sensorhub"
	"github.com/mklimuk/sensorhub/snsctx"
)

// ErrReleased is returned when a released Conn is used.
var ErrReleased = errors.New("bus connection already released")

type Handle struct {
	transport sensorhub.Transactor
	sem       chan struct{}

	transactions atomic.Uint64
	errors       atomic.Uint64
	timeouts     atomic.Uint64
}

// Stats are cumulative transaction counters of a Handle.
type Stats struct {
	Transactions uint64 `yaml:"transactions"`
	Errors       uint64 `yaml:"errors"`
	Timeouts     uint64 `yaml:"timeouts"`
}

// NewHandle wraps an initialised transport. A nil transport, including a nil
// pointer stored in the interface, yields a handle whose acquisitions fail
// with sensorhub.ErrNoTransport.
func NewHandle(t sensorhub.Transactor) *Handle {
	if isNil(t) {
		t = nil
	}
	return &Handle{
		transport: t,
		sem:       make(chan struct{}, 1),
	}
}

func isNil(t sensorhub.Transactor) bool {
	if t == nil {
		return true
	}
	v := reflect.ValueOf(t)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Acquire blocks until the bus is free or ctx is done.
func (h *Handle) Acquire(ctx context.Context) (*Conn, error) {
	if h.transport == nil {
		return nil, sensorhub.ErrNoTransport
	}
	select {
	case h.sem <- struct{}{}:
		return &Conn{h: h}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for bus: %w", ctx.Err())
	}
}

// Do runs fn with exclusive bus access and releases it on every exit path.
func (h *Handle) Do(ctx context.Context, fn func(*Conn) error) error {
	c, err := h.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.Release()
	return fn(c)
}

func (h *Handle) Stats() Stats {
	return Stats{
		Transactions: h.transactions.Load(),
		Errors:       h.errors.Load(),
		Timeouts:     h.timeouts.Load(),
	}
}

func (h *Handle) tx(ctx context.Context, address byte, w, r []byte) error {
	h.transactions.Add(1)
	err := h.transport.Tx(ctx, address, w, r)
	if snsctx.IsVerbose(ctx) {
		snsctx.Logger(ctx).DebugContext(ctx, "i2c tx",
			"addr", fmt.Sprintf("%#02x", address),
			"w", hex.EncodeToString(w),
			"r", hex.EncodeToString(r),
			"error", err)
	}
	if err != nil {
		h.errors.Add(1)
		if errors.Is(err, sensorhub.ErrTimeout) {
			h.timeouts.Add(1)
		}
	}
	return err
}

// Conn is the exclusive access token returned by Acquire.
type Conn struct {
	h    *Handle
	once sync.Once
	done atomic.Bool
}

// Write sends payload to address.
func (c *Conn) Write(ctx context.Context, address byte, payload []byte) error {
	if c.done.Load() {
		return ErrReleased
	}
	return c.h.tx(ctx, address, payload, nil)
}

// WriteRead writes w then reads len(r) bytes after a repeated start.
func (c *Conn) WriteRead(ctx context.Context, address byte, w, r []byte) error {
	if c.done.Load() {
		return ErrReleased
	}
	return c.h.tx(ctx, address, w, r)
}

// Reset asks the transport to abort an unfinished transfer, for bridges that
// keep their own I2C engine state. It is a no-op for other transports.
func (c *Conn) Reset(ctx context.Context) error {
	if c.done.Load() {
		return ErrReleased
	}
	r, ok := c.h.transport.(resetter)
	if !ok {
		return nil
	}
	snsctx.Logger(ctx).DebugContext(ctx, "resetting bus transport")
	return r.Release(ctx)
}

type resetter interface {
	Release(ctx context.Context) error
}

// Release gives the bus back. It is safe to call more than once.
func (c *Conn) Release() {
	c.once.Do(func() {
		c.done.Store(true)
		<-c.h.sem
	})
}
