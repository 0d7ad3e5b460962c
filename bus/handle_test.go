package bus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sensorhub"
	"github.com/mklimuk/sensorhub/bus/bustest"
	"github.com/mklimuk/sensorhub/snsctx"
)

const (
	addrA = 0x1E
	addrB = 0x5D
)

func newWire() *bustest.Wire {
	w := bustest.NewWire()
	w.Attach(addrA, bustest.NewDevice(map[byte]byte{0x4F: 0x40}))
	w.Attach(addrB, bustest.NewDevice(map[byte]byte{0x0F: 0xB3}))
	return w
}

func TestHandle_MutualExclusion(t *testing.T) {
	wire := newWire()
	wire.Delay = time.Millisecond
	h := NewHandle(wire)
	ctx := context.Background()

	const perDriver = 20
	var wg sync.WaitGroup
	for _, addr := range []byte{addrA, addrB} {
		wg.Add(1)
		go func(addr byte) {
			defer wg.Done()
			for i := 0; i < perDriver; i++ {
				err := h.Do(ctx, func(c *Conn) error {
					buf := make([]byte, 6)
					return c.WriteRead(ctx, addr, []byte{0x28}, buf)
				})
				assert.NoError(t, err)
			}
		}(addr)
	}
	wg.Wait()

	assert.Equal(t, uint64(0), wire.Interleaved(), "transactions must not interleave on the wire")
	assert.Equal(t, int64(1), wire.MaxConcurrent())
	assert.Len(t, wire.Transactions(), 2*perDriver)
	assert.Equal(t, uint64(2*perDriver), h.Stats().Transactions)
}

func TestWire_DetectsInterleavingWithoutHandle(t *testing.T) {
	wire := newWire()
	wire.Delay = 20 * time.Millisecond
	ctx := context.Background()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, addr := range []byte{addrA, addrB} {
		wg.Add(1)
		go func(addr byte) {
			defer wg.Done()
			<-start
			_ = wire.Tx(ctx, addr, []byte{0x28}, make([]byte, 2))
		}(addr)
	}
	close(start)
	wg.Wait()

	assert.NotEqual(t, uint64(0), wire.Interleaved())
	assert.Equal(t, int64(2), wire.MaxConcurrent())
}

func TestHandle_ReleasedOnError(t *testing.T) {
	wire := newWire()
	h := NewHandle(wire)
	ctx := context.Background()

	wire.SetFault(func(address byte, w []byte) error {
		return fmt.Errorf("%w: nack", sensorhub.ErrTransport)
	})
	err := h.Do(ctx, func(c *Conn) error {
		return c.Write(ctx, addrA, []byte{0x60, 0x8C})
	})
	require.ErrorIs(t, err, sensorhub.ErrTransport)

	// handle is not poisoned
	wire.SetFault(nil)
	buf := make([]byte, 1)
	err = h.Do(ctx, func(c *Conn) error {
		return c.WriteRead(ctx, addrA, []byte{0x4F}, buf)
	})
	require.NoError(t, err)
	assert.Equal(t, byte(0x40), buf[0])

	stats := h.Stats()
	assert.Equal(t, uint64(2), stats.Transactions)
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Equal(t, uint64(0), stats.Timeouts)
}

func TestHandle_TimeoutCounted(t *testing.T) {
	wire := newWire()
	h := NewHandle(wire)
	ctx := context.Background()
	wire.SetFault(func(address byte, w []byte) error {
		return sensorhub.ErrTimeout
	})
	err := h.Do(ctx, func(c *Conn) error {
		return c.WriteRead(ctx, addrB, []byte{0x0F}, make([]byte, 1))
	})
	assert.ErrorIs(t, err, sensorhub.ErrTimeout)
	assert.Equal(t, uint64(1), h.Stats().Timeouts)
}

func TestHandle_ReleasedOnPanic(t *testing.T) {
	h := NewHandle(newWire())
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = h.Do(ctx, func(c *Conn) error {
			panic("decode failure")
		})
	})

	c, err := h.Acquire(ctx)
	require.NoError(t, err)
	c.Release()
}

func TestHandle_AcquireHonoursContext(t *testing.T) {
	h := NewHandle(newWire())
	held, err := h.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	held.Release()
	c, err := h.Acquire(context.Background())
	require.NoError(t, err)
	c.Release()
}

func TestHandle_NoTransport(t *testing.T) {
	h := NewHandle(nil)
	_, err := h.Acquire(context.Background())
	assert.ErrorIs(t, err, sensorhub.ErrNoTransport)
	err = h.Do(context.Background(), func(c *Conn) error { return nil })
	assert.ErrorIs(t, err, sensorhub.ErrNoTransport)
}

func TestHandle_TypedNilTransport(t *testing.T) {
	var w *bustest.Wire
	h := NewHandle(w)
	_, err := h.Acquire(context.Background())
	assert.ErrorIs(t, err, sensorhub.ErrNoTransport)
}

type resettingWire struct {
	*bustest.Wire
	resets int
}

func (r *resettingWire) Release(ctx context.Context) error {
	r.resets++
	return nil
}

func TestConn_Reset(t *testing.T) {
	rw := &resettingWire{Wire: newWire()}
	h := NewHandle(rw)
	ctx := context.Background()

	require.NoError(t, h.Do(ctx, func(c *Conn) error { return c.Reset(ctx) }))
	assert.Equal(t, 1, rw.resets)

	// a reset needs the bus like any transaction
	held, err := h.Acquire(ctx)
	require.NoError(t, err)
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err = h.Do(tctx, func(c *Conn) error { return c.Reset(tctx) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, rw.resets)

	held.Release()
	assert.ErrorIs(t, held.Reset(ctx), ErrReleased)
	assert.Equal(t, 1, rw.resets)
}

func TestConn_ResetWithoutSupport(t *testing.T) {
	w := newWire()
	h := NewHandle(w)
	ctx := context.Background()
	require.NoError(t, h.Do(ctx, func(c *Conn) error { return c.Reset(ctx) }))
	assert.Empty(t, w.Events())
}

func TestConn_ReleaseIdempotent(t *testing.T) {
	h := NewHandle(newWire())
	ctx := context.Background()
	c, err := h.Acquire(ctx)
	require.NoError(t, err)
	c.Release()
	c.Release()

	assert.True(t, errors.Is(c.Write(ctx, addrA, []byte{0x00}), ErrReleased))
	assert.ErrorIs(t, c.WriteRead(ctx, addrA, []byte{0x00}, make([]byte, 1)), ErrReleased)

	// a second release must not free a slot held by someone else
	other, err := h.Acquire(ctx)
	require.NoError(t, err)
	c.Release()
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = h.Acquire(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	other.Release()
}

func TestHandle_WaitersAllServed(t *testing.T) {
	// grant order among waiters is unspecified; only completeness is asserted
	h := NewHandle(newWire())
	ctx := context.Background()
	held, err := h.Acquire(ctx)
	require.NoError(t, err)

	const waiters = 8
	served := make(chan int, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := h.Do(ctx, func(c *Conn) error {
				served <- i
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	time.Sleep(5 * time.Millisecond)
	held.Release()
	wg.Wait()
	close(served)

	seen := make(map[int]bool)
	for i := range served {
		seen[i] = true
	}
	assert.Len(t, seen, waiters)
}

func TestConn_PassesBuffersThrough(t *testing.T) {
	tr := &bustest.MockTransactor{}
	tr.On("Tx", mock.Anything, byte(addrB), []byte{0x28}, mock.Anything).Return([]byte{0x00, 0x40, 0x06}, nil).Once()
	tr.On("Tx", mock.Anything, byte(addrB), []byte{0x10, 0x48}, []byte(nil)).Return(nil, nil).Once()
	h := NewHandle(tr)
	ctx := context.Background()

	buf := make([]byte, 3)
	err := h.Do(ctx, func(c *Conn) error {
		if err := c.WriteRead(ctx, addrB, []byte{0x28}, buf); err != nil {
			return err
		}
		return c.Write(ctx, addrB, []byte{0x10, 0x48})
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x40, 0x06}, buf)
	tr.AssertExpectations(t)
}

func TestHandle_VerboseTrace(t *testing.T) {
	tr := &bustest.MockTransactor{}
	tr.On("Tx", mock.Anything, byte(addrA), []byte{0x4F}, mock.Anything).Return([]byte{0x40}, nil)
	h := NewHandle(tr)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := snsctx.WithLogger(context.Background(), logger)

	read := func(ctx context.Context) {
		err := h.Do(ctx, func(c *Conn) error {
			return c.WriteRead(ctx, addrA, []byte{0x4F}, make([]byte, 1))
		})
		require.NoError(t, err)
	}
	read(ctx)
	assert.Empty(t, logs.String())

	read(snsctx.SetVerbose(ctx, true))
	assert.Contains(t, logs.String(), "i2c tx")
	assert.Contains(t, logs.String(), "w=4f")
	assert.Contains(t, logs.String(), "r=40")
}
