// Package bustest provides an instrumented fake I2C wire and simulated
// register devices for driver tests.
package bustest

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mklimuk/sensorhub"
)

type EventKind int

const (
	Begin EventKind = iota
	Byte
	End
)

func (k EventKind) String() string {
	switch k {
	case Begin:
		return "begin"
	case Byte:
		return "byte"
	default:
		return "end"
	}
}

// Event is one step observed on the wire. Tx identifies the transaction it
// belongs to.
type Event struct {
	Tx   uint64
	Kind EventKind
	Addr byte
	Data byte
}

// FaultFunc lets a test fail a transaction before it reaches the device.
type FaultFunc func(address byte, w []byte) error

// Wire implements sensorhub.Transactor. It records every transaction byte by
// byte and yields between bytes so that unsynchronised callers would
// interleave.
type Wire struct {
	// Delay is slept in the middle of every transaction.
	Delay time.Duration

	mu      sync.Mutex
	devices map[byte]*Device
	fault   FaultFunc
	events  []Event

	seq       atomic.Uint64
	active    atomic.Int64
	maxActive atomic.Int64
}

var _ sensorhub.Transactor = &Wire{}

func NewWire() *Wire {
	return &Wire{devices: make(map[byte]*Device)}
}

// Attach places a device at a 7-bit address.
func (w *Wire) Attach(address byte, d *Device) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.devices[address] = d
}

// SetFault installs (or clears with nil) a fault hook.
func (w *Wire) SetFault(fn FaultFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fault = fn
}

func (w *Wire) Tx(ctx context.Context, address byte, wr, r []byte) error {
	id := w.seq.Add(1)
	n := w.active.Add(1)
	defer w.active.Add(-1)
	for {
		peak := w.maxActive.Load()
		if n <= peak || w.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	w.record(Event{Tx: id, Kind: Begin, Addr: address})
	defer w.record(Event{Tx: id, Kind: End, Addr: address})

	for _, b := range wr {
		w.record(Event{Tx: id, Kind: Byte, Addr: address, Data: b})
		runtime.Gosched()
	}
	if w.Delay > 0 {
		select {
		case <-time.After(w.Delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", sensorhub.ErrTimeout, ctx.Err())
		}
	}

	w.mu.Lock()
	fault := w.fault
	dev, ok := w.devices[address]
	w.mu.Unlock()
	if fault != nil {
		if err := fault(address, wr); err != nil {
			return err
		}
	}
	if !ok {
		return fmt.Errorf("%w: no ack from %#02x", sensorhub.ErrTransport, address)
	}
	dev.transfer(wr, r)
	for _, b := range r {
		w.record(Event{Tx: id, Kind: Byte, Addr: address, Data: b})
		runtime.Gosched()
	}
	return nil
}

func (w *Wire) record(e Event) {
	w.mu.Lock()
	w.events = append(w.events, e)
	w.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (w *Wire) Events() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Event, len(w.events))
	copy(out, w.events)
	return out
}

// Transactions returns transaction ids in the order they began.
func (w *Wire) Transactions() []Event {
	var out []Event
	for _, e := range w.Events() {
		if e.Kind == Begin {
			out = append(out, e)
		}
	}
	return out
}

// MaxConcurrent is the highest number of transactions seen in flight at once.
func (w *Wire) MaxConcurrent() int64 {
	return w.maxActive.Load()
}

// Interleaved reports the first transaction whose events are not contiguous
// on the wire, or 0 when every transaction ran from begin to end undisturbed.
func (w *Wire) Interleaved() uint64 {
	var current uint64
	for _, e := range w.Events() {
		switch e.Kind {
		case Begin:
			if current != 0 {
				return e.Tx
			}
			current = e.Tx
		case Byte:
			if e.Tx != current {
				return e.Tx
			}
		case End:
			if e.Tx != current {
				return e.Tx
			}
			current = 0
		}
	}
	return 0
}

// Reset drops recorded events and counters.
func (w *Wire) Reset() {
	w.mu.Lock()
	w.events = nil
	w.mu.Unlock()
	w.maxActive.Store(0)
}
