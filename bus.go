package sensorhub

import (
	"context"
	"errors"
)

var (
	// ErrTimeout means the transport did not complete a transaction in time.
	ErrTimeout = errors.New("i2c transaction timed out")
	// ErrTransport covers NACK, arbitration loss and other bus faults.
	ErrTransport = errors.New("i2c transport error")
	// ErrBusBusy is reported by bridges whose I2C engine has not finished the previous command.
	ErrBusBusy = errors.New("I2C engine is busy (command not completed)")
	// ErrIdentityMismatch means a device answered but its identity byte is not the expected one.
	ErrIdentityMismatch = errors.New("device identity mismatch")
	// ErrNoTransport is returned by a bus handle that was never given a transport.
	ErrNoTransport = errors.New("bus handle has no transport")
)

// Transactor performs a single I2C transaction at a 7-bit address.
// An empty r makes it a plain write; otherwise w is written and r is read
// back after a repeated start.
type Transactor interface {
	Tx(ctx context.Context, address byte, w, r []byte) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
	Transactor
}

// IsTransient reports whether err is a transport-level failure a caller may retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport) || errors.Is(err, ErrBusBusy)
}
