package rkv

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection means the store could not be reached or the
	// connection handshake failed.
	ErrConnection = errors.New("connection fault")
	// ErrStoreOperation means a set or get request itself failed, or a
	// key that was just written came back absent.
	ErrStoreOperation = errors.New("store operation fault")

	ErrProtocol      = errors.New("protocol error")
	ErrNotInteger    = errors.New("value is not an integer or out of range")
	ErrOverflow      = errors.New("increment or decrement would overflow")
	ErrShutdown      = errors.New("engine already shut down")
	ErrServerClosed  = errors.New("server closed")
	ErrUnknownEngine = errors.New("unknown engine")
)

// MismatchError is returned when a value read back differs from the
// value written under Key.
type MismatchError struct {
	Key string
	// Expected is the encoded form of the value that was written.
	Expected string
	// Actual is the raw payload the store returned, not a re-encoding of
	// its decoded value.
	Actual string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("Expected '%s', but got '%s'", e.Expected, e.Actual)
}
