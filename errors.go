package imgcache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/imgcache/disklru"
	"github.com/unkn0wn-root/imgcache/fetch"
)

// InitializationError: the disk tier could not be opened. The Loader keeps
// running without it.
type InitializationError = disklru.InitializationError

// TransportError: the origin could not be read.
type TransportError = fetch.Error

var (
	// ErrWriteConflict is matched by *WriteConflictError.
	ErrWriteConflict = disklru.ErrWriteConflict
	// ErrInsufficientSpace disables the disk tier when the cache directory
	// has no more usable space than the configured capacity.
	ErrInsufficientSpace = errors.New("imgcache: usable space below disk capacity")
	// ErrClosed is returned by Resolve after Close.
	ErrClosed = errors.New("imgcache: loader closed")
)

type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.Key, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// WriteConflictError: another fill was writing key, and nothing was
// committed by the time this fill re-read the disk.
type WriteConflictError struct {
	Key string
}

func (e *WriteConflictError) Error() string { return fmt.Sprintf("write conflict on %s", e.Key) }
func (e *WriteConflictError) Unwrap() error { return ErrWriteConflict }

// MisuseError is the panic value of a blocking call made from the delivery
// goroutine, which would otherwise stall every pending delivery.
type MisuseError struct {
	Op string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("imgcache: %s called from the delivery goroutine", e.Op)
}
