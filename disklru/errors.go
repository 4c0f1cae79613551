package disklru

import (
	"errors"
	"fmt"
)

var (
	// ErrWriteConflict is returned by Edit while another editor holds the key.
	ErrWriteConflict = errors.New("disklru: entry is being written")
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("disklru: cache is closed")
	// ErrEditorDone is returned when an editor is used after commit or abort.
	ErrEditorDone = errors.New("disklru: editor already completed")
	// ErrInvalidKey is returned for keys outside [a-z0-9_-]{1,120}.
	ErrInvalidKey = errors.New("disklru: invalid key")
)

// InitializationError reports that a cache directory could not be opened.
// Callers are expected to treat the disk tier as unavailable.
type InitializationError struct {
	Dir string
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("disklru: open %q: %v", e.Dir, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// SchemaError reports a journal written with a different app version or
// slot count than the caller asked for.
type SchemaError struct {
	AppVersion, WantAppVersion int
	ValueCount, WantValueCount int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("disklru: schema mismatch: app version %d (want %d), value count %d (want %d)",
		e.AppVersion, e.WantAppVersion, e.ValueCount, e.WantValueCount)
}
