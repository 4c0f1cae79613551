package disklru

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
)

// Snapshot is a read view of a committed entry. It keeps the slot files open,
// so a later commit or eviction of the same key does not change what it
// reads. Close it when done.
type Snapshot struct {
	key     string
	files   []billy.File
	lengths []int64
}

func (s *Snapshot) Key() string { return s.key }

// Reader returns slot i positioned at its start.
func (s *Snapshot) Reader(i int) (io.ReadSeeker, error) {
	if i < 0 || i >= len(s.files) {
		return nil, fmt.Errorf("disklru: slot %d out of range [0,%d)", i, len(s.files))
	}
	f := s.files[i]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

// Length returns the committed size of slot i.
func (s *Snapshot) Length(i int) int64 {
	if i < 0 || i >= len(s.lengths) {
		return 0
	}
	return s.lengths[i]
}

// ReadAll reads slot i into memory.
func (s *Snapshot) ReadAll(i int) ([]byte, error) {
	r, err := s.Reader(i)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (s *Snapshot) Close() error {
	var errs []error
	for _, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.files = nil
	return errors.Join(errs...)
}
