package disklru

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"

	"github.com/unkn0wn-root/imgcache/codec"
	"github.com/unkn0wn-root/imgcache/internal/wire"
)

const (
	journalFile       = "journal.log"
	journalFileTmp    = "journal.tmp"
	journalFileBackup = "journal.bkp"

	// redundantOpCompactThreshold is the number of superseded records that
	// makes a journal worth rewriting.
	redundantOpCompactThreshold = 2000

	defaultMaxRecordSize = 64 << 10
	journalBufferSize    = 8 << 10
)

// Op is the kind of a journal record.
type Op uint8

const (
	// OpClean publishes an entry with its slot lengths.
	OpClean Op = iota + 1
	// OpDirty marks an entry as being written. It must be followed by
	// OpClean or OpRemove, otherwise the write died and the entry is dropped.
	OpDirty
	// OpRemove deletes an entry.
	OpRemove
	// OpRead records an access, for LRU ordering across restarts.
	OpRead
)

func (o Op) String() string {
	switch o {
	case OpClean:
		return "CLEAN"
	case OpDirty:
		return "DIRTY"
	case OpRemove:
		return "REMOVE"
	case OpRead:
		return "READ"
	default:
		return "UNKNOWN"
	}
}

// Record is one journal line.
type Record struct {
	Op      Op      `cbor:"1,keyasint" msgpack:"op" json:"op"`
	Key     string  `cbor:"2,keyasint" msgpack:"key" json:"key"`
	Lengths []int64 `cbor:"3,keyasint,omitempty" msgpack:"lengths,omitempty" json:"lengths,omitempty"`
}

// journalWriter appends framed records through a buffer. Callers hold the
// cache lock.
type journalWriter struct {
	f     billy.File
	w     *bufio.Writer
	codec codec.Codec[Record]
	buf   []byte
}

// openJournalWriter opens name for appending, creating it with header h when
// it does not exist yet.
func openJournalWriter(fsys billy.Filesystem, name string, c codec.Codec[Record], h *wire.Header) (*journalWriter, error) {
	flag := os.O_WRONLY | os.O_CREATE
	if h != nil {
		flag |= os.O_TRUNC
	}
	f, err := fsys.OpenFile(name, flag, 0o644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, err
	}
	jw := &journalWriter{f: f, w: bufio.NewWriterSize(f, journalBufferSize), codec: c}
	if h != nil {
		if _, err := jw.w.Write(wire.EncodeHeader(*h)); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return jw, nil
}

func (jw *journalWriter) append(rec Record) error {
	payload, err := jw.codec.Encode(rec)
	if err != nil {
		return err
	}
	jw.buf = wire.AppendRecord(jw.buf[:0], payload)
	_, err = jw.w.Write(jw.buf)
	return err
}

// flush pushes buffered records to the file without forcing them to stable
// storage.
func (jw *journalWriter) flush() error {
	return jw.w.Flush()
}

// sync flushes and fsyncs when the underlying file supports it.
func (jw *journalWriter) sync() error {
	if err := jw.w.Flush(); err != nil {
		return err
	}
	if s, ok := jw.f.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func (jw *journalWriter) close() error {
	return errors.Join(jw.sync(), jw.f.Close())
}

// journalReader replays records from an existing journal.
type journalReader struct {
	r     *bufio.Reader
	codec codec.Codec[Record]
	max   int
}

func readJournalHeader(r *bufio.Reader) (wire.Header, error) {
	b := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return wire.Header{}, wire.ErrCorrupt
	}
	return wire.DecodeHeader(b)
}

// next returns io.EOF at a clean end; wire.ErrTruncated or wire.ErrCorrupt
// mean the tail was torn and replay should stop there.
func (jr *journalReader) next() (Record, error) {
	payload, err := wire.ReadRecord(jr.r, jr.max)
	if err != nil {
		return Record{}, err
	}
	rec, err := jr.codec.Decode(payload)
	if err != nil {
		return Record{}, wire.ErrCorrupt
	}
	return rec, nil
}
