package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

const (
	version byte = 1

	// HeaderSize is the fixed size of an encoded journal header.
	HeaderSize = 4 + 1 + 4 + 2
	// recordHeader is len(u32) + xxhash64(u64).
	recordHeader = 4 + 8
)

var (
	ErrCorrupt   = errors.New("imgcache: corrupt journal")
	ErrTruncated = errors.New("imgcache: truncated journal record")
	magic4       = [...]byte{'I', 'M', 'G', 'J'}
)

// VersionError reports a journal written by an incompatible format version.
type VersionError struct {
	Got, Want byte
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("imgcache: journal format version %d, want %d", e.Got, e.Want)
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Header identifies the schema of a journal.
type Header struct {
	AppVersion uint32
	ValueCount uint16
}

// EncodeHeader: magic(4) | ver(1) | appVersion(u32 be) | valueCount(u16 be)
func EncodeHeader(h Header) []byte {
	b := make([]byte, HeaderSize)
	copy(b, magic4[:])
	b[4] = version
	binary.BigEndian.PutUint32(b[5:9], h.AppVersion)
	binary.BigEndian.PutUint16(b[9:11], h.ValueCount)
	return b
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize || !hasMagic(b) {
		return Header{}, ErrCorrupt
	}
	if b[4] != version {
		return Header{}, &VersionError{Got: b[4], Want: version}
	}
	return Header{
		AppVersion: binary.BigEndian.Uint32(b[5:9]),
		ValueCount: binary.BigEndian.Uint16(b[9:11]),
	}, nil
}

// AppendRecord frames payload as len(u32 be) | xxhash64(u64 be) | payload
// and appends it to dst.
func AppendRecord(dst, payload []byte) []byte {
	var hdr [recordHeader]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint64(hdr[4:12], xxhash.Sum64(payload))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// ReadRecord reads one framed record. It returns io.EOF at a clean end of
// stream, ErrTruncated when the stream stops mid-record (a torn append) and
// ErrCorrupt when the checksum fails or the length exceeds max (max <= 0
// disables the bound).
func ReadRecord(r io.Reader, max int) ([]byte, error) {
	var hdr [recordHeader]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(hdr[0:4]))
	if n < 0 || (max > 0 && n > max) {
		return nil, ErrCorrupt
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}
	if xxhash.Sum64(payload) != binary.BigEndian.Uint64(hdr[4:12]) {
		return nil, ErrCorrupt
	}
	return payload, nil
}
