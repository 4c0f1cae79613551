package wire

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

func mustReadRecord(t *testing.T, r io.Reader) []byte {
	t.Helper()
	p, err := ReadRecord(r, 0)
	if err != nil {
		t.Fatalf("ReadRecord error: %v", err)
	}
	return p
}

func TestHeaderRT(t *testing.T) {
	cases := []Header{
		{AppVersion: 0, ValueCount: 1},
		{AppVersion: 7, ValueCount: 2},
		{AppVersion: math.MaxUint32, ValueCount: math.MaxUint16},
	}
	for _, h := range cases {
		enc := EncodeHeader(h)
		if len(enc) != HeaderSize {
			t.Fatalf("header size: got %d want %d", len(enc), HeaderSize)
		}
		got, err := DecodeHeader(enc)
		if err != nil {
			t.Fatalf("DecodeHeader: %v", err)
		}
		if got != h {
			t.Fatalf("header mismatch: got %+v want %+v", got, h)
		}
	}
}

func TestHeaderCorruptAndVersion(t *testing.T) {
	enc := EncodeHeader(Header{AppVersion: 1, ValueCount: 1})

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := DecodeHeader(badMagic); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt on bad magic, got %v", err)
	}

	if _, err := DecodeHeader(enc[:HeaderSize-1]); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt on short header, got %v", err)
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	var ve *VersionError
	if _, err := DecodeHeader(badVer); !errors.As(err, &ve) {
		t.Fatalf("expected VersionError, got %v", err)
	}
	if ve.Got != version+1 || ve.Want != version {
		t.Fatalf("unexpected version error: %+v", ve)
	}
}

func TestRecordsRT(t *testing.T) {
	payloads := [][]byte{nil, []byte("a"), bytes.Repeat([]byte{0xAB}, 4096)}
	var buf []byte
	for _, p := range payloads {
		buf = AppendRecord(buf, p)
	}

	r := bytes.NewReader(buf)
	for i, want := range payloads {
		got := mustReadRecord(t, r)
		if !bytes.Equal(got, want) {
			t.Fatalf("record %d mismatch: got %d bytes want %d", i, len(got), len(want))
		}
	}
	if _, err := ReadRecord(r, 0); err != io.EOF {
		t.Fatalf("expected io.EOF after last record, got %v", err)
	}
}

func TestRecordTornTail(t *testing.T) {
	buf := AppendRecord(nil, []byte("complete"))
	full := len(buf)
	buf = AppendRecord(buf, []byte("torn-by-a-crash"))

	// every cut inside the second record must read as truncated, never as data
	for cut := full + 1; cut < len(buf); cut++ {
		r := bytes.NewReader(buf[:cut])
		if got := mustReadRecord(t, r); string(got) != "complete" {
			t.Fatalf("first record mismatch: %q", got)
		}
		if _, err := ReadRecord(r, 0); !errors.Is(err, ErrTruncated) {
			t.Fatalf("cut=%d: expected ErrTruncated, got %v", cut, err)
		}
	}
}

func TestRecordChecksumAndBound(t *testing.T) {
	buf := AppendRecord(nil, []byte("payload"))

	flipped := append([]byte(nil), buf...)
	flipped[len(flipped)-1] ^= 0xFF
	if _, err := ReadRecord(bytes.NewReader(flipped), 0); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt on checksum mismatch, got %v", err)
	}

	if _, err := ReadRecord(bytes.NewReader(buf), 3); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt when length exceeds bound, got %v", err)
	}
}
