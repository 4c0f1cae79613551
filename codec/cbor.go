package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// maxCBORElements bounds arrays and maps on decode. A journal record carries
// one length per value slot, so anything bigger is corruption.
const maxCBORElements = 1 << 10

// CBOR serializes values with fxamacker/cbor. Build it with NewCBOR or
// MustCBOR; the zero value has no modes and panics.
//
// Deterministic mode (RFC 8949 core deterministic encoding) makes a record
// encode to the same bytes every time, so a rewritten journal is byte-equal
// to the one it replaced. Without it, preferred unsorted encoding is used.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}

	dm, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: maxCBORElements,
		MaxMapPairs:      maxCBORElements,
		IndefLength:      cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR panics when NewCBOR fails, which only happens on invalid options.
func MustCBOR[V any](deterministic bool) CBOR[V] {
	c, err := NewCBOR[V](deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	if err := c.dec.Unmarshal(b, &v); err != nil {
		return v, err
	}
	return v, nil
}
