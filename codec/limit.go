package codec

import "fmt"

// LimitCodec rejects payloads longer than MaxDecode before handing them to
// Inner. Encode is not limited. MaxDecode <= 0 turns the check off.
//
// The disk journal wraps its codec in one so a corrupted length prefix
// cannot make replay decode an arbitrarily large blob.
type LimitCodec[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
