package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Op      uint8   `json:"op" msgpack:"op" cbor:"1,keyasint"`
	Key     string  `json:"key" msgpack:"key" cbor:"2,keyasint"`
	Lengths []int64 `json:"lengths,omitempty" msgpack:"lengths,omitempty" cbor:"3,keyasint,omitempty"`
}

func TestNamedCodecs(t *testing.T) {
	in := record{Op: 2, Key: "0cc175b9c0f1b6a831c399e269772661", Lengths: []int64{1024}}

	for _, name := range []string{"", "cbor", "msgpack", "json"} {
		t.Run("codec="+name, func(t *testing.T) {
			c, err := Named[record](name)
			require.NoError(t, err)

			b, err := c.Encode(in)
			require.NoError(t, err)
			out, err := c.Decode(b)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}

	_, err := Named[record]("protobuf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown codec")
}

func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR[map[string]int64](true)
	a, err := c.Encode(map[string]int64{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	b, err := c.Encode(map[string]int64{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "deterministic CBOR must not depend on map order")
}

func TestLimitCodec(t *testing.T) {
	lc := LimitCodec[record]{Inner: JSON[record]{}, MaxDecode: 24}

	small, err := lc.Encode(record{Op: 1})
	require.NoError(t, err)
	require.LessOrEqual(t, len(small), 24)
	_, err = lc.Decode(small)
	require.NoError(t, err)

	big, err := lc.Encode(record{Op: 1, Key: "this key is far too long for the limit"})
	require.NoError(t, err)
	_, err = lc.Decode(big)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload too large")

	off := LimitCodec[record]{Inner: JSON[record]{}}
	_, err = off.Decode(big)
	assert.NoError(t, err)
}
