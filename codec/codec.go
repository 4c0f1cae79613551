// Package codec serializes disk journal records (and any other small
// metadata value) to bytes. The journal frames each encoded record itself,
// so a codec only has to round-trip a single value.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Named returns the codec registered under name: "cbor" (deterministic),
// "msgpack" or "json". An empty name selects CBOR.
func Named[V any](name string) (Codec[V], error) {
	switch name {
	case "", "cbor":
		return NewCBOR[V](true)
	case "msgpack":
		return Msgpack[V]{}, nil
	case "json":
		return JSON[V]{}, nil
	default:
		return nil, fmt.Errorf("unknown codec: %s (supported: cbor, msgpack, json)", name)
	}
}
