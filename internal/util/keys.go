package util

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"hash/fnv"
	"strconv"
)

// newDigest is the preferred key hash. A nil result means the algorithm is
// unavailable and HashKey falls back to FNV.
var newDigest = func() hash.Hash { return md5.New() }

// HashKey maps an arbitrary request key (usually a URL) to a fixed-width,
// filesystem-safe cache key: the lower-case hex MD5 of its UTF-8 bytes.
//
// If the digest is unavailable the key is the decimal FNV-1a/32 of the input.
// That fallback is deterministic and safe for file names but makes no
// collision-resistance promise.
func HashKey(key string) string {
	h := newDigest()
	if h == nil {
		return fallbackKey(key)
	}
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

func fallbackKey(key string) string {
	h := fnv.New32a()
	h.Write([]byte(key))
	return strconv.FormatUint(uint64(h.Sum32()), 10)
}
