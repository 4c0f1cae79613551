package imgcache

import "github.com/unkn0wn-root/imgcache/internal/util"

// DeriveKey maps a request key (usually a URL) to the 32-character lower-case
// hex MD5 used by both tiers. It is deterministic and filesystem-safe but not
// collision-resistant.
func DeriveKey(requestKey string) string { return util.HashKey(requestKey) }
