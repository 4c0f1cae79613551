// Package imgcache resolves remote images (or any decoded object) through
// three tiers: a bounded in-process memory tier, a bounded journaled disk
// tier and the network origin.
//
// Components:
//   - MemoryTier[V]: decoded values by derived key (memtier.LRU by default).
//   - disklru.Cache: raw bytes by derived key; commits are all-or-nothing and
//     survive restarts.
//   - fetch.Fetcher: streams the origin into a disk editor, or straight into
//     the Decoder when the disk tier is off.
//   - Decoder[V]: bytes -> V at requested bounds (see package decode).
//
// Keys:
//
//	DeriveKey(url) = lower-case hex MD5, shared by both tiers
//
// Fill order:
//
//	Resolve(ctx, url, consumer, w, h)
//	  consumer.Tag(url)
//	  memory hit  -> consumer.SetResult on the caller's goroutine
//	  memory miss -> worker pool: disk -> network -> disk -> decode -> memory
//	              -> delivery goroutine: CurrentTag() == url ? SetResult : drop
//
// Failures (network, decode, disk) end as "no result": nothing is delivered
// and Hooks.FillFailed says why. ResolveBlocking runs the same fill on the
// caller's goroutine and panics with *MisuseError when called with a context
// handed out by the delivery goroutine.
package imgcache
