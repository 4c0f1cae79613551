package imgcache

import (
	"context"
	"io"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/unkn0wn-root/imgcache/codec"
	"github.com/unkn0wn-root/imgcache/disklru"
	"github.com/unkn0wn-root/imgcache/fetch"
	"github.com/unkn0wn-root/imgcache/memtier"
)

// MemoryTier is the in-process tier. Implementations must be safe for
// concurrent use and keep the first value Put for a key.
// memtier.LRU and memtier.Ristretto satisfy it.
type MemoryTier[V any] interface {
	Get(key string) (V, bool)
	Put(key string, v V)
}

// Decoder turns a byte stream into a value no larger than maxW x maxH
// (0 means unbounded).
type Decoder[V any] interface {
	Decode(r io.Reader, maxW, maxH int) (V, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc[V any] func(r io.Reader, maxW, maxH int) (V, error)

func (f DecoderFunc[V]) Decode(r io.Reader, maxW, maxH int) (V, error) { return f(r, maxW, maxH) }

// Consumer receives results of Resolve. Tag and SetResult are called by the
// Loader; CurrentTag is read on the delivery goroutine right before
// SetResult and must reflect the latest Tag.
//
// SetResult runs on the single delivery goroutine. ctx marks that goroutine:
// pass it, not a fresh context, to anything that may call ResolveBlocking,
// so the call panics with *MisuseError instead of doing disk and network
// I/O while every other delivery waits.
type Consumer[V any] interface {
	Tag(requestKey string)
	CurrentTag() string
	SetResult(ctx context.Context, v V)
}

type SizeFunc[V any] = memtier.SizeFunc[V]

// Options configure a Loader. Only Decoder is required, plus SizeOf when
// Memory is nil.
type Options[V any] struct {
	Decoder Decoder[V]
	SizeOf  SizeFunc[V]

	// Memory overrides the default LRU tier.
	Memory MemoryTier[V]
	// MemoryCapacity in bytes; 0 => 1/8 of the working-memory budget.
	MemoryCapacity int64

	// DisableDisk skips the disk tier entirely.
	DisableDisk bool
	// FS hosts the disk tier. nil => the OS filesystem rooted at CacheDir.
	FS billy.Filesystem
	// CacheDir; "" => DefaultCacheDir("imgcache").
	CacheDir string
	// DiskCapacity in bytes; 0 => 50 MiB.
	DiskCapacity int64
	// AppVersion of the stored blobs; 0 => 1.
	AppVersion int
	// JournalCodec; nil => CBOR.
	JournalCodec codec.Codec[disklru.Record]
	// ResetOnSchemaMismatch wipes a disk cache written with another
	// AppVersion instead of disabling the tier.
	ResetOnSchemaMismatch bool
	// UsableSpace probes free bytes under a directory; nil => statfs.
	UsableSpace func(dir string) (int64, error)

	// Transport; nil => HTTP with a 30s client timeout.
	Transport fetch.Transport

	// Workers is the core pool size; 0 => GOMAXPROCS+1.
	Workers int
	// MaxWorkers; 0 => Workers+1.
	MaxWorkers int
	// KeepAlive for idle workers above core; 0 => 10s.
	KeepAlive time.Duration

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks
}

// Stats are monotonically increasing counters since New.
type Stats struct {
	MemoryHits     uint64
	MemoryMisses   uint64
	DiskHits       uint64
	DiskMisses     uint64
	NetworkFetches uint64
	WriteConflicts uint64
	Failures       uint64
	Delivered      uint64
	StaleDropped   uint64
}
