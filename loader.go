package imgcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/unkn0wn-root/imgcache/disklru"
	"github.com/unkn0wn-root/imgcache/fetch"
	"github.com/unkn0wn-root/imgcache/internal/sysinfo"
	"github.com/unkn0wn-root/imgcache/internal/workpool"
	"github.com/unkn0wn-root/imgcache/memtier"
)

// Loader resolves request keys through memory, disk and network. It owns
// both tiers; share one *Loader instead of building several over the same
// directory.
type Loader[V any] struct {
	mem     MemoryTier[V]
	decoder Decoder[V]
	fetcher *fetch.Fetcher

	// decided once in New
	diskEnabled bool
	disk        *disklru.Cache
	diskDir     string

	workers  *workpool.Pool
	delivery *workpool.Pool

	log   Logger
	hooks Hooks

	closed atomic.Bool
	stats  struct {
		memoryHits, memoryMisses          atomic.Uint64
		diskHits, diskMisses              atomic.Uint64
		networkFetches, writeConflicts    atomic.Uint64
		failures, delivered, staleDropped atomic.Uint64
	}
}

// pending is a fill waiting for delivery.
type pending[V any] struct {
	cacheKey   string
	requestKey string
	consumer   Consumer[V]
}

type deliveryKey struct{}

// IsDeliveryContext reports whether ctx was handed out by the delivery
// goroutine.
func IsDeliveryContext(ctx context.Context) bool {
	v, _ := ctx.Value(deliveryKey{}).(bool)
	return v
}

func withDelivery(ctx context.Context) context.Context {
	return context.WithValue(ctx, deliveryKey{}, true)
}

func New[V any](opts Options[V]) (*Loader[V], error) {
	if opts.Decoder == nil {
		return nil, fmt.Errorf("imgcache: decoder is required")
	}
	if opts.Memory == nil && opts.SizeOf == nil {
		return nil, fmt.Errorf("imgcache: size func is required for the default memory tier")
	}

	l := &Loader[V]{decoder: opts.Decoder}
	l.log = coalesce[Logger](opts.Logger, NopLogger{})
	l.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	if opts.Memory != nil {
		l.mem = opts.Memory
	} else {
		capacity := opts.MemoryCapacity
		if capacity <= 0 {
			capacity = sysinfo.MemoryBudget(defaultMemoryBudget) / memoryBudgetFraction
		}
		lru, err := memtier.NewLRU[V](capacity, opts.SizeOf)
		if err != nil {
			return nil, err
		}
		l.mem = lru
		l.log.Debug("memory tier ready", Fields{"capacity": capacity})
	}

	transport := opts.Transport
	if transport == nil {
		transport = &fetch.HTTPTransport{Client: &http.Client{Timeout: defaultFetchTimeout}}
	}
	l.fetcher = fetch.New(transport)

	if !opts.DisableDisk {
		l.openDisk(opts)
	}

	core := coalesce(opts.Workers, runtime.GOMAXPROCS(0)+1)
	l.workers = workpool.New(workpool.Options{
		Core:      core,
		Max:       coalesce(opts.MaxWorkers, core+1),
		KeepAlive: coalesce(opts.KeepAlive, defaultKeepAlive),
		Logger:    l.log,
		Name:      "fill",
		PanicHandler: func(v any) {
			l.stats.failures.Add(1)
			l.log.Error("fill panicked", Fields{"panic": v})
		},
	})
	l.delivery = workpool.New(workpool.Options{
		Core:   1,
		Max:    1,
		Logger: l.log,
		Name:   "delivery",
		PanicHandler: func(v any) {
			var me *MisuseError
			if err, ok := v.(error); ok && errors.As(err, &me) {
				panic(v)
			}
			l.log.Error("consumer panicked during delivery", Fields{"panic": v})
		},
	})
	return l, nil
}

// openDisk decides once whether the disk tier is usable. Any failure leaves
// it off for the Loader's lifetime.
func (l *Loader[V]) openDisk(opts Options[V]) {
	capacity := coalesce[int64](opts.DiskCapacity, defaultDiskCapacity)
	dir := coalesce(opts.CacheDir, DefaultCacheDir(defaultCacheDirectory))
	l.diskDir = dir

	fsys, fsDir := opts.FS, dir
	if fsys == nil {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			l.disableDisk(dir, &InitializationError{Dir: dir, Err: err})
			return
		}
		fsys, fsDir = osfs.New(dir), "."
	}

	usable := opts.UsableSpace
	if usable == nil {
		usable = sysinfo.UsableSpace
	}
	free, err := usable(dir)
	if err != nil {
		l.disableDisk(dir, &InitializationError{Dir: dir, Err: err})
		return
	}
	if free <= capacity {
		l.disableDisk(dir, &InitializationError{
			Dir: dir,
			Err: fmt.Errorf("%w: %d <= %d", ErrInsufficientSpace, free, capacity),
		})
		return
	}

	c, err := disklru.Open(fsys, fsDir, disklru.Options{
		AppVersion:      coalesce(opts.AppVersion, defaultAppVersion),
		ValueCount:      1,
		MaxSize:         capacity,
		Codec:           opts.JournalCodec,
		ResetOnMismatch: opts.ResetOnSchemaMismatch,
		Logger:          l.log,
	})
	if err != nil {
		l.disableDisk(dir, err)
		return
	}
	l.disk = c
	l.diskEnabled = true
	l.log.Info("disk tier ready", Fields{"dir": dir, "capacity": capacity, "size": c.Size()})
}

func (l *Loader[V]) disableDisk(dir string, err error) {
	l.log.Warn("disk tier disabled", Fields{"dir": dir, "err": err})
	l.hooks.DiskDisabled(dir, err)
}

// DiskEnabled reports the decision taken in New.
func (l *Loader[V]) DiskEnabled() bool { return l.diskEnabled }

// Resolve tags consumer with requestKey and delivers the object for it.
// A memory hit is delivered before Resolve returns, on the caller's
// goroutine. Otherwise the fill runs on the worker pool and its result goes
// through the delivery goroutine, which drops it if consumer has been
// re-tagged in the meantime. Failures are never delivered.
func (l *Loader[V]) Resolve(ctx context.Context, requestKey string, consumer Consumer[V], maxW, maxH int) error {
	if l.closed.Load() {
		return ErrClosed
	}
	consumer.Tag(requestKey)

	key := DeriveKey(requestKey)
	if v, ok := l.memoryGet(key); ok {
		consumer.SetResult(ctx, v)
		return nil
	}

	p := pending[V]{cacheKey: key, requestKey: requestKey, consumer: consumer}
	bg := context.WithoutCancel(ctx)
	err := l.workers.Submit(func() {
		v, ok := l.fill(bg, p.cacheKey, p.requestKey, maxW, maxH)
		if !ok {
			return
		}
		l.deliver(bg, p, v)
	})
	if errors.Is(err, workpool.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (l *Loader[V]) deliver(ctx context.Context, p pending[V], v V) {
	dctx := withDelivery(ctx)
	err := l.delivery.Submit(func() {
		if cur := p.consumer.CurrentTag(); cur != p.requestKey {
			l.stats.staleDropped.Add(1)
			l.hooks.StaleDropped(p.cacheKey, p.requestKey, cur)
			return
		}
		l.stats.delivered.Add(1)
		p.consumer.SetResult(dctx, v)
	})
	if err != nil {
		l.log.Warn("delivery rejected", Fields{"key": p.cacheKey, "err": err})
	}
}

// ResolveBlocking runs the lookup and fill on the calling goroutine. It
// panics with *MisuseError when ctx comes from the delivery goroutine, that
// is, when it is or derives from the ctx handed to Consumer.SetResult.
func (l *Loader[V]) ResolveBlocking(ctx context.Context, requestKey string, maxW, maxH int) (V, bool) {
	if IsDeliveryContext(ctx) {
		panic(&MisuseError{Op: "ResolveBlocking"})
	}
	key := DeriveKey(requestKey)
	if v, ok := l.memoryGet(key); ok {
		return v, true
	}
	return l.fill(ctx, key, requestKey, maxW, maxH)
}

func (l *Loader[V]) memoryGet(key string) (V, bool) {
	v, ok := l.mem.Get(key)
	if ok {
		l.stats.memoryHits.Add(1)
		l.hooks.MemoryHit(key)
	} else {
		l.stats.memoryMisses.Add(1)
	}
	return v, ok
}

// fill resolves a memory miss. Every way of failing ends in failed, so the
// caller only sees presence or absence.
func (l *Loader[V]) fill(ctx context.Context, key, requestKey string, maxW, maxH int) (V, bool) {
	var zero V
	if !l.diskEnabled {
		return l.fetchDirect(ctx, key, requestKey, maxW, maxH)
	}

	v, ok, err := l.readDisk(key, maxW, maxH)
	if err != nil {
		return zero, false
	}
	if ok {
		l.diskHit(key)
		return v, true
	}
	l.stats.diskMisses.Add(1)
	return l.fetchToDisk(ctx, key, requestKey, maxW, maxH)
}

// readDisk decodes the committed entry for key and stores the result in
// memory. Bytes that do not decode are removed so they are not served again.
func (l *Loader[V]) readDisk(key string, maxW, maxH int) (V, bool, error) {
	var zero V
	snap, err := l.disk.Get(key)
	if err != nil {
		return zero, false, l.failed(key, StageDiskRead, err)
	}
	if snap == nil {
		return zero, false, nil
	}
	defer snap.Close()

	r, err := snap.Reader(contentSlot)
	if err != nil {
		return zero, false, l.failed(key, StageDiskRead, err)
	}
	v, err := l.decoder.Decode(r, maxW, maxH)
	if err != nil {
		if _, rerr := l.disk.Remove(key); rerr != nil {
			l.log.Warn("remove undecodable entry", Fields{"key": key, "err": rerr})
		}
		return zero, false, l.failed(key, StageDecode, &DecodeError{Key: key, Err: err})
	}
	l.mem.Put(key, v)
	return v, true, nil
}

func (l *Loader[V]) diskHit(key string) {
	l.stats.diskHits.Add(1)
	l.hooks.DiskHit(key)
}

func (l *Loader[V]) fetchToDisk(ctx context.Context, key, requestKey string, maxW, maxH int) (V, bool) {
	var zero V
	ed, err := l.disk.Edit(key)
	if errors.Is(err, disklru.ErrWriteConflict) {
		// Soft miss: the other writer may have committed by now.
		l.stats.writeConflicts.Add(1)
		l.hooks.WriteConflict(key)
		v, ok, rerr := l.readDisk(key, maxW, maxH)
		switch {
		case ok:
			l.diskHit(key)
		case rerr == nil:
			_ = l.failed(key, StageDiskWrite, &WriteConflictError{Key: key})
		}
		return v, ok
	}
	if err != nil {
		_ = l.failed(key, StageDiskWrite, err)
		return zero, false
	}
	defer ed.AbortUnlessCommitted()

	w, err := ed.NewWriter(contentSlot)
	if err != nil {
		_ = l.failed(key, StageDiskWrite, err)
		return zero, false
	}
	l.stats.networkFetches.Add(1)
	l.hooks.NetworkFetch(key, requestKey)
	dlErr := l.fetcher.Download(ctx, requestKey, w)
	if cerr := w.Close(); dlErr == nil && cerr != nil {
		dlErr = cerr
	}
	if dlErr != nil {
		_ = ed.Abort()
		l.flushDisk()
		stage := StageDiskWrite
		var te *TransportError
		if errors.As(dlErr, &te) {
			stage = StageNetwork
		}
		_ = l.failed(key, stage, dlErr)
		return zero, false
	}
	if err := ed.Commit(); err != nil {
		l.flushDisk()
		_ = l.failed(key, StageDiskWrite, err)
		return zero, false
	}
	l.flushDisk()

	v, ok, err := l.readDisk(key, maxW, maxH)
	if err == nil && !ok {
		// evicted or removed between commit and re-read
		_ = l.failed(key, StageDiskRead, fmt.Errorf("entry %s missing after commit", key))
	}
	return v, ok
}

// fetchDirect decodes straight from the network stream.
func (l *Loader[V]) fetchDirect(ctx context.Context, key, requestKey string, maxW, maxH int) (V, bool) {
	var zero V
	l.stats.networkFetches.Add(1)
	l.hooks.NetworkFetch(key, requestKey)
	rc, err := l.fetcher.Open(ctx, requestKey)
	if err != nil {
		_ = l.failed(key, StageNetwork, err)
		return zero, false
	}
	defer rc.Close()

	v, err := l.decoder.Decode(rc, maxW, maxH)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			_ = l.failed(key, StageNetwork, err)
		} else {
			_ = l.failed(key, StageDecode, &DecodeError{Key: key, Err: err})
		}
		return zero, false
	}
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, rc)
	l.mem.Put(key, v)
	return v, true
}

func (l *Loader[V]) flushDisk() {
	if err := l.disk.Flush(); err != nil {
		l.log.Warn("disk flush failed", Fields{"err": err})
	}
}

// failed records a fill that ended without an object and returns err.
func (l *Loader[V]) failed(key string, stage Stage, err error) error {
	l.stats.failures.Add(1)
	l.log.Debug("fill failed", Fields{"key": key, "stage": string(stage), "err": err})
	l.hooks.FillFailed(key, stage, err)
	return err
}

// Stats returns a snapshot of the counters.
func (l *Loader[V]) Stats() Stats {
	return Stats{
		MemoryHits:     l.stats.memoryHits.Load(),
		MemoryMisses:   l.stats.memoryMisses.Load(),
		DiskHits:       l.stats.diskHits.Load(),
		DiskMisses:     l.stats.diskMisses.Load(),
		NetworkFetches: l.stats.networkFetches.Load(),
		WriteConflicts: l.stats.writeConflicts.Load(),
		Failures:       l.stats.failures.Load(),
		Delivered:      l.stats.delivered.Load(),
		StaleDropped:   l.stats.staleDropped.Load(),
	}
}

// Close waits for queued fills and deliveries, then closes the disk tier.
func (l *Loader[V]) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := l.workers.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("workers: %w", err))
	}
	if err := l.delivery.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("delivery: %w", err))
	}
	if l.disk != nil {
		if err := l.disk.Close(); err != nil {
			errs = append(errs, fmt.Errorf("disk: %w", err))
		}
	}
	return errors.Join(errs...)
}

// CacheDir is the directory the disk tier was (or would have been) opened in.
func (l *Loader[V]) CacheDir() string { return l.diskDir }
