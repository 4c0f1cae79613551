// Package asynchook moves hook calls off the fill and delivery goroutines.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{StaleEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	loader, _ := imgcache.New[image.Image](imgcache.Options[image.Image]{
//	    Decoder: decode.Std{},
//	    SizeOf:  decode.ImageSize,
//	    Hooks:   hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/imgcache"
)

// Hooks forwards events to inner on a fixed set of goroutines. When the
// queue is full the event is dropped and counted.
type Hooks struct {
	inner   imgcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ imgcache.Hooks = (*Hooks)(nil)

func New(inner imgcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the workers. Events after Close
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were lost to a full queue or after Close.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) MemoryHit(k string)                 { h.try(func() { h.inner.MemoryHit(k) }) }
func (h *Hooks) DiskHit(k string)                   { h.try(func() { h.inner.DiskHit(k) }) }
func (h *Hooks) NetworkFetch(k, url string)         { h.try(func() { h.inner.NetworkFetch(k, url) }) }
func (h *Hooks) WriteConflict(k string)             { h.try(func() { h.inner.WriteConflict(k) }) }
func (h *Hooks) DiskDisabled(dir string, err error) { h.try(func() { h.inner.DiskDisabled(dir, err) }) }
func (h *Hooks) FillFailed(k string, s imgcache.Stage, err error) {
	h.try(func() { h.inner.FillFailed(k, s, err) })
}
func (h *Hooks) StaleDropped(k, req, cur string) {
	h.try(func() { h.inner.StaleDropped(k, req, cur) })
}
