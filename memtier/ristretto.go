package memtier

import (
	"errors"

	rc "github.com/dgraph-io/ristretto"
)

// RistrettoConfig sizes a Ristretto tier. MaxCost is the byte budget.
type RistrettoConfig struct {
	NumCounters int64 // 0 => MaxCost/1024, at least 1000
	MaxCost     int64
	BufferItems int64 // 0 => 64
	Metrics     bool
}

// Ristretto is a memory tier backed by dgraph-io/ristretto. Admission is
// TinyLFU, so unlike LRU a Put may be rejected and eviction is not strictly
// by recency. Each Put waits for the write buffer so that a finished fill is
// visible to the next Get.
type Ristretto[V any] struct {
	c      *rc.Cache
	sizeOf SizeFunc[V]
	max    int64
}

func NewRistretto[V any](cfg RistrettoConfig, sizeOf SizeFunc[V]) (*Ristretto[V], error) {
	if cfg.MaxCost <= 0 {
		return nil, errors.New("memtier: ristretto: invalid config")
	}
	if sizeOf == nil {
		return nil, errors.New("memtier: size func is required")
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = max(cfg.MaxCost/1024, 1000)
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        cfg.BufferItems,
		Metrics:            cfg.Metrics,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto[V]{c: c, sizeOf: sizeOf, max: cfg.MaxCost}, nil
}

func (r *Ristretto[V]) Get(key string) (V, bool) {
	var zero V
	v, ok := r.c.Get(key)
	if !ok {
		return zero, false
	}
	tv, ok := v.(V)
	if !ok {
		// self-heal: drop unexpected entry shape
		r.c.Del(key)
		return zero, false
	}
	return tv, true
}

// Put keeps the first stored value for key.
func (r *Ristretto[V]) Put(key string, v V) {
	if _, ok := r.c.Get(key); ok {
		return
	}
	if r.c.Set(key, v, max(r.sizeOf(v), 1)) {
		r.c.Wait()
	}
}

func (r *Ristretto[V]) Remove(key string) { r.c.Del(key) }

func (r *Ristretto[V]) Capacity() int64 { return r.max }

// Metrics is nil unless RistrettoConfig.Metrics was set.
func (r *Ristretto[V]) Metrics() *rc.Metrics { return r.c.Metrics }

func (r *Ristretto[V]) Close() {
	r.c.Wait()
	r.c.Close()
}
