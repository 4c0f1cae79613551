// Package views keeps the named consumers of the HTTP service. A view is a
// Slot that PUT /views/{id} re-tags; idle views are swept.
package views

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/imgcache"
)

type View struct {
	ID   uuid.UUID
	Slot *imgcache.Slot[image.Image]
}

type entry struct {
	view      *View
	updatedAt time.Time
}

// Registry keeps views in-process.
// Optional cleanup loop to prune long-inactive views.
type Registry struct {
	mu     sync.RWMutex
	views  map[uuid.UUID]*entry
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	retention time.Duration
}

func NewRegistry(cleanupInterval, retention time.Duration) *Registry {
	r := &Registry{
		views:     make(map[uuid.UUID]*entry),
		retention: retention,
	}
	if cleanupInterval > 0 && retention > 0 {
		r.ticker = time.NewTicker(cleanupInterval)
		r.stopCh = make(chan struct{})
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-r.ticker.C:
					r.Cleanup(retention)
				case <-r.stopCh:
					return
				}
			}
		}()
	}
	return r
}

// Create registers a view under a fresh id.
func (r *Registry) Create() *View {
	return r.Ensure(uuid.New())
}

// Ensure returns the view for id, creating it if needed, and marks it used.
func (r *Registry) Ensure(id uuid.UUID) *View {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.views[id]
	if !ok {
		e = &entry{view: &View{ID: id, Slot: imgcache.NewSlot[image.Image](nil)}}
		r.views[id] = e
	}
	e.updatedAt = now
	return e.view
}

func (r *Registry) Get(id uuid.UUID) (*View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.views[id]
	if !ok {
		return nil, false
	}
	return e.view, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

// Cleanup drops views not ensured within retention.
func (r *Registry) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	r.mu.Lock()
	for id, e := range r.views {
		if e.updatedAt.Before(cutoff) {
			delete(r.views, id)
		}
	}
	r.mu.Unlock()
}

func (r *Registry) Close(_ context.Context) error {
	if r.stopCh != nil {
		close(r.stopCh)
		if r.ticker != nil {
			r.ticker.Stop() // stop ticker before waiting
		}
		r.wg.Wait()
	}
	return nil
}
