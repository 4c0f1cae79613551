package imgcache

import (
	"context"
	"sync"
)

// Slot is a ready-made Consumer holding the latest delivered value. Safe for
// concurrent use.
type Slot[V any] struct {
	mu        sync.Mutex
	tag       string
	v         V
	resultTag string
	has       bool
	onResult  func(ctx context.Context, requestKey string, v V)
}

// NewSlot returns a Slot that also calls onResult (if not nil) after each
// delivery.
func NewSlot[V any](onResult func(ctx context.Context, requestKey string, v V)) *Slot[V] {
	return &Slot[V]{onResult: onResult}
}

func (s *Slot[V]) Tag(requestKey string) {
	s.mu.Lock()
	s.tag = requestKey
	s.mu.Unlock()
}

func (s *Slot[V]) CurrentTag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tag
}

func (s *Slot[V]) SetResult(ctx context.Context, v V) {
	s.mu.Lock()
	s.v, s.has = v, true
	s.resultTag = s.tag
	cb := s.onResult
	tag := s.tag
	s.mu.Unlock()
	if cb != nil {
		cb(ctx, tag, v)
	}
}

// Result returns the last delivered value and the request key it was
// delivered for.
func (s *Slot[V]) Result() (v V, requestKey string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, s.resultTag, s.has
}

var _ Consumer[int] = (*Slot[int])(nil)
