package imgcache

import (
	"context"
	"testing"
)

func TestSlotTracksLatestTag(t *testing.T) {
	var calls int
	s := NewSlot[string](func(_ context.Context, key, v string) {
		calls++
		if key != "b" || v != "B" {
			t.Fatalf("callback got %q=%q", key, v)
		}
	})
	if _, _, ok := s.Result(); ok {
		t.Fatal("empty slot has a result")
	}
	s.Tag("a")
	s.Tag("b")
	if s.CurrentTag() != "b" {
		t.Fatalf("CurrentTag=%q", s.CurrentTag())
	}
	s.SetResult(context.Background(), "B")
	v, key, ok := s.Result()
	if !ok || v != "B" || key != "b" || calls != 1 {
		t.Fatalf("Result=%q,%q,%v calls=%d", v, key, ok, calls)
	}
}
