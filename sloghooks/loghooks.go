// Package sloghooks logs imgcache events through log/slog with sampling and
// key redaction.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/imgcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitEvery   uint64
	StaleEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix. URLs passed to
	// NetworkFetch go through it too.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr   atomic.Uint64
	staleCtr atomic.Uint64
}

var _ imgcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) MemoryHit(key string) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("imgcache.memory_hit", "key", h.redact(key))
}

func (h *Hooks) DiskHit(key string) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("imgcache.disk_hit", "key", h.redact(key))
}

func (h *Hooks) NetworkFetch(key, url string) {
	if h.l == nil {
		return
	}
	h.l.Debug("imgcache.network_fetch",
		"key", h.redact(key),
		"url", h.redact(url))
}

func (h *Hooks) FillFailed(key string, stage imgcache.Stage, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("imgcache.fill_failed",
		"key", h.redact(key),
		"stage", string(stage),
		"err", err)
}

func (h *Hooks) StaleDropped(key, requestKey, currentTag string) {
	if h.l == nil || !sample(h.opts.StaleEvery, &h.staleCtr) {
		return
	}
	h.l.Debug("imgcache.stale_dropped",
		"key", h.redact(key),
		"request", h.redact(requestKey),
		"current", h.redact(currentTag))
}

func (h *Hooks) WriteConflict(key string) {
	if h.l == nil {
		return
	}
	h.l.Info("imgcache.write_conflict", "key", h.redact(key))
}

func (h *Hooks) DiskDisabled(dir string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("imgcache.disk_disabled",
		"dir", dir,
		"err", err)
}
