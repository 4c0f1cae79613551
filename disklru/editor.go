package disklru

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"

	"github.com/unkn0wn-root/imgcache/internal/logx"
)

// Editor writes the slots of one entry. Nothing it writes is visible to Get
// until Commit. An Editor must end with exactly one Commit or Abort.
type Editor struct {
	c       *Cache
	entry   *entry
	written []bool
	writers []*slotWriter

	hasErrors atomic.Bool
}

// NewWriter returns a writer for slot i. Opening the same slot twice
// truncates what the first writer produced.
func (ed *Editor) NewWriter(i int) (io.WriteCloser, error) {
	c := ed.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if ed.entry.editor != ed {
		return nil, ErrEditorDone
	}
	if i < 0 || i >= c.valueCount {
		return nil, fmt.Errorf("disklru: slot %d out of range [0,%d)", i, c.valueCount)
	}
	f, err := c.fsys.Create(c.dirtyPath(ed.entry.key, i))
	if err != nil {
		return nil, fmt.Errorf("disklru: create slot %d: %w", i, err)
	}
	ed.written[i] = true
	w := &slotWriter{f: f, ed: ed}
	ed.writers = append(ed.writers, w)
	return w, nil
}

// Key returns the key being written.
func (ed *Editor) Key() string { return ed.entry.key }

// Commit publishes the written slots. If any write failed the entry is
// removed instead and an error is returned.
func (ed *Editor) Commit() error {
	c := ed.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if ed.entry.editor != ed {
		return ErrEditorDone
	}
	if ed.hasErrors.Load() {
		_ = c.completeEdit(ed, false)
		if _, err := c.removeLocked(ed.entry.key); err != nil {
			c.log.Warn("disklru: remove after failed write", logx.Fields{"key": ed.entry.key, "err": err})
		}
		return fmt.Errorf("disklru: write of %s failed, entry dropped", ed.entry.key)
	}
	return c.completeEdit(ed, true)
}

// Abort discards everything written through this editor.
func (ed *Editor) Abort() error {
	c := ed.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completeEdit(ed, false)
}

// AbortUnlessCommitted is Abort for use in a defer after Commit.
func (ed *Editor) AbortUnlessCommitted() {
	if err := ed.Abort(); err != nil && !errors.Is(err, ErrEditorDone) {
		ed.c.log.Warn("disklru: abort failed", logx.Fields{"key": ed.entry.key, "err": err})
	}
}

// closeWriters closes slot files still open. Callers hold the cache lock.
func (ed *Editor) closeWriters() {
	for _, w := range ed.writers {
		_ = w.Close()
	}
	ed.writers = nil
}

// slotWriter records I/O failures on its editor so Commit can refuse to
// publish a partial slot.
type slotWriter struct {
	f      billy.File
	ed     *Editor
	closed atomic.Bool
}

func (w *slotWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrEditorDone
	}
	n, err := w.f.Write(p)
	if err != nil {
		w.ed.hasErrors.Store(true)
	}
	return n, err
}

func (w *slotWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := w.f.Close(); err != nil {
		w.ed.hasErrors.Store(true)
		return err
	}
	return nil
}
