// Package disklru is a bounded, journaled key -> blob store on a
// billy.Filesystem. Every entry has a fixed number of slots. Writes go to
// temporary files and only become visible to readers after Commit, which
// renames them into place and appends a CLEAN record to the journal. An
// entry whose DIRTY record is never followed by CLEAN or REMOVE (the writer
// crashed) is discarded on the next Open.
//
// Total slot size is bounded by MaxSize; the least recently used entries are
// evicted synchronously after every commit.
package disklru

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/unkn0wn-root/imgcache/codec"
	"github.com/unkn0wn-root/imgcache/internal/logx"
	"github.com/unkn0wn-root/imgcache/internal/wire"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,120}$`)

// Options configure Open. MaxSize is required.
type Options struct {
	// AppVersion is the schema version of the stored blobs. A journal with a
	// different version fails Open unless ResetOnMismatch is set.
	AppVersion int
	// ValueCount is the number of slots per entry. 0 => 1.
	ValueCount int
	// MaxSize bounds the total bytes of all committed slots.
	MaxSize int64
	// Codec encodes journal records. nil => deterministic CBOR.
	Codec codec.Codec[Record]
	// MaxRecordSize bounds a single encoded journal record. 0 => 64 KiB.
	MaxRecordSize int
	// ResetOnMismatch wipes the directory instead of failing when the
	// journal schema differs.
	ResetOnMismatch bool
	// Logger receives recovery and eviction events. nil => no logging.
	Logger logx.Logger
}

type entry struct {
	key      string
	lengths  []int64
	readable bool
	editor   *Editor
}

func (e *entry) size() int64 {
	var n int64
	for _, l := range e.lengths {
		n += l
	}
	return n
}

// Cache is safe for concurrent use.
type Cache struct {
	fsys       billy.Filesystem
	dir        string
	appVersion int
	valueCount int
	codec      codec.Codec[Record]
	maxRecord  int
	log        logx.Logger

	mu        sync.Mutex
	maxSize   int64
	size      int64
	entries   *simplelru.LRU[string, *entry]
	journal   *journalWriter
	redundant int
	closed    bool
}

// Open opens (or creates) the cache rooted at dir. Any failure is reported
// as *InitializationError.
func Open(fsys billy.Filesystem, dir string, opts Options) (*Cache, error) {
	c, err := open(fsys, dir, opts)
	if err != nil {
		return nil, &InitializationError{Dir: dir, Err: err}
	}
	return c, nil
}

func open(fsys billy.Filesystem, dir string, opts Options) (*Cache, error) {
	if fsys == nil {
		return nil, errors.New("filesystem is required")
	}
	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("max size must be positive, got %d", opts.MaxSize)
	}
	if opts.ValueCount < 0 || opts.ValueCount > math.MaxUint16 {
		return nil, fmt.Errorf("invalid value count %d", opts.ValueCount)
	}
	if opts.AppVersion < 0 || int64(opts.AppVersion) > math.MaxUint32 {
		return nil, fmt.Errorf("invalid app version %d", opts.AppVersion)
	}

	c := &Cache{
		fsys:       fsys,
		dir:        dir,
		appVersion: opts.AppVersion,
		valueCount: opts.ValueCount,
		codec:      opts.Codec,
		maxRecord:  opts.MaxRecordSize,
		log:        opts.Logger,
		maxSize:    opts.MaxSize,
	}
	if c.valueCount == 0 {
		c.valueCount = 1
	}
	if c.codec == nil {
		cb, err := codec.NewCBOR[Record](true)
		if err != nil {
			return nil, err
		}
		c.codec = cb
	}
	if c.maxRecord <= 0 {
		c.maxRecord = defaultMaxRecordSize
	}
	c.codec = codec.LimitCodec[Record]{Inner: c.codec, MaxDecode: c.maxRecord}
	if c.log == nil {
		c.log = logx.NopLogger{}
	}
	entries, err := simplelru.NewLRU[string, *entry](math.MaxInt32, nil)
	if err != nil {
		return nil, err
	}
	c.entries = entries

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	// A backup exists only if a rebuild died between its two renames.
	bkp := c.path(journalFileBackup)
	if _, err := fsys.Stat(bkp); err == nil {
		if _, err := fsys.Stat(c.path(journalFile)); err == nil {
			_ = fsys.Remove(bkp)
		} else if err := fsys.Rename(bkp, c.path(journalFile)); err != nil {
			return nil, fmt.Errorf("restore journal backup: %w", err)
		}
	}

	torn, err := c.readJournal()
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return c, c.rebuildJournal()
	case errors.Is(err, wire.ErrCorrupt):
		c.log.Warn("disklru: unreadable journal header, starting fresh", logx.Fields{"dir": dir})
		return c, c.wipe()
	default:
		var se *SchemaError
		var ve *wire.VersionError
		if opts.ResetOnMismatch && (errors.As(err, &se) || errors.As(err, &ve)) {
			c.log.Info("disklru: schema changed, starting fresh", logx.Fields{"dir": dir, "err": err})
			return c, c.wipe()
		}
		return nil, err
	}

	c.processJournal()
	if torn || c.rebuildRequired() {
		if torn {
			c.log.Warn("disklru: torn journal tail, compacting", logx.Fields{"dir": dir})
		}
		if err := c.rebuildJournal(); err != nil {
			return nil, err
		}
	} else {
		jw, err := openJournalWriter(fsys, c.path(journalFile), c.codec, nil)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		c.journal = jw
	}
	c.trimLocked()
	return c, nil
}

func (c *Cache) path(name string) string { return c.fsys.Join(c.dir, name) }

func (c *Cache) cleanPath(key string, i int) string {
	return c.path(key + "." + strconv.Itoa(i))
}

func (c *Cache) dirtyPath(key string, i int) string {
	return c.path(key + "." + strconv.Itoa(i) + ".tmp")
}

// readJournal replays the journal into c.entries. torn reports a damaged
// tail: everything before it is applied.
func (c *Cache) readJournal() (torn bool, err error) {
	f, err := c.fsys.Open(c.path(journalFile))
	if err != nil {
		return false, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, journalBufferSize)
	h, err := readJournalHeader(br)
	if err != nil {
		return false, err
	}
	if int(h.AppVersion) != c.appVersion || int(h.ValueCount) != c.valueCount {
		return false, &SchemaError{
			AppVersion: int(h.AppVersion), WantAppVersion: c.appVersion,
			ValueCount: int(h.ValueCount), WantValueCount: c.valueCount,
		}
	}

	jr := &journalReader{r: br, codec: c.codec, max: c.maxRecord}
	lines := 0
	for {
		rec, err := jr.next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, wire.ErrTruncated) || errors.Is(err, wire.ErrCorrupt) {
			torn = true
			break
		}
		if err != nil {
			return false, err
		}
		c.applyRecord(rec)
		lines++
	}
	c.redundant = lines - c.entries.Len()
	return torn, nil
}

func (c *Cache) applyRecord(rec Record) {
	switch rec.Op {
	case OpRemove:
		c.entries.Remove(rec.Key)
		return
	case OpRead:
		c.entries.Get(rec.Key)
		return
	}
	e, ok := c.entries.Get(rec.Key)
	if !ok {
		e = &entry{key: rec.Key, lengths: make([]int64, c.valueCount)}
		c.entries.Add(rec.Key, e)
	}
	switch rec.Op {
	case OpClean:
		if len(rec.Lengths) != c.valueCount {
			c.entries.Remove(rec.Key)
			return
		}
		e.readable = true
		e.editor = nil
		copy(e.lengths, rec.Lengths)
	case OpDirty:
		e.editor = &Editor{}
	}
}

// processJournal drops entries whose write never completed and computes
// the initial size.
func (c *Cache) processJournal() {
	_ = c.fsys.Remove(c.path(journalFileTmp))
	for _, key := range c.entries.Keys() {
		e, _ := c.entries.Peek(key)
		if e.editor == nil && e.readable {
			c.size += e.size()
			continue
		}
		e.editor = nil
		for i := 0; i < c.valueCount; i++ {
			_ = c.fsys.Remove(c.cleanPath(key, i))
			_ = c.fsys.Remove(c.dirtyPath(key, i))
		}
		c.entries.Remove(key)
		c.log.Debug("disklru: dropped incomplete entry", logx.Fields{"key": key})
	}
}

// rebuildJournal writes a compact journal holding one record per live entry
// (oldest first) and swaps it in.
func (c *Cache) rebuildJournal() error {
	h := wire.Header{AppVersion: uint32(c.appVersion), ValueCount: uint16(c.valueCount)}
	tmp, err := openJournalWriter(c.fsys, c.path(journalFileTmp), c.codec, &h)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	for _, key := range c.entries.Keys() {
		e, _ := c.entries.Peek(key)
		rec := Record{Op: OpClean, Key: key, Lengths: e.lengths}
		if e.editor != nil {
			rec = Record{Op: OpDirty, Key: key}
		}
		if err := tmp.append(rec); err != nil {
			_ = tmp.close()
			return fmt.Errorf("write journal: %w", err)
		}
	}
	if err := tmp.close(); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}

	if c.journal != nil {
		_ = c.journal.close()
		c.journal = nil
	}
	swapErr := c.swapJournal()
	jw, err := openJournalWriter(c.fsys, c.path(journalFile), c.codec, nil)
	if err != nil {
		return errors.Join(swapErr, fmt.Errorf("open journal: %w", err))
	}
	c.journal = jw
	if swapErr != nil {
		return swapErr
	}
	c.redundant = 0
	return nil
}

// swapJournal installs journal.tmp as the journal, keeping the previous one
// as journal.bkp until the swap is done.
func (c *Cache) swapJournal() error {
	cur, bkp := c.path(journalFile), c.path(journalFileBackup)
	if _, err := c.fsys.Stat(cur); err == nil {
		if err := c.fsys.Rename(cur, bkp); err != nil {
			return fmt.Errorf("backup journal: %w", err)
		}
	}
	if err := c.fsys.Rename(c.path(journalFileTmp), cur); err != nil {
		_ = c.fsys.Rename(bkp, cur)
		return fmt.Errorf("install journal: %w", err)
	}
	_ = c.fsys.Remove(bkp)
	return nil
}

// appendLocked writes rec to the journal; flush pushes it to the file.
func (c *Cache) appendLocked(rec Record, flush bool) error {
	if c.journal == nil {
		return errors.New("disklru: journal unavailable")
	}
	if err := c.journal.append(rec); err != nil {
		return err
	}
	if flush {
		return c.journal.flush()
	}
	return nil
}

// wipe deletes every file under dir and starts an empty journal.
func (c *Cache) wipe() error {
	if err := c.removeContents(); err != nil {
		return err
	}
	c.entries.Purge()
	c.size = 0
	return c.rebuildJournal()
}

func (c *Cache) removeContents() error {
	infos, err := c.fsys.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, fi := range infos {
		if err := util.RemoveAll(c.fsys, c.path(fi.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) rebuildRequired() bool {
	return c.redundant >= redundantOpCompactThreshold && c.redundant >= c.entries.Len()
}

func (c *Cache) checkLocked(key string) error {
	if c.closed {
		return ErrClosed
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Get returns a snapshot of the committed entry for key, or nil if there is
// none. A write in progress is never visible.
func (c *Cache) Get(key string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLocked(key); err != nil {
		return nil, err
	}
	e, ok := c.entries.Get(key)
	if !ok || !e.readable {
		return nil, nil
	}

	files := make([]billy.File, 0, c.valueCount)
	for i := 0; i < c.valueCount; i++ {
		f, err := c.fsys.Open(c.cleanPath(key, i))
		if err != nil {
			for _, opened := range files {
				_ = opened.Close()
			}
			if errors.Is(err, os.ErrNotExist) {
				// removed behind our back
				return nil, nil
			}
			return nil, err
		}
		files = append(files, f)
	}

	c.redundant++
	if err := c.appendLocked(Record{Op: OpRead, Key: key}, false); err != nil {
		c.log.Warn("disklru: journal append failed", logx.Fields{"op": OpRead.String(), "err": err})
	}
	if c.rebuildRequired() {
		if err := c.rebuildJournal(); err != nil {
			c.log.Error("disklru: journal rebuild failed", logx.Fields{"err": err})
		}
	}

	lengths := make([]int64, len(e.lengths))
	copy(lengths, e.lengths)
	return &Snapshot{key: key, files: files, lengths: lengths}, nil
}

// Edit opens a writer for key. It returns ErrWriteConflict while another
// editor for the same key is open.
func (c *Cache) Edit(key string) (*Editor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLocked(key); err != nil {
		return nil, err
	}
	e, ok := c.entries.Peek(key)
	if ok && e.editor != nil {
		return nil, fmt.Errorf("%w: %s", ErrWriteConflict, key)
	}
	if !ok {
		e = &entry{key: key, lengths: make([]int64, c.valueCount)}
		c.entries.Add(key, e)
	}
	ed := &Editor{c: c, entry: e, written: make([]bool, c.valueCount)}
	e.editor = ed

	// The DIRTY record must reach the file before any slot data does, so
	// that a crash leaves something for recovery to clean up.
	if err := c.appendLocked(Record{Op: OpDirty, Key: key}, true); err != nil {
		e.editor = nil
		if !e.readable {
			c.entries.Remove(key)
		}
		return nil, fmt.Errorf("disklru: journal: %w", err)
	}
	return ed, nil
}

// completeEdit publishes (success) or discards the editor's slots. Callers
// hold c.mu.
func (c *Cache) completeEdit(ed *Editor, success bool) error {
	e := ed.entry
	if e.editor != ed {
		return ErrEditorDone
	}
	ed.closeWriters()

	var failure error
	if success && !e.readable {
		// a first publish must provide every slot
		for i := 0; i < c.valueCount; i++ {
			if !ed.written[i] {
				failure = fmt.Errorf("disklru: new entry %s has no value for slot %d", e.key, i)
				success = false
				break
			}
			if _, err := c.fsys.Stat(c.dirtyPath(e.key, i)); err != nil {
				failure = fmt.Errorf("disklru: slot %d of %s: %w", i, e.key, err)
				success = false
				break
			}
		}
	}

	for i := 0; i < c.valueCount; i++ {
		dirty := c.dirtyPath(e.key, i)
		if !success {
			_ = c.fsys.Remove(dirty)
			continue
		}
		fi, err := c.fsys.Stat(dirty)
		if err != nil {
			// slot left untouched by this edit
			continue
		}
		if err := c.fsys.Rename(dirty, c.cleanPath(e.key, i)); err != nil {
			failure = fmt.Errorf("disklru: publish slot %d of %s: %w", i, e.key, err)
			continue
		}
		c.size += fi.Size() - e.lengths[i]
		e.lengths[i] = fi.Size()
	}

	c.redundant++
	e.editor = nil
	var jerr error
	if e.readable || success {
		e.readable = true
		c.entries.Get(e.key)
		jerr = c.appendLocked(Record{Op: OpClean, Key: e.key, Lengths: e.lengths}, true)
	} else {
		c.entries.Remove(e.key)
		jerr = c.appendLocked(Record{Op: OpRemove, Key: e.key}, true)
	}
	if jerr != nil {
		c.log.Warn("disklru: journal write failed", logx.Fields{"key": e.key, "err": jerr})
	}

	c.trimLocked()
	if c.rebuildRequired() {
		if err := c.rebuildJournal(); err != nil {
			c.log.Error("disklru: journal rebuild failed", logx.Fields{"err": err})
		}
	}
	return failure
}

// Remove drops the committed entry for key. It reports false when there is
// nothing to remove or the entry is being written.
func (c *Cache) Remove(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLocked(key); err != nil {
		return false, err
	}
	return c.removeLocked(key)
}

func (c *Cache) removeLocked(key string) (bool, error) {
	e, ok := c.entries.Peek(key)
	if !ok || e.editor != nil {
		return false, nil
	}
	for i := 0; i < c.valueCount; i++ {
		if err := c.fsys.Remove(c.cleanPath(key, i)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("disklru: remove %s slot %d: %w", key, i, err)
		}
		c.size -= e.lengths[i]
		e.lengths[i] = 0
	}
	c.redundant++
	c.entries.Remove(key)
	if err := c.appendLocked(Record{Op: OpRemove, Key: key}, false); err != nil {
		c.log.Warn("disklru: journal append failed", logx.Fields{"op": OpRemove.String(), "err": err})
	}
	return true, nil
}

// trimLocked evicts least recently used entries until size <= maxSize.
// Entries with an open editor are skipped.
func (c *Cache) trimLocked() {
	if c.size <= c.maxSize {
		return
	}
	for _, key := range c.entries.Keys() {
		if c.size <= c.maxSize {
			return
		}
		removed, err := c.removeLocked(key)
		if err != nil {
			c.log.Warn("disklru: eviction failed", logx.Fields{"key": key, "err": err})
			continue
		}
		if removed {
			c.log.Debug("disklru: evicted", logx.Fields{"key": key, "size": c.size, "max_size": c.maxSize})
		}
	}
}

// Flush trims to MaxSize and forces the journal to stable storage.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.trimLocked()
	if c.journal == nil {
		return errors.New("disklru: journal unavailable")
	}
	return c.journal.sync()
}

// Size returns the bytes held by committed slots.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Cache) MaxSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// SetMaxSize changes the bound and evicts immediately if needed.
func (c *Cache) SetMaxSize(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = n
	c.trimLocked()
}

// Len returns the number of entries, including ones being written.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Dir returns the directory the cache lives in.
func (c *Cache) Dir() string { return c.dir }

// Close aborts open editors and closes the journal. Closing twice is a no-op.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Cache) closeLocked() error {
	if c.closed {
		return nil
	}
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && e.editor != nil {
			_ = c.completeEdit(e.editor, false)
		}
	}
	c.trimLocked()
	c.closed = true
	if c.journal == nil {
		return nil
	}
	return c.journal.close()
}

// Delete closes the cache and removes everything under its directory.
func (c *Cache) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.closeLocked(); err != nil {
		return err
	}
	return c.removeContents()
}
