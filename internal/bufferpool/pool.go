// Package bufferpool implements a fixed-size buffer pool bound to one
// FileSet: pages are cached in a fixed array of frames, located via an
// extendible hash table keyed by page ID, and evicted via a pluggable
// Replacer policy (LRU by default).
package bufferpool

import (
	"errors"
	"log/slog"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/kvedu/pageengine/internal/hash"
	"github.com/kvedu/pageengine/internal/replacer"
	"github.com/kvedu/pageengine/internal/storage"
	"github.com/kvedu/pageengine/internal/wal"
)

var (
	logPrefix = "bufferpool: "

	// DefaultCapacity is used when NewPool is given a non-positive capacity.
	DefaultCapacity = 16

	// ErrNoFreeFrame is returned when no unpinned frame is available for replacement.
	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")

	// ErrPagePinned is returned when trying to evict/delete a pinned page.
	ErrPagePinned = errors.New("bufferpool: page is pinned")
)

// Manager is a simple buffer pool interface for table/index-level usage.
type Manager interface {
	GetPage(pageID uint32) (*storage.Page, error)
	Unpin(page *storage.Page, dirty bool) error
	FlushAll() error
	DeletePageFromBuffer(pageID uint32) error
}

// Frame holds a single cached page and its metadata inside the pool.
type Frame struct {
	PageID uint32
	Page   *storage.Page
	Dirty  bool
	Pin    int32
}

var _ Manager = (*Pool)(nil)

// Pool is a fixed-size buffer pool bound to one FileSet (one relation or
// index). The page table maps pageID -> frame index via an extendible hash
// table; eviction order is delegated to a Replacer.
type Pool struct {
	sm *storage.StorageManager
	fs storage.FileSet

	mu        sync.Mutex
	frames    []*Frame // fixed-size slice, len == capacity, nil == free slot
	pageTable *hash.Table[uint32, int]
	capacity  int
	repl      replacer.Replacer
	wal       *wal.Manager // nil unless opened via NewPoolWithWAL or NewPoolWithConfig

	// hits/misses mirror the page-table lookup outcome without requiring
	// p.mu: callers reporting pool stats (e.g. a CLI "stats" command) can
	// read them without contending with page traffic.
	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats is a point-in-time snapshot of pool activity counters.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Capacity   int
	TableDepth int // page table's current extendible-hash global depth
	Evictable  int // frames the replacer could evict right now
}

func pageIDHash(pageID uint32) uint64 {
	// A page ID is already a well-distributed integer key; fibonacci hashing
	// spreads its low bits so nearby page IDs don't cluster in one bucket.
	return uint64(pageID) * 11400714819323198485
}

// defaultBucketSize is the page table's per-bucket capacity when the caller
// doesn't override it via NewPoolWithConfig (config's buffer_pool.bucket_size).
const defaultBucketSize = 4

// NewPool creates a new buffer pool with the given capacity, using LRU as
// the default replacement policy. If capacity <= 0, DefaultCapacity is used.
func NewPool(sm *storage.StorageManager, fs storage.FileSet, capacity int) *Pool {
	return NewPoolWithReplacer(sm, fs, capacity, nil)
}

// NewPoolWithReplacer is like NewPool but lets the caller pick the
// replacement policy (e.g. replacer.NewClock(capacity)). A nil repl
// defaults to LRU.
func NewPoolWithReplacer(sm *storage.StorageManager, fs storage.FileSet, capacity int, repl replacer.Replacer) *Pool {
	return newPool(sm, fs, capacity, defaultBucketSize, repl)
}

func newPool(sm *storage.StorageManager, fs storage.FileSet, capacity, bucketSize int, repl replacer.Replacer) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if bucketSize <= 0 {
		bucketSize = defaultBucketSize
	}
	if repl == nil {
		repl = replacer.NewLRU(capacity)
	}
	return &Pool{
		sm:        sm,
		fs:        fs,
		frames:    make([]*Frame, capacity),
		pageTable: hash.New[uint32, int](bucketSize, pageIDHash),
		capacity:  capacity,
		repl:      repl,
	}
}

// NewPoolWithWAL is like NewPoolWithReplacer but additionally logs every
// page write-back (eviction, FlushAll) to walMgr before it reaches the data
// file. WAL replay is this module's caller's responsibility, if any (see
// wal.Manager.Recover); this pool only ever appends and flushes, never reads
// the log back. A nil walMgr disables logging, same as the other
// constructors.
func NewPoolWithWAL(sm *storage.StorageManager, fs storage.FileSet, capacity int, repl replacer.Replacer, walMgr *wal.Manager) *Pool {
	p := NewPoolWithReplacer(sm, fs, capacity, repl)
	p.wal = walMgr
	return p
}

// NewPoolWithConfig is the fully-parameterized constructor: it lets the
// caller pick the page table's bucket size (config's buffer_pool.bucket_size)
// in addition to everything NewPoolWithWAL exposes.
func NewPoolWithConfig(sm *storage.StorageManager, fs storage.FileSet, capacity, bucketSize int, repl replacer.Replacer, walMgr *wal.Manager) *Pool {
	p := newPool(sm, fs, capacity, bucketSize, repl)
	p.wal = walMgr
	return p
}

// logToWAL appends a page image before it is written to the data file. Only
// LocalFileSet is supported, matching the rest of the package's bespoke
// Dir/Base addressing; other FileSet implementations silently skip logging
// since WAL durability here is an ambient concern, not a correctness one.
func (p *Pool) logToWAL(pageID uint32, page *storage.Page) {
	if p.wal == nil {
		return
	}
	lfs, ok := p.fs.(storage.LocalFileSet)
	if !ok {
		return
	}
	lsn, err := p.wal.AppendPageImage(lfs.Dir, lfs.Base, pageID, page.Buf)
	if err != nil {
		slog.Error(logPrefix+"wal append failed", "pageID", pageID, "err", err)
		return
	}
	if err := p.wal.Flush(lsn); err != nil {
		slog.Error(logPrefix+"wal flush failed", "pageID", pageID, "err", err)
	}
}

// GetPage returns a page from the buffer pool and increases its pin count.
// If the page is not resident, it is loaded from disk into a free frame,
// evicting a victim chosen by the Replacer when the pool is full.
func (p *Pool) GetPage(pageID uint32) (*storage.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.pageTable.Get(pageID); ok {
		f := p.frames[idx]
		if f == nil {
			slog.Error(logPrefix+"page table points to nil frame", "pageID", pageID, "frameIdx", idx)
			p.pageTable.Delete(pageID)
		} else {
			wasZero := f.Pin == 0
			f.Pin++
			p.repl.RecordAccess(idx)
			if wasZero {
				p.repl.SetEvictable(idx, false)
			}
			p.hits.Inc()
			return f.Page, nil
		}
	}

	p.misses.Inc()

	if freeIdx := p.findFreeFrameLocked(); freeIdx != -1 {
		page, err := p.sm.LoadPage(p.fs, pageID)
		if err != nil {
			return nil, err
		}
		p.frames[freeIdx] = &Frame{PageID: pageID, Page: page, Pin: 1}
		p.pageTable.Put(pageID, freeIdx)
		p.repl.RecordAccess(freeIdx)
		p.repl.SetEvictable(freeIdx, false)
		return page, nil
	}

	return p.evictAndLoadLocked(pageID)
}

func (p *Pool) findFreeFrameLocked() int {
	for i, f := range p.frames {
		if f == nil {
			return i
		}
	}
	return -1
}

func (p *Pool) evictAndLoadLocked(pageID uint32) (*storage.Page, error) {
	victimIdx, ok := p.repl.Evict()
	if !ok {
		return nil, ErrNoFreeFrame
	}
	victim := p.frames[victimIdx]
	if victim == nil {
		return nil, ErrNoFreeFrame
	}

	if victim.Dirty {
		p.logToWAL(victim.PageID, victim.Page)
		if err := p.sm.SavePage(p.fs, victim.PageID, *victim.Page); err != nil {
			p.repl.SetEvictable(victimIdx, true)
			return nil, err
		}
		victim.Dirty = false
	}

	page, err := p.sm.LoadPage(p.fs, pageID)
	if err != nil {
		p.repl.SetEvictable(victimIdx, true)
		return nil, err
	}

	p.pageTable.Delete(victim.PageID)

	victim.PageID = pageID
	victim.Page = page
	victim.Dirty = false
	victim.Pin = 1

	p.pageTable.Put(pageID, victimIdx)
	p.repl.RecordAccess(victimIdx)
	p.repl.SetEvictable(victimIdx, false)

	return page, nil
}

// Unpin decreases a page's pin count and marks it dirty if requested. Once
// the pin count reaches zero, the frame becomes eligible for eviction.
func (p *Pool) Unpin(page *storage.Page, dirty bool) error {
	if page == nil {
		return nil
	}
	pageID := page.PageID()

	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable.Get(pageID)
	if !ok {
		return nil
	}
	f := p.frames[idx]
	if f == nil {
		return nil
	}

	if dirty {
		f.Dirty = true
	}
	if f.Pin > 0 {
		f.Pin--
		if f.Pin == 0 {
			p.repl.SetEvictable(idx, true)
		}
	}
	return nil
}

// FlushAll writes every dirty frame back to disk. A write failure on one
// frame does not stop the sweep: every frame gets a flush attempt, and all
// failures are reported together.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for _, f := range p.frames {
		if f == nil || !f.Dirty {
			continue
		}
		p.logToWAL(f.PageID, f.Page)
		if saveErr := p.sm.SavePage(p.fs, f.PageID, *f.Page); saveErr != nil {
			err = multierr.Append(err, saveErr)
			continue
		}
		f.Dirty = false
	}
	return err
}

// Stats returns a snapshot of pool hit/miss counters. Hits/Misses are
// safe to read concurrently with page traffic without p.mu; TableDepth
// and Evictable each briefly take their own internal lock (the page
// table's and the replacer's), not p.mu.
func (p *Pool) Stats() Stats {
	return Stats{
		Hits:       p.hits.Load(),
		Misses:     p.misses.Load(),
		Capacity:   p.capacity,
		TableDepth: p.pageTable.Depth(),
		Evictable:  p.repl.Size(),
	}
}

// DeletePageFromBuffer removes a page from the pool without touching disk.
// It fails with ErrPagePinned if the page is currently pinned.
func (p *Pool) DeletePageFromBuffer(pageID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.pageTable.Get(pageID)
	if !ok {
		return nil
	}
	f := p.frames[idx]
	if f == nil {
		p.pageTable.Delete(pageID)
		return nil
	}
	if f.Pin != 0 {
		return ErrPagePinned
	}

	p.frames[idx] = nil
	p.pageTable.Delete(pageID)
	p.repl.Remove(idx)
	return nil
}

// Reset drops every cached frame without flushing, for use by callers that
// are about to delete the underlying FileSet entirely.
// Pinned pages block the reset with ErrPagePinned.
func (p *Pool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, f := range p.frames {
		if f != nil && f.Pin != 0 {
			return ErrPagePinned
		}
	}
	for i, f := range p.frames {
		if f == nil {
			continue
		}
		p.pageTable.Delete(f.PageID)
		p.frames[i] = nil
		p.repl.Remove(i)
	}
	return nil
}
