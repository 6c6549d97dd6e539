// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pagecache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GoogleCloudPlatform/pagecached/clock"
	"github.com/GoogleCloudPlatform/pagecached/common"
)

// Tunables are the environment-free constants driving flushing and
// eviction. DefaultTunables returns the standard profile.
type Tunables struct {
	// Percent-of-RAM thresholds for physical trim: trimming starts
	// when free pages drop below the trigger, removes enough entries
	// to lift free pages to the retreat mark, and never shrinks the
	// cache below the absolute minimum. The working-set floor is the
	// size below which pageout of user pages is requested instead of
	// further shrinking.
	HeadroomTriggerPercent float64
	HeadroomRetreatPercent float64
	WorkingSetFloorPercent float64
	AbsoluteMinimumPercent float64

	// Virtual-space thresholds in bytes; the profile differs between
	// small and large virtual address spaces.
	VirtualTriggerBytes int64
	VirtualRetreatBytes int64

	// FlushMax bounds one coalesced write; CleanStreakMax is how many
	// consecutive already-clean pages a dirty run may span.
	FlushMax       int64
	CleanStreakMax int

	// CleanDelay is how long the worker's one-shot timer waits, once
	// Schedule arms it on the first page dirtied since the last clean
	// cycle, before the next cycle runs.
	CleanDelay time.Duration

	// LowMemoryCleanMinPercent (capped at LowMemoryCleanCapPages) is
	// the number of clean pages that must exist before a flush under
	// memory pressure defers to eviction.
	LowMemoryCleanMinPercent float64
	LowMemoryCleanCapPages   int64

	// MaxDirtyShift bounds dirty pages to ideal-cache-size >> shift.
	MaxDirtyShift uint

	// DebugCheckDirtyLists runs the dirty-list consistency checker
	// after every flush. Slow; for debugging missing dirty pages.
	DebugCheckDirtyLists bool

	// TraceAccessPatterns records per-object lookup streams and has
	// the worker log a classification line each cycle.
	TraceAccessPatterns bool

	// ExitOnInvariantViolation makes the consistency checker fatal.
	ExitOnInvariantViolation bool
}

// DefaultTunables returns the standard profile. largeVM selects the
// 64-bit virtual trigger/retreat pair.
func DefaultTunables(largeVM bool) Tunables {
	t := Tunables{
		HeadroomTriggerPercent:   10,
		HeadroomRetreatPercent:   15,
		WorkingSetFloorPercent:   33,
		AbsoluteMinimumPercent:   7,
		VirtualTriggerBytes:      512 << 20,
		VirtualRetreatBytes:      896 << 20,
		FlushMax:                 128 << 10,
		CleanStreakMax:           4,
		CleanDelay:               5 * time.Second,
		LowMemoryCleanMinPercent: 10,
		LowMemoryCleanCapPages:   256,
		MaxDirtyShift:            1,
	}
	if largeVM {
		t.VirtualTriggerBytes = 1 << 30
		t.VirtualRetreatBytes = 3 << 30
	}
	return t
}

// Cache is the process-wide page cache. One instance is created at
// startup and never torn down.
type Cache struct {
	mem     MemoryManager
	writer  NonCachedWriter
	clk     clock.Clock
	metrics common.MetricHandle
	tun     Tunables

	// Derived page targets, fixed at construction.
	headroomTriggerPages int64
	headroomRetreatPages int64
	minimumPages         int64
	workingSetFloorPages int64
	lowMemCleanMinPages  int64

	slab *entrySlab

	// listMu is the global list lock. It protects the three
	// process-wide lists, every object's dirty list, and the hook
	// field of every entry. It nests inside the per-object locks.
	listMu         sync.Mutex
	cleanLRU       entryList
	cleanUnmapped  entryList
	pendingRemoval entryList

	entryCount       atomic.Int64
	physicalPages    atomic.Int64
	dirtyPages       atomic.Int64
	mappedPages      atomic.Int64
	mappedDirtyPages atomic.Int64

	// dirtyObjects tracks which objects currently have dirty pages so
	// the worker can flush them all without a global object registry.
	dirtyMu      sync.Mutex
	dirtyObjects map[uuid.UUID]FileObject

	// patterns holds per-object access-pattern probes when tracing is
	// on.
	patternMu sync.Mutex
	patterns  map[uuid.UUID]*common.AccessPatternVisualizer

	// Worker scheduling state, last-clean timestamp, and wakeup
	// machinery live in worker.go.
	state         atomic.Int32
	lastCleanTime atomic.Int64
	cleanTimer    *clock.Timer
	rearm         chan struct{}
	stopCh        chan struct{}
	workerDone    chan struct{}
	workerRunning atomic.Bool
}

// New creates the cache. The tunables' percent thresholds are resolved
// against the memory manager's total physical pages once, here.
func New(mem MemoryManager, writer NonCachedWriter, clk clock.Clock, metrics common.MetricHandle, tun Tunables) *Cache {
	total := mem.TotalPhysicalPages()
	pctPages := func(p float64) int64 { return int64(float64(total) * p / 100) }
	c := &Cache{
		mem:                  mem,
		writer:               writer,
		clk:                  clk,
		metrics:              metrics,
		tun:                  tun,
		headroomTriggerPages: pctPages(tun.HeadroomTriggerPercent),
		headroomRetreatPages: pctPages(tun.HeadroomRetreatPercent),
		minimumPages:         pctPages(tun.AbsoluteMinimumPercent),
		workingSetFloorPages: pctPages(tun.WorkingSetFloorPercent),
		lowMemCleanMinPages:  pctPages(tun.LowMemoryCleanMinPercent),
		slab:                 newEntrySlab(),
		dirtyObjects:         make(map[uuid.UUID]FileObject),
		patterns:             make(map[uuid.UUID]*common.AccessPatternVisualizer),
		cleanTimer:           clock.NewTimer(clk),
		rearm:                make(chan struct{}, 1),
		stopCh:               make(chan struct{}),
		workerDone:           make(chan struct{}),
	}
	if c.lowMemCleanMinPages > tun.LowMemoryCleanCapPages {
		c.lowMemCleanMinPages = tun.LowMemoryCleanCapPages
	}
	return c
}

// Lookup searches the object's index for the page at offset. On a hit
// it takes a reference and refreshes the entry's LRU position. The
// caller must hold the object lock at least shared.
func (c *Cache) Lookup(obj FileObject, offset int64) *Entry {
	start := c.clk.Now()
	e := c.lookupLocked(obj, offset)
	if e != nil {
		c.updateEntryList(e, false)
	}
	if c.tun.TraceAccessPatterns {
		c.recordAccess(obj, offset)
	}
	c.metrics.OpCount(context.Background(), common.OpLookup, 1)
	c.metrics.OpLatency(context.Background(), common.OpLookup, c.clk.Now().Sub(start))
	return e
}

// lookupLocked searches the index and takes a reference on a hit.
func (c *Cache) lookupLocked(obj FileObject, offset int64) *Entry {
	e := obj.CacheState().index.search(offset)
	if e == nil {
		return nil
	}
	e.acquire()
	return e
}

// CreateOrLookup installs a page for (obj, offset), or returns the
// existing entry if one raced in. The returned entry carries a
// reference. The caller must hold the object lock exclusively. A nil
// return means the entry record could not be allocated; callers
// proceed uncached.
func (c *Cache) CreateOrLookup(obj FileObject, va VirtualAddr, pa PhysicalAddr, offset int64, link *Entry) (entry *Entry, created bool) {
	candidate := c.newEntry(obj, va, pa, offset)
	existing := c.lookupLocked(obj, offset)
	if existing == nil {
		c.insertEntry(candidate, link)
		entry, created = candidate, true
	} else {
		candidate.refCount.Store(0)
		c.destroyEntry(candidate)
		entry = existing
	}
	c.updateEntryList(entry, created)
	c.metrics.OpCount(context.Background(), common.OpCreateOrLookup, 1)
	return entry, created
}

// CreateAndInsert is the fast path for callers that know no collision
// is possible, such as a freshly extended file region. The caller must
// hold the object lock exclusively.
func (c *Cache) CreateAndInsert(obj FileObject, va VirtualAddr, pa PhysicalAddr, offset int64, link *Entry) *Entry {
	e := c.newEntry(obj, va, pa, offset)
	if obj.CacheState().index.search(offset) != nil {
		panic(ErrCollision)
	}
	c.insertEntry(e, link)
	c.updateEntryList(e, true)
	c.metrics.OpCount(context.Background(), common.OpCreateInsert, 1)
	return e
}

// newEntry allocates an entry record born with one reference and no
// flags, holding a reference on its object.
func (c *Cache) newEntry(obj FileObject, va VirtualAddr, pa PhysicalAddr, offset int64) *Entry {
	if offset%PageSize != 0 {
		panic("pagecache: unaligned page offset")
	}
	e := c.slab.get()
	obj.AddReference()
	e.cache = c
	e.object = obj
	e.offset = offset
	e.hook.owner = e
	e.physical.Store(uintptr(pa))
	e.virtual.Store(uintptr(va))
	e.refCount.Store(1)
	return e
}

// insertEntry adds a born entry to its object's index and resolves
// ownership against an optional link entry sharing the same physical
// page. The caller must hold the object lock exclusively.
func (c *Cache) insertEntry(e *Entry, link *Entry) {
	st := e.object.CacheState()
	st.index.insert(e)
	e.attached.Store(true)
	c.entryCount.Add(1)

	if link == nil {
		if e.virtual.Load() != 0 {
			e.setFlags(flagMapped)
			c.mappedPages.Add(1)
		}
		e.setFlags(flagOwner)
		c.physicalPages.Add(1)
		return
	}

	linkType := link.object.Type()
	newType := e.object.Type()
	if linkType == newType {
		panic("pagecache: linking entries of equal object type")
	}
	if link.physical.Load() != e.physical.Load() {
		panic("pagecache: linking entries with different physical pages")
	}
	if linkType == BlockDevice {
		// File page over an existing block-device page: the device
		// entry keeps ownership and the new entry borrows.
		link.acquire()
		e.backing.Store(link)
	} else {
		// Block-device page inserted under an existing file page: the
		// new device entry takes over ownership and the file entry
		// becomes the borrower.
		e.acquire()
		link.backing.Store(e)
		old := link.clearFlags(flagOwner | flagMapped)
		if old&flagDirty != 0 {
			panic("pagecache: dirty entry losing page ownership")
		}
		e.setFlags(flagOwner)
		if old&flagMapped != 0 {
			va := link.virtual.Load()
			e.virtual.Store(va)
			e.setFlags(flagMapped)
		}
	}
}

// removeFromIndex detaches an entry from its object's index. The
// caller must hold the object lock exclusively. Removal is final.
func (c *Cache) removeFromIndex(e *Entry) {
	st := e.object.CacheState()
	st.index.remove(e)
	e.attached.Store(false)
	c.entryCount.Add(-1)
}

// updateEntryList gives a looked-up or created entry its list
// position: new entries start at the tail of clean-LRU; existing clean
// listed entries move to the tail.
func (c *Cache) updateEntryList(e *Entry, created bool) {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	if created {
		c.cleanLRU.pushBack(e)
		return
	}
	if !e.hasFlags(flagDirty) && e.onList() {
		unlink(e)
		c.cleanLRU.pushBack(e)
	}
}

// destroyEntry tears an entry down: physical page if owner, backing
// reference if borrower, object reference, then the record itself.
// The entry must be clean, off every list, with no references, and
// removed from its index (or never inserted).
func (c *Cache) destroyEntry(e *Entry) {
	if e.hasFlags(flagDirty) {
		panic("pagecache: destroying dirty entry")
	}
	if e.refCount.Load() != 0 {
		panic("pagecache: destroying referenced entry")
	}
	if e.hasFlags(flagOwner) {
		if e.hasFlags(flagMapped) {
			va := VirtualAddr(e.virtual.Load())
			c.mem.UnmapVARange(va, PageSize)
			c.mappedPages.Add(-1)
			e.clearFlags(flagMapped)
			e.virtual.Store(0)
		}
		c.mem.FreePhysicalPage(PhysicalAddr(e.physical.Load()))
		c.physicalPages.Add(-1)
		e.physical.Store(0)
	} else if b := e.backing.Load(); b != nil {
		e.backing.Store(nil)
		b.release()
	}
	obj := e.object
	c.slab.put(e)
	obj.ReleaseReference()
}

// destroyEntries drains a local destroy list.
func (c *Cache) destroyEntries(list *entryList) int64 {
	var destroyed int64
	for {
		c.listMu.Lock()
		e := list.popFront()
		c.listMu.Unlock()
		if e == nil {
			return destroyed
		}
		c.destroyEntry(e)
		destroyed++
	}
}

// GetPA returns the entry's physical address.
func (c *Cache) GetPA(e *Entry) PhysicalAddr {
	return PhysicalAddr(e.physical.Load())
}

// GetOffset returns the entry's page-aligned offset within its object.
func (c *Cache) GetOffset(e *Entry) int64 {
	return e.offset
}

// GetVA returns the entry's virtual address, pulling it down from a
// mapped backing entry if this entry's copy has not caught up. Zero
// means unmapped.
func (c *Cache) GetVA(e *Entry) VirtualAddr {
	va := e.virtual.Load()
	b := e.backing.Load()
	if va == 0 && b != nil {
		// Racing writers all store the same value, so the copy is
		// benign.
		va = b.virtual.Load()
		e.virtual.Store(va)
	}
	return VirtualAddr(va)
}

// SetVA offers a virtual address for the entry's physical page. The
// offer lands on the owning entry; it succeeds only if no address was
// installed before. The borrower's cached copy is synchronized either
// way. Returns whether the offer was accepted.
func (c *Cache) SetVA(e *Entry, va VirtualAddr) bool {
	if va == 0 || int64(va)%PageSize != 0 {
		panic("pagecache: bad virtual address")
	}
	if e.virtual.Load() != 0 {
		return false
	}
	owner := e
	if b := e.backing.Load(); b != nil {
		owner = b
	}
	set := false
	old := owner.setFlags(flagMapped)
	if old&flagMapped == 0 {
		set = true
		owner.virtual.Store(uintptr(va))
		c.mappedPages.Add(1)
		if old&flagDirty != 0 {
			c.mappedDirtyPages.Add(1)
		}
	}
	if owner != e {
		if ownerVA := owner.virtual.Load(); ownerVA != 0 {
			e.virtual.Store(ownerVA)
		}
	}
	return set
}

// MarkDirty records that the entry's cached bytes differ from backing
// store. The transition resolves to the owning entry, so dirtying a
// borrower promotes the flag to its backing entry. Returns false if
// the owner was already dirty.
func (c *Cache) MarkDirty(e *Entry) bool {
	dirtyEntry := e.ownerEntry()
	if dirtyEntry.hasFlags(flagDirty) {
		return false
	}
	obj := dirtyEntry.object
	obj.CacheState().Lock()
	// The backing relationship may have changed while the lock was
	// being acquired; re-resolve so the flag lands on today's owner.
	if b := dirtyEntry.backing.Load(); b != nil {
		obj.CacheState().Unlock()
		dirtyEntry = b
		obj = dirtyEntry.object
		obj.CacheState().Lock()
	}
	marked := c.markDirtyInternal(dirtyEntry)
	obj.CacheState().Unlock()
	if marked {
		c.Schedule()
	}
	c.metrics.OpCount(context.Background(), common.OpMarkDirty, 1)
	return marked
}

// markDirtyInternal performs the dirty transition on an owner entry.
// The entry's object lock must be held; the atomic flag update and the
// list lock make the transition safe from flush's shared-mode re-dirty
// path as well.
func (c *Cache) markDirtyInternal(e *Entry) bool {
	old := e.setFlags(flagDirty)
	if old&flagOwner == 0 {
		panic("pagecache: dirtying a non-owner entry")
	}
	if old&flagDirty != 0 {
		return false
	}
	c.dirtyPages.Add(1)
	if old&flagMapped != 0 {
		c.mappedDirtyPages.Add(1)
	}
	obj := e.object
	c.listMu.Lock()
	if e.onList() {
		unlink(e)
	}
	obj.CacheState().dirty.pushBack(e)
	c.listMu.Unlock()
	c.noteObjectDirty(obj)
	obj.MarkDirty()
	return true
}

// MarkClean clears the dirty flag, removes the entry from its dirty
// list, and optionally requeues it at the tail of clean-LRU. Callers
// must hold a reference or the object lock. Returns false if the entry
// was already clean.
func (c *Cache) MarkClean(e *Entry, requeue bool) bool {
	if !e.hasFlags(flagDirty) {
		return false
	}
	old := e.clearFlags(flagDirty)
	if old&flagDirty == 0 {
		return false
	}
	if old&flagOwner == 0 {
		panic("pagecache: clean transition on non-owner entry")
	}
	c.dirtyPages.Add(-1)
	if old&flagMapped != 0 {
		c.mappedDirtyPages.Add(-1)
	}
	c.listMu.Lock()
	if e.onList() {
		unlink(e)
	}
	if requeue {
		c.cleanLRU.pushBack(e)
	}
	c.listMu.Unlock()
	c.metrics.OpCount(context.Background(), common.OpMarkClean, 1)
	return true
}

// noteObjectDirty registers the object with the worker's flush set.
func (c *Cache) noteObjectDirty(obj FileObject) {
	c.dirtyMu.Lock()
	c.dirtyObjects[obj.ID()] = obj
	c.dirtyMu.Unlock()
}

// forgetObjectIfClean unregisters the object once its dirty list has
// drained.
func (c *Cache) forgetObjectIfClean(obj FileObject) {
	st := obj.CacheState()
	c.listMu.Lock()
	clean := st.dirty.empty()
	c.listMu.Unlock()
	if clean {
		c.dirtyMu.Lock()
		delete(c.dirtyObjects, obj.ID())
		c.dirtyMu.Unlock()
	}
}

// snapshotDirtyObjects returns the objects that had dirty pages when
// called. The worker iterates the snapshot without holding any lock.
func (c *Cache) snapshotDirtyObjects() []FileObject {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	objs := make([]FileObject, 0, len(c.dirtyObjects))
	for _, obj := range c.dirtyObjects {
		objs = append(objs, obj)
	}
	return objs
}

// hasDirtyObjects reports whether any object still carries dirty data.
func (c *Cache) hasDirtyObjects() bool {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	return len(c.dirtyObjects) > 0
}

// Link shares the upper (file) entry's physical page with the lower
// (block-device) entry, so that a single frame backs both layers. On
// success the upper entry borrows from the lower one, which becomes
// the owner of the upper's frame; the lower's old frame is freed. Both
// object locks are taken, file before device. Returns true if the
// entries were linked or already linked.
func (c *Cache) Link(lower, upper *Entry) bool {
	upperObj := upper.object
	lowerObj := lower.object
	upperObj.CacheState().Lock()
	defer upperObj.CacheState().Unlock()
	lowerObj.CacheState().Lock()
	defer lowerObj.CacheState().Unlock()

	lowerType := lowerObj.Type()
	upperType := upperObj.Type()
	if lowerType == upperType {
		return false
	}
	if lowerType != BlockDevice {
		return false
	}
	if upper.backing.Load() == lower {
		return true
	}
	// A lower entry referenced by outstanding I/O buffers cannot have
	// its physical address swapped out from under them. One reference
	// (the caller's) is fine: new references require the object lock,
	// which is held here, so the predicate cannot go stale.
	if lower.refCount.Load() != 1 {
		return false
	}
	if !lower.hasFlags(flagOwner) || !upper.hasFlags(flagOwner) {
		return false
	}
	if upper.hasFlags(flagDirty) {
		panic("pagecache: linking a dirty upper entry")
	}
	// The lower frame is about to be freed; image sections must let
	// go of it first.
	if _, err := c.mem.UnmapImageSections(lowerObj, lower.offset, PageSize); err != nil {
		return false
	}

	oldPA := PhysicalAddr(lower.physical.Load())
	oldVA := VirtualAddr(lower.virtual.Load())
	if old := lower.clearFlags(flagMapped); old&flagMapped != 0 {
		c.mappedPages.Add(-1)
		if old&flagDirty != 0 {
			c.mappedDirtyPages.Add(-1)
		}
	}
	lower.physical.Store(upper.physical.Load())
	lower.virtual.Store(upper.virtual.Load())

	// Ownership and mapped accounting move to the lower entry.
	old := upper.clearFlags(flagMapped | flagOwner)
	if old&flagMapped != 0 {
		c.mappedPages.Add(-1)
		if prev := lower.setFlags(flagMapped); prev&flagMapped == 0 {
			c.mappedPages.Add(1)
			if prev&flagDirty != 0 {
				c.mappedDirtyPages.Add(1)
			}
		}
	}

	lower.acquire()
	upper.backing.Store(lower)

	if oldVA != 0 {
		c.mem.UnmapVARange(oldVA, PageSize)
	}
	c.mem.FreePhysicalPage(oldPA)
	c.physicalPages.Add(-1)
	c.metrics.OpCount(context.Background(), common.OpLink, 1)
	return true
}

// Evict drops every entry of the object at or past offset. Entries
// with outstanding references are detached from the index and parked
// on the pending-removal list; they are destroyed after the last
// reference drops. With EvictDelete the caller asserts no references
// remain. The caller must hold the object lock exclusively.
func (c *Cache) Evict(obj FileObject, offset int64, reason EvictReason) {
	st := obj.CacheState()
	if st.index.empty() {
		return
	}
	var destroyList entryList
	e := st.index.searchClosest(offset)
	for e != nil {
		next := st.index.next(e)
		// Best-effort for truncate: a referenced entry below the cut
		// would be skipped, but eviction always proceeds for entries
		// past the truncation point.
		c.MarkClean(e, false)
		c.removeFromIndex(e)
		c.listMu.Lock()
		if e.onList() {
			unlink(e)
		}
		if e.refCount.Load() == 0 {
			destroyList.pushBack(e)
		} else {
			c.pendingRemoval.pushBack(e)
		}
		c.listMu.Unlock()
		e = next
	}
	c.forgetObjectIfClean(obj)
	c.destroyEntries(&destroyList)
	c.metrics.OpCount(context.Background(), common.OpEvict, 1)
}

// IsIoBufferCacheBacked reports whether the buffer's pages targeting
// the object at offset are all backed by live cache entries. Read
// paths use it to skip re-reads. The caller synchronizes with eviction
// by truncate.
func (c *Cache) IsIoBufferCacheBacked(obj FileObject, buf IoBuffer, offset, size int64) bool {
	if buf.Size() == 0 {
		return false
	}
	// Every page of the requested span is checked; a request of one
	// page or less checks only the first.
	span := alignUp(size, PageSize)
	for bufOffset := int64(0); bufOffset < span; bufOffset += PageSize {
		e := buf.PageCacheEntryAt(bufOffset)
		if e == nil || e.object != obj || !e.attached.Load() || e.offset != offset+bufOffset {
			return false
		}
	}
	return true
}

// CopyAndCache walks a source buffer freshly read from the device,
// installs a file-level cache entry for each page, and appends the
// pages inside the copy window to the destination buffer, which then
// shares the cached frames. Returns the number of bytes handed to the
// destination. The caller must hold the object lock exclusively.
func (c *Cache) CopyAndCache(obj FileObject, fileOffset int64, dst IoBuffer, copySize int64, src IoBuffer, srcSize, srcCopyOffset int64) (int64, error) {
	if srcSize%PageSize != 0 || copySize%PageSize != 0 {
		panic("pagecache: unaligned copy sizes")
	}
	var copied int64
	for srcOffset := int64(0); srcOffset < srcSize; srcOffset += PageSize {
		srcEntry := src.PageCacheEntryAt(srcOffset)
		pa, fragVA := src.FrameAt(srcOffset)
		va := VirtualAddr(0)
		if srcEntry != nil {
			va = c.GetVA(srcEntry)
		}
		if va == 0 && fragVA != 0 {
			va = fragVA
			// The source page is mapped but its entry never learned
			// the address; hand over ownership of the mapping.
			if srcEntry != nil {
				c.SetVA(srcEntry, va)
			}
		}
		entry, created := c.CreateOrLookup(obj, va, pa, fileOffset, srcEntry)
		if entry == nil {
			return copied, ErrOutOfMemory
		}
		// A created entry now owns a frame the source buffer thinks it
		// owns; back-reference it so the buffer does not free the page.
		if created && srcEntry == nil {
			src.SetPageCacheEntryAt(srcOffset, entry)
		}
		if srcOffset == srcCopyOffset && copySize != 0 {
			dst.AppendPage(entry)
			srcCopyOffset += PageSize
			copySize -= PageSize
			copied += PageSize
		}
		entry.release()
		fileOffset += PageSize
	}
	c.metrics.OpCount(context.Background(), common.OpCopyAndCache, 1)
	return copied, nil
}

// recordAccess feeds the object's access-pattern probe.
func (c *Cache) recordAccess(obj FileObject, offset int64) {
	c.patternMu.Lock()
	v := c.patterns[obj.ID()]
	if v == nil {
		v = common.NewAccessPatternVisualizer(obj.ID().String())
		c.patterns[obj.ID()] = v
	}
	c.patternMu.Unlock()
	v.Record(offset, PageSize)
}

// accessPatterns snapshots the live probes for the worker's trace
// line.
func (c *Cache) accessPatterns() []*common.AccessPatternVisualizer {
	c.patternMu.Lock()
	defer c.patternMu.Unlock()
	out := make([]*common.AccessPatternVisualizer, 0, len(c.patterns))
	for _, v := range c.patterns {
		out = append(out, v)
	}
	return out
}

// IsTooDirty reports whether new writers should be throttled: the
// dirty page population exceeds the permitted share of the cache's
// ideal size under current memory conditions.
func (c *Cache) IsTooDirty() bool {
	free := c.mem.FreePhysicalPages()
	phys := c.physicalPages.Load()
	var ideal int64
	if free < c.headroomRetreatPages {
		ideal = phys - (c.headroomRetreatPages - free)
	} else {
		ideal = phys + (free - c.headroomRetreatPages)
	}
	if ideal < 0 {
		ideal = 0
	}
	maxDirty := ideal >> c.tun.MaxDirtyShift
	return c.dirtyPages.Load() >= maxDirty
}

func alignUp(v, align int64) int64 {
	return (v + align - 1) &^ (align - 1)
}
