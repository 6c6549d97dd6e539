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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GoogleCloudPlatform/pagecached/clock"
	"github.com/GoogleCloudPlatform/pagecached/common"
)

// fakeMemory is a fully scripted MemoryManager: frames are heap
// allocations, while the reported totals are whatever the test sets.
type fakeMemory struct {
	mu       sync.Mutex
	frames   map[PhysicalAddr][]byte
	mappings map[VirtualAddr]PhysicalAddr
	nextPA   PhysicalAddr
	nextVA   VirtualAddr

	totalPages     atomic.Int64
	freePages      atomic.Int64
	freeVirtBytes  atomic.Int64
	virtWarnLevel  atomic.Int32
	pageoutTargets []int64

	physWarn chan struct{}
	virtWarn chan struct{}

	// Scripted UnmapImageSections results, keyed by entry offset.
	unmapDirty map[int64]bool
	unmapErr   map[int64]error
}

func newFakeMemory() *fakeMemory {
	m := &fakeMemory{
		frames:     make(map[PhysicalAddr][]byte),
		mappings:   make(map[VirtualAddr]PhysicalAddr),
		nextPA:     PageSize,
		nextVA:     PageSize,
		physWarn:   make(chan struct{}, 1),
		virtWarn:   make(chan struct{}, 1),
		unmapDirty: make(map[int64]bool),
		unmapErr:   make(map[int64]error),
	}
	m.totalPages.Store(1 << 20)
	m.freePages.Store(1 << 19)
	m.freeVirtBytes.Store(1 << 40)
	return m
}

func (m *fakeMemory) AllocPhysicalPage() (PhysicalAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pa := m.nextPA
	m.nextPA += PageSize
	m.frames[pa] = make([]byte, PageSize)
	return pa, nil
}

func (m *fakeMemory) FreePhysicalPage(pa PhysicalAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.frames[pa]; !ok {
		panic("double free of page frame")
	}
	delete(m.frames, pa)
}

func (m *fakeMemory) liveFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *fakeMemory) PageBytes(pa PhysicalAddr) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames[pa]
}

func (m *fakeMemory) MapPhysicalToVA(pa PhysicalAddr) (VirtualAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	va := m.nextVA
	m.nextVA += PageSize
	m.mappings[va] = pa
	return va, nil
}

func (m *fakeMemory) UnmapVARange(va VirtualAddr, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for off := int64(0); off < size; off += PageSize {
		delete(m.mappings, va+VirtualAddr(off))
	}
}

func (m *fakeMemory) TotalPhysicalPages() int64 { return m.totalPages.Load() }
func (m *fakeMemory) FreePhysicalPages() int64  { return m.freePages.Load() }
func (m *fakeMemory) FreeVirtualBytes() int64   { return m.freeVirtBytes.Load() }

func (m *fakeMemory) VirtualWarningLevel() WarningLevel {
	return WarningLevel(m.virtWarnLevel.Load())
}

func (m *fakeMemory) RequestPageout(target int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageoutTargets = append(m.pageoutTargets, target)
}

func (m *fakeMemory) pageoutRequests() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.pageoutTargets...)
}

func (m *fakeMemory) PhysicalWarning() <-chan struct{} { return m.physWarn }
func (m *fakeMemory) VirtualWarning() <-chan struct{}  { return m.virtWarn }

func (m *fakeMemory) UnmapImageSections(obj FileObject, offset, size int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unmapErr[offset]; err != nil {
		return false, err
	}
	return m.unmapDirty[offset], nil
}

// testObject is a minimal FileObject for cache tests.
type testObject struct {
	id      uuid.UUID
	typ     ObjectType
	size    atomic.Int64
	state   *CacheState
	refs    atomic.Int32
	fsDirty atomic.Bool
}

func newTestObject(typ ObjectType, size int64) *testObject {
	o := &testObject{
		id:    uuid.New(),
		typ:   typ,
		state: NewCacheState(),
	}
	o.size.Store(size)
	return o
}

func (o *testObject) ID() uuid.UUID           { return o.id }
func (o *testObject) Type() ObjectType        { return o.typ }
func (o *testObject) Size() int64             { return o.size.Load() }
func (o *testObject) CacheState() *CacheState { return o.state }
func (o *testObject) AddReference()           { o.refs.Add(1) }
func (o *testObject) ReleaseReference()       { o.refs.Add(-1) }
func (o *testObject) MarkDirty()              { o.fsDirty.Store(true) }

// submittedWrite captures one coalesced buffer handed to the writer.
type submittedWrite struct {
	offset int64
	size   int64
	data   []byte
}

// recordingWriter is a NonCachedWriter that persists into an in-memory
// backing store and records every submission. failAfter, when
// non-negative, makes the write stop short after that many bytes.
type recordingWriter struct {
	mu        sync.Mutex
	mem       MemoryManager
	writes    []submittedWrite
	backing   map[uuid.UUID][]byte
	syncCount int
	failAfter int64
	failErr   error
}

func newRecordingWriter(mem MemoryManager) *recordingWriter {
	return &recordingWriter{
		mem:       mem,
		backing:   make(map[uuid.UUID][]byte),
		failAfter: -1,
	}
}

func (w *recordingWriter) PerformNonCachedWrite(obj FileObject, ioCtx *IoContext) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	size := ioCtx.Size
	var err error
	if w.failAfter >= 0 && size > w.failAfter {
		size = w.failAfter
		err = w.failErr
		if err == nil {
			err = ErrDataLengthMismatch
		}
	}
	data := make([]byte, 0, size)
	for bufOffset := int64(0); bufOffset < size; bufOffset += PageSize {
		n := size - bufOffset
		if n > PageSize {
			n = PageSize
		}
		pa, _ := ioCtx.Buffer.FrameAt(bufOffset)
		data = append(data, w.mem.PageBytes(pa)[:n]...)
	}
	store := w.backing[obj.ID()]
	if need := ioCtx.Offset + int64(len(data)); int64(len(store)) < need {
		grown := make([]byte, need)
		copy(grown, store)
		store = grown
	}
	copy(store[ioCtx.Offset:], data)
	w.backing[obj.ID()] = store
	w.writes = append(w.writes, submittedWrite{offset: ioCtx.Offset, size: int64(len(data)), data: data})
	return int64(len(data)), err
}

func (w *recordingWriter) SyncDevice(obj FileObject) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncCount++
	return nil
}

func (w *recordingWriter) submissions() []submittedWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]submittedWrite(nil), w.writes...)
}

func (w *recordingWriter) backingBytes(obj FileObject) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.backing[obj.ID()]...)
}

// testCache bundles a cache with its fakes under test-friendly
// tunables: tiny flush max, no timers to wait out.
type testCache struct {
	cache  *Cache
	mem    *fakeMemory
	writer *recordingWriter
}

func newTestCache(tweak func(*Tunables)) *testCache {
	return newTestCacheWith(newFakeMemory(), tweak)
}

func newTestCacheWith(mem *fakeMemory, tweak func(*Tunables)) *testCache {
	writer := newRecordingWriter(mem)
	tun := DefaultTunables(true)
	tun.CleanDelay = 10 * time.Millisecond
	if tweak != nil {
		tweak(&tun)
	}
	c := New(mem, writer, &clock.RealClock{}, common.NewNoopMetrics(), tun)
	return &testCache{cache: c, mem: mem, writer: writer}
}

// installPage allocates a frame, fills it with data, and inserts a
// cache entry for (obj, offset). The returned entry holds the
// creation reference.
func (tc *testCache) installPage(obj FileObject, offset int64, fill byte) *Entry {
	pa, err := tc.mem.AllocPhysicalPage()
	if err != nil {
		panic(err)
	}
	data := tc.mem.PageBytes(pa)
	for i := range data {
		data[i] = fill
	}
	obj.CacheState().Lock()
	defer obj.CacheState().Unlock()
	return tc.cache.CreateAndInsert(obj, 0, pa, offset, nil)
}

// dirtyPage installs a page and marks it dirty.
func (tc *testCache) dirtyPage(obj FileObject, offset int64, fill byte) *Entry {
	e := tc.installPage(obj, offset, fill)
	tc.cache.MarkDirty(e)
	return e
}
