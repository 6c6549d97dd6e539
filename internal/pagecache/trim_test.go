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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallRAMCache models a 1000-page machine with a near-zero absolute
// minimum so physical trim targets are not swallowed by the clip:
// trigger 100 pages, retreat 150, minimum 1, working-set floor 20.
func smallRAMCache(tweak func(*Tunables)) *testCache {
	mem := newFakeMemory()
	mem.totalPages.Store(1000)
	return newTestCacheWith(mem, func(tun *Tunables) {
		tun.AbsoluteMinimumPercent = 0.1
		tun.WorkingSetFloorPercent = 2
		if tweak != nil {
			tweak(tun)
		}
	})
}

// pressure drops the reported free-page line just below the trigger.
func pressure(tc *testCache) {
	tc.mem.freePages.Store(tc.cache.headroomTriggerPages - 10)
}

func TestPhysicalTrimEvictsCleanEntriesNotDirtyOnes(t *testing.T) {
	tc := smallRAMCache(nil)
	obj := newTestObject(RegularFile, 64*PageSize)
	for i := int64(0); i < 8; i++ {
		tc.installPage(obj, i*PageSize, byte(i)).release()
	}
	tc.dirtyPage(obj, 8*PageSize, 0xDD).release()
	before := tc.cache.physicalPages.Load()
	pressure(tc)

	tc.cache.Trim(false)

	// Everything clean was evicted; the dirty page survived.
	destroyed := before - tc.cache.physicalPages.Load()
	assert.EqualValues(t, 8, destroyed)
	assert.EqualValues(t, 1, tc.cache.dirtyPages.Load())
	assert.EqualValues(t, 1, tc.cache.entryCount.Load())
	assert.Equal(t, 1, tc.mem.liveFrames())

	obj.CacheState().RLock()
	still := tc.cache.Lookup(obj, 8*PageSize)
	obj.CacheState().RUnlock()
	require.NotNil(t, still)
	still.release()
}

func TestTrimSkipsReferencedEntries(t *testing.T) {
	tc := smallRAMCache(nil)
	obj := newTestObject(RegularFile, 64*PageSize)
	held := tc.installPage(obj, 0, 1)
	tc.installPage(obj, PageSize, 2).release()
	pressure(tc)

	tc.cache.Trim(false)

	// The referenced entry stayed; its neighbor did not.
	assert.True(t, held.attached.Load())
	assert.EqualValues(t, 1, tc.cache.physicalPages.Load())
	held.release()
}

func TestTrimWithoutPressureDoesNothing(t *testing.T) {
	tc := smallRAMCache(nil)
	obj := newTestObject(RegularFile, 64*PageSize)
	for i := int64(0); i < 4; i++ {
		tc.installPage(obj, i*PageSize, byte(i)).release()
	}

	tc.cache.Trim(false)

	assert.EqualValues(t, 4, tc.cache.physicalPages.Load())
}

func TestTrimStopsAtRetreatTarget(t *testing.T) {
	// Make the trigger coincide with the retreat mark so a free line
	// three pages short of it yields a removal target of exactly 3.
	tc := smallRAMCache(func(tun *Tunables) {
		tun.HeadroomTriggerPercent = 15
	})
	obj := newTestObject(RegularFile, 64*PageSize)
	for i := int64(0); i < 8; i++ {
		tc.installPage(obj, i*PageSize, byte(i)).release()
	}
	tc.mem.freePages.Store(tc.cache.headroomRetreatPages - 3)

	tc.cache.Trim(false)

	assert.EqualValues(t, 5, tc.cache.physicalPages.Load())
}

func TestTrimDirtyMappingGoesBackToDirtyList(t *testing.T) {
	tc := smallRAMCache(nil)
	obj := newTestObject(RegularFile, 64*PageSize)
	tc.installPage(obj, 0, 1).release()
	tc.installPage(obj, PageSize, 2).release()
	// The image-section unmap discovers a mapping dirtied page 0.
	tc.mem.unmapDirty[0] = true
	pressure(tc)

	tc.cache.Trim(false)

	// Page 0 was re-dirtied instead of destroyed; page 1 is gone.
	assert.EqualValues(t, 1, tc.cache.dirtyPages.Load())
	assert.EqualValues(t, 1, tc.cache.entryCount.Load())
	assert.True(t, tc.cache.hasDirtyObjects())
}

func TestTrimUnmapErrorSkipsCandidate(t *testing.T) {
	tc := smallRAMCache(nil)
	obj := newTestObject(RegularFile, 64*PageSize)
	skipped := tc.installPage(obj, 0, 1)
	skipped.release()
	tc.installPage(obj, PageSize, 2).release()
	tc.mem.unmapErr[0] = ErrResourceInUse
	pressure(tc)

	tc.cache.Trim(false)

	// The candidate whose unmap failed was left alone.
	assert.True(t, skipped.attached.Load())
	assert.EqualValues(t, 1, tc.cache.entryCount.Load())
}

func TestTrimRequestsPageoutBelowWorkingSetFloor(t *testing.T) {
	tc := smallRAMCache(nil)
	obj := newTestObject(RegularFile, 64*PageSize)
	for i := int64(0); i < 4; i++ {
		tc.installPage(obj, i*PageSize, byte(i)).release()
	}
	pressure(tc)

	tc.cache.Trim(false)

	// The cache ended far below its working-set floor, so trimming
	// must have asked for pageout of user pages instead.
	requests := tc.mem.pageoutRequests()
	require.NotEmpty(t, requests)
	assert.Greater(t, requests[0], tc.mem.FreePhysicalPages())
}

func TestVirtualTrimUnmapsInLRUOrder(t *testing.T) {
	tc := newTestCache(nil)
	obj := newTestObject(RegularFile, 64*PageSize)
	var entries []*Entry
	for i := int64(0); i < 4; i++ {
		e := tc.installPage(obj, i*PageSize, byte(i))
		va, err := tc.mem.MapPhysicalToVA(tc.cache.GetPA(e))
		require.NoError(t, err)
		require.True(t, tc.cache.SetVA(e, va))
		entries = append(entries, e)
	}
	for _, e := range entries {
		e.release()
	}
	require.EqualValues(t, 4, tc.cache.mappedPages.Load())

	// Drop free virtual space below the trigger.
	tc.mem.freeVirtBytes.Store(tc.cache.tun.VirtualTriggerBytes - PageSize)
	tc.cache.virtualTrim(false)

	assert.EqualValues(t, 0, tc.cache.mappedPages.Load())
	for _, e := range entries {
		assert.Zero(t, e.virtual.Load())
	}

	// Unmapped entries moved to the clean-unmapped pocket.
	tc.cache.listMu.Lock()
	assert.True(t, tc.cache.cleanLRU.empty())
	assert.False(t, tc.cache.cleanUnmapped.empty())
	tc.cache.listMu.Unlock()
}

func TestVirtualTrimSparesDirtyMappedPages(t *testing.T) {
	tc := newTestCache(nil)
	obj := newTestObject(RegularFile, 64*PageSize)
	e := tc.installPage(obj, 0, 1)
	va, _ := tc.mem.MapPhysicalToVA(tc.cache.GetPA(e))
	require.True(t, tc.cache.SetVA(e, va))
	tc.cache.MarkDirty(e)
	e.release()

	tc.mem.freeVirtBytes.Store(tc.cache.tun.VirtualTriggerBytes - PageSize)
	tc.cache.virtualTrim(false)

	// Dirty pages keep their mapping; only clean ones are stripped.
	assert.EqualValues(t, 1, tc.cache.mappedPages.Load())
	assert.Equal(t, va, tc.cache.GetVA(e))
}

func TestDrainPendingRemovalsDestroysReleasedEntries(t *testing.T) {
	tc := newTestCache(nil)
	obj := newTestObject(RegularFile, 16*PageSize)
	held := tc.installPage(obj, 0, 1)

	obj.CacheState().Lock()
	tc.cache.Evict(obj, 0, EvictTruncate)
	obj.CacheState().Unlock()
	held.release()

	require.Equal(t, 1, tc.mem.liveFrames())
	tc.cache.drainPendingRemovals()
	assert.Equal(t, 0, tc.mem.liveFrames())
	assert.EqualValues(t, 0, tc.cache.entryCount.Load())
}
