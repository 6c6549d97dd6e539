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
	"github.com/stretchr/testify/suite"
)

type CacheTest struct {
	suite.Suite
	tc *testCache
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTest))
}

func (t *CacheTest) SetupTest() {
	t.tc = newTestCache(nil)
}

func (t *CacheTest) TestLookupMissThenHit() {
	obj := newTestObject(RegularFile, 8192)

	obj.CacheState().RLock()
	miss := t.tc.cache.Lookup(obj, 0)
	obj.CacheState().RUnlock()
	require.Nil(t.T(), miss)

	created := t.tc.installPage(obj, 0, 0xAB)
	require.NotNil(t.T(), created)

	obj.CacheState().RLock()
	hit := t.tc.cache.Lookup(obj, 0)
	obj.CacheState().RUnlock()
	require.NotNil(t.T(), hit)
	assert.Same(t.T(), created, hit)
	assert.True(t.T(), hit.hasFlags(flagOwner))
	assert.False(t.T(), hit.hasFlags(flagDirty))
	assert.EqualValues(t.T(), 2, hit.refCount.Load())

	hit.release()
	created.release()
}

func (t *CacheTest) TestCreateOrLookupReturnsExistingEntry() {
	obj := newTestObject(RegularFile, 4*PageSize)
	first := t.tc.installPage(obj, 0x1000, 1)

	pa, _ := t.tc.mem.AllocPhysicalPage()
	obj.CacheState().Lock()
	second, created := t.tc.cache.CreateOrLookup(obj, 0, pa, 0x1000, nil)
	obj.CacheState().Unlock()

	assert.False(t.T(), created)
	assert.Same(t.T(), first, second)
	// The losing candidate's record was destroyed without joining the
	// index, so only the first entry is counted.
	assert.EqualValues(t.T(), 1, t.tc.cache.entryCount.Load())
	second.release()
	first.release()
}

func (t *CacheTest) TestEntryCountersTrackOwnership() {
	obj := newTestObject(RegularFile, 16*PageSize)
	var entries []*Entry
	for i := int64(0); i < 4; i++ {
		entries = append(entries, t.tc.installPage(obj, i*PageSize, byte(i)))
	}
	assert.EqualValues(t.T(), 4, t.tc.cache.physicalPages.Load())
	assert.EqualValues(t.T(), 4, t.tc.cache.entryCount.Load())
	assert.EqualValues(t.T(), 0, t.tc.cache.dirtyPages.Load())

	t.tc.cache.MarkDirty(entries[1])
	t.tc.cache.MarkDirty(entries[2])
	assert.EqualValues(t.T(), 2, t.tc.cache.dirtyPages.Load())

	for _, e := range entries {
		e.release()
	}
}

func (t *CacheTest) TestMarkDirtyTwiceReportsFalse() {
	obj := newTestObject(RegularFile, PageSize)
	e := t.tc.installPage(obj, 0, 7)
	assert.True(t.T(), t.tc.cache.MarkDirty(e))
	assert.False(t.T(), t.tc.cache.MarkDirty(e))
	assert.True(t.T(), obj.fsDirty.Load())
	e.release()
}

func (t *CacheTest) TestMarkCleanIsIdempotent() {
	obj := newTestObject(RegularFile, PageSize)
	e := t.tc.installPage(obj, 0, 7)
	t.tc.cache.MarkDirty(e)

	assert.True(t.T(), t.tc.cache.MarkClean(e, true))
	before := t.tc.cache.dirtyPages.Load()
	assert.False(t.T(), t.tc.cache.MarkClean(e, true))
	assert.Equal(t.T(), before, t.tc.cache.dirtyPages.Load())
	assert.EqualValues(t.T(), 0, before)
	e.release()
}

func (t *CacheTest) TestDirtyEntryGoesOnObjectDirtyList() {
	obj := newTestObject(RegularFile, PageSize)
	e := t.tc.installPage(obj, 0, 7)
	t.tc.cache.MarkDirty(e)

	t.tc.cache.listMu.Lock()
	front := obj.CacheState().dirty.front()
	t.tc.cache.listMu.Unlock()
	assert.Same(t.T(), e, front)
	e.release()
}

func (t *CacheTest) TestReleaseReinsertsCleanEntryOnLRU() {
	obj := newTestObject(RegularFile, PageSize)
	e := t.tc.installPage(obj, 0, 7)

	// Pull it off the clean list to simulate the trim walk yanking a
	// referenced entry.
	t.tc.cache.listMu.Lock()
	unlink(e)
	t.tc.cache.listMu.Unlock()

	e.release()

	t.tc.cache.listMu.Lock()
	back := t.tc.cache.cleanLRU.front()
	t.tc.cache.listMu.Unlock()
	assert.Same(t.T(), e, back)
}

func (t *CacheTest) TestSetVAInstallsOnOwnerOnce() {
	obj := newTestObject(RegularFile, PageSize)
	e := t.tc.installPage(obj, 0, 7)

	va, err := t.tc.mem.MapPhysicalToVA(t.tc.cache.GetPA(e))
	require.NoError(t.T(), err)

	assert.True(t.T(), t.tc.cache.SetVA(e, va))
	assert.EqualValues(t.T(), 1, t.tc.cache.mappedPages.Load())
	assert.Equal(t.T(), va, t.tc.cache.GetVA(e))

	// A second offer yields the recorded address and changes nothing.
	otherVA, _ := t.tc.mem.MapPhysicalToVA(t.tc.cache.GetPA(e))
	assert.False(t.T(), t.tc.cache.SetVA(e, otherVA))
	assert.Equal(t.T(), va, t.tc.cache.GetVA(e))
	assert.EqualValues(t.T(), 1, t.tc.cache.mappedPages.Load())
	e.release()
}

func (t *CacheTest) TestSetVAOnDirtyOwnerCountsMappedDirty() {
	obj := newTestObject(RegularFile, PageSize)
	e := t.tc.installPage(obj, 0, 7)
	t.tc.cache.MarkDirty(e)

	va, _ := t.tc.mem.MapPhysicalToVA(t.tc.cache.GetPA(e))
	require.True(t.T(), t.tc.cache.SetVA(e, va))
	assert.EqualValues(t.T(), 1, t.tc.cache.mappedDirtyPages.Load())

	t.tc.cache.MarkClean(e, true)
	assert.EqualValues(t.T(), 0, t.tc.cache.mappedDirtyPages.Load())
	e.release()
}

func (t *CacheTest) TestIsTooDirtyThrottlesWriters() {
	tc := newTestCache(func(tun *Tunables) {
		tun.MaxDirtyShift = 1
	})
	// With free pages far above the retreat mark the ideal size is
	// huge, so a handful of dirty pages is fine.
	obj := newTestObject(RegularFile, 64*PageSize)
	e := tc.dirtyPage(obj, 0, 1)
	assert.False(t.T(), tc.cache.IsTooDirty())

	// Pin free pages to the retreat mark: ideal size collapses to the
	// current physical count and half of one page rounds to zero
	// permitted dirty pages.
	tc.mem.freePages.Store(tc.cache.headroomRetreatPages)
	assert.True(t.T(), tc.cache.IsTooDirty())
	e.release()
}

func (t *CacheTest) TestGetStatistics() {
	obj := newTestObject(RegularFile, 4*PageSize)
	e := t.tc.dirtyPage(obj, 0, 9)

	var stats Statistics
	stats.Version = StatisticsVersion
	require.NoError(t.T(), t.tc.cache.GetStatistics(&stats))
	assert.EqualValues(t.T(), 1, stats.EntryCount)
	assert.EqualValues(t.T(), 1, stats.PhysicalPageCount)
	assert.EqualValues(t.T(), 1, stats.DirtyPageCount)
	assert.Equal(t.T(), t.tc.cache.headroomTriggerPages, stats.HeadroomPagesTrigger)

	var stale Statistics
	stale.Version = 0
	assert.ErrorIs(t.T(), t.tc.cache.GetStatistics(&stale), ErrInvalidParameter)
	e.release()
}

func (t *CacheTest) TestScheduleTransitionsOnce() {
	c := t.tc.cache
	assert.Equal(t.T(), workerStateClean, c.state.Load())
	c.Schedule()
	assert.Equal(t.T(), workerStateDirty, c.state.Load())
	// Second schedule is a no-op; the state stays dirty.
	c.Schedule()
	assert.Equal(t.T(), workerStateDirty, c.state.Load())
}
