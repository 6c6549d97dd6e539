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

// TestLinkSharesPhysicalPage covers the standalone link of a
// block-device entry under an existing file entry.
func TestLinkSharesPhysicalPage(t *testing.T) {
	tc := newTestCache(nil)
	dev := newTestObject(BlockDevice, 1<<20)
	file := newTestObject(RegularFile, 1<<20)

	lower := tc.installPage(dev, 0x5000, 0x55)
	upper := tc.installPage(file, 0x1000, 0xAA)
	upperPA := tc.cache.GetPA(upper)

	require.True(t, tc.cache.Link(lower, upper))

	assert.Same(t, lower, upper.backing.Load())
	assert.False(t, upper.hasFlags(flagOwner))
	assert.True(t, lower.hasFlags(flagOwner))
	assert.GreaterOrEqual(t, lower.refCount.Load(), int32(2))

	// Both layers now resolve to the upper entry's frame, which held
	// the file bytes.
	assert.Equal(t, upperPA, tc.cache.GetPA(lower))
	assert.Equal(t, upperPA, tc.cache.GetPA(upper))
	assert.Equal(t,
		tc.mem.PageBytes(tc.cache.GetPA(lower)),
		tc.mem.PageBytes(tc.cache.GetPA(upper)))
	// Exactly one frame backs the pair.
	assert.EqualValues(t, 1, tc.cache.physicalPages.Load())

	file.CacheState().RLock()
	found := tc.cache.Lookup(file, 0x1000)
	file.CacheState().RUnlock()
	require.NotNil(t, found)
	assert.Equal(t, upperPA, tc.cache.GetPA(found))
	found.release()

	upper.release()
	lower.release()
}

func TestLinkRefusesEqualTypes(t *testing.T) {
	tc := newTestCache(nil)
	a := newTestObject(RegularFile, 1<<20)
	b := newTestObject(RegularFile, 1<<20)
	lower := tc.installPage(a, 0, 1)
	upper := tc.installPage(b, 0, 2)
	assert.False(t, tc.cache.Link(lower, upper))
	upper.release()
	lower.release()
}

func TestLinkAlreadyLinkedReturnsTrue(t *testing.T) {
	tc := newTestCache(nil)
	dev := newTestObject(BlockDevice, 1<<20)
	file := newTestObject(RegularFile, 1<<20)
	lower := tc.installPage(dev, 0, 1)
	upper := tc.installPage(file, 0, 2)
	require.True(t, tc.cache.Link(lower, upper))
	before := lower.refCount.Load()
	assert.True(t, tc.cache.Link(lower, upper))
	assert.Equal(t, before, lower.refCount.Load())
	upper.release()
	lower.release()
}

func TestLinkRefusesBusyLowerEntry(t *testing.T) {
	tc := newTestCache(nil)
	dev := newTestObject(BlockDevice, 1<<20)
	file := newTestObject(RegularFile, 1<<20)
	lower := tc.installPage(dev, 0, 1)
	upper := tc.installPage(file, 0, 2)

	// An extra reference stands in for an outstanding I/O buffer whose
	// view of the lower entry's frame must not be invalidated.
	lower.acquire()
	assert.False(t, tc.cache.Link(lower, upper))
	assert.Nil(t, upper.backing.Load())
	lower.release()

	upper.release()
	lower.release()
}

// TestInsertWithLinkFileOverBlock covers create-time linking: a file
// entry inserted over an existing block-device entry borrows the
// device's frame.
func TestInsertWithLinkFileOverBlock(t *testing.T) {
	tc := newTestCache(nil)
	dev := newTestObject(BlockDevice, 1<<20)
	file := newTestObject(RegularFile, 1<<20)

	devEntry := tc.installPage(dev, 0x2000, 0x11)
	pa := tc.cache.GetPA(devEntry)

	file.CacheState().Lock()
	fileEntry, created := tc.cache.CreateOrLookup(file, 0, pa, 0, devEntry)
	file.CacheState().Unlock()
	require.True(t, created)

	assert.Same(t, devEntry, fileEntry.backing.Load())
	assert.False(t, fileEntry.hasFlags(flagOwner))
	assert.True(t, devEntry.hasFlags(flagOwner))
	// One frame, two entries.
	assert.EqualValues(t, 1, tc.cache.physicalPages.Load())
	assert.EqualValues(t, 2, tc.cache.entryCount.Load())

	fileEntry.release()
	devEntry.release()
}

// TestInsertWithLinkBlockAfterFile covers the reverse pairing: a
// block-device entry inserted under an existing file entry takes over
// ownership.
func TestInsertWithLinkBlockAfterFile(t *testing.T) {
	tc := newTestCache(nil)
	dev := newTestObject(BlockDevice, 1<<20)
	file := newTestObject(RegularFile, 1<<20)

	fileEntry := tc.installPage(file, 0x3000, 0x22)
	pa := tc.cache.GetPA(fileEntry)

	dev.CacheState().Lock()
	devEntry := tc.cache.CreateAndInsert(dev, 0, pa, 0x8000, fileEntry)
	dev.CacheState().Unlock()

	assert.Same(t, devEntry, fileEntry.backing.Load())
	assert.True(t, devEntry.hasFlags(flagOwner))
	assert.False(t, fileEntry.hasFlags(flagOwner))
	assert.EqualValues(t, 1, tc.cache.physicalPages.Load())

	// Dirtying the borrower promotes the flag to the new owner.
	require.True(t, tc.cache.MarkDirty(fileEntry))
	assert.True(t, devEntry.hasFlags(flagDirty))
	assert.False(t, fileEntry.hasFlags(flagDirty))

	tc.cache.MarkClean(devEntry, true)
	devEntry.release()
	fileEntry.release()
}
