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

	"github.com/GoogleCloudPlatform/pagecached/common"
	"github.com/GoogleCloudPlatform/pagecached/internal/logger"
)

// underPhysicalPressure reports whether free physical pages have
// dropped below the trigger while the cache is still above its
// absolute minimum.
func (c *Cache) underPhysicalPressure() bool {
	if c.physicalPages.Load() <= c.minimumPages {
		return false
	}
	return c.mem.FreePhysicalPages() <= c.headroomTriggerPages
}

// underVirtualPressure reports whether mapped entries should be
// stripped of their virtual addresses, returning the free-VA page
// count when so.
func (c *Cache) underVirtualPressure() (int64, bool) {
	freePages := c.mem.FreeVirtualBytes() / PageSize
	if freePages > c.tun.VirtualTriggerBytes/PageSize &&
		c.mem.VirtualWarningLevel() == WarningNone {
		return 0, false
	}
	if c.mappedPages.Load() == 0 {
		return 0, false
	}
	return freePages, true
}

// Trim shrinks the cache toward the physical retreat target, unmaps
// entries under virtual pressure, and requests pageout when the cache
// has fallen below its working-set floor. Timid operation tries each
// object lock once without blocking; callers that may already hold
// object locks must pass timid.
func (c *Cache) Trim(timid bool) {
	c.metrics.OpCount(context.Background(), common.OpTrim, 1)
	var targetRemove int64
	if c.underPhysicalPressure() {
		free := c.mem.FreePhysicalPages()
		targetRemove = c.headroomRetreatPages - free
		if phys := c.physicalPages.Load(); targetRemove > phys {
			targetRemove = phys
		}
		// Never shrink below the absolute minimum.
		if phys := c.physicalPages.Load(); phys-targetRemove < c.minimumPages {
			targetRemove = phys - c.minimumPages
		}
		if targetRemove > 0 {
			logger.Debugf("trim: removing up to %d entries", targetRemove)
			var unmappedList, lruList entryList
			remaining := targetRemove
			c.removeEntriesFromList(&c.cleanUnmapped, &unmappedList, timid, &remaining)
			if remaining > 0 {
				c.removeEntriesFromList(&c.cleanLRU, &lruList, timid, &remaining)
			}
			c.metrics.PagesEvicted(context.Background(), common.ListCleanUnmapped, c.destroyEntries(&unmappedList))
			c.metrics.PagesEvicted(context.Background(), common.ListCleanLRU, c.destroyEntries(&lruList))
		}
	}

	c.virtualTrim(timid)

	// If trimming left the cache under its working-set floor, lift the
	// free-page line by paging out user pages instead of shrinking the
	// cache further.
	if targetRemove > 0 {
		if phys := c.physicalPages.Load(); phys < c.workingSetFloorPages {
			pageOut := c.workingSetFloorPages - phys
			target := c.mem.FreePhysicalPages() + pageOut
			logger.Debugf("trim: requesting pageout to %d free pages", target)
			c.mem.RequestPageout(target)
		}
	}
}

// removeEntriesFromList walks one of the global clean lists, detaching
// eligible entries from their indexes onto destroyList until the
// target count is satisfied or the list is exhausted. remaining may be
// nil to process the whole list. Referenced or dirty entries found on
// the list are yanked off it; they are on the wrong list and will
// requeue themselves.
func (c *Cache) removeEntriesFromList(list *entryList, destroyList *entryList, timid bool, remaining *int64) {
	c.listMu.Lock()
	if list.empty() {
		c.listMu.Unlock()
		return
	}

	// Work off a private list so entries put back do not get revisited
	// forever. The private list is still protected by the list lock.
	var localList entryList
	list.moveAll(&localList)
	for {
		if remaining != nil && *remaining <= 0 {
			break
		}
		e := localList.front()
		if e == nil {
			break
		}

		// Entries with references cannot be taken down; drop them from
		// the list entirely. Release-reference reinserts them later.
		if e.refCount.Load() != 0 {
			unlink(e)
			// The count may have dropped before the releaser saw the
			// entry still listed; in that case it is this walk's job
			// to put it back.
			if e.refCount.Load() == 0 {
				c.cleanLRU.pushBack(e)
			}
			continue
		}

		// A dirty entry here means a mark-dirty is mid-flight; get it
		// off the clean list and let the writer finish the move.
		if e.hasFlags(flagDirty) {
			unlink(e)
			continue
		}

		obj := e.object
		st := obj.CacheState()
		if timid {
			if !st.TryLock() {
				unlink(e)
				c.cleanLRU.pushBack(e)
				continue
			}
		}

		// Keep the entry alive across the lock juggle: list lock out,
		// object lock in.
		e.acquire()
		c.listMu.Unlock()
		if !timid {
			st.Lock()
		}

		taken := false
		if e.refCount.Load() == 1 {
			wasDirty, err := c.mem.UnmapImageSections(obj, e.offset, PageSize)
			if err == nil {
				if wasDirty {
					// The mapping dirtied the page behind our back;
					// it goes back through the flush pipeline.
					c.markDirtyInternal(e.ownerEntry())
				}
				if !e.hasFlags(flagDirty) {
					c.MarkClean(e, false)
					if e.attached.Load() {
						c.removeFromIndex(e)
					}
					taken = true
					if e.hasFlags(flagOwner) && remaining != nil {
						*remaining--
					}
				}
			}
		}

		st.Unlock()
		c.listMu.Lock()

		if taken {
			if e.onList() {
				unlink(e)
			}
			destroyList.pushBack(e)
		} else if !e.hasFlags(flagDirty) {
			if e.onList() {
				unlink(e)
			}
			c.cleanLRU.pushBack(e)
		}
		c.releaseLocked(e)
	}

	// Anything left over goes back where it came from.
	localList.moveAll(list)
	c.listMu.Unlock()
}

// releaseLocked drops the walk's temporary reference while already
// holding the list lock, so it must not take the reinsert path; the
// walk has already put the entry on its proper list.
func (c *Cache) releaseLocked(e *Entry) {
	old := e.refCount.Add(-1) + 1
	if old <= 0 {
		panic("pagecache: bad reference count during trim")
	}
}

// virtualTrim strips virtual addresses from clean entries in LRU
// order, batching contiguous VA runs into single unmap calls, until
// virtual pressure clears. Unmapped entries move to the clean-unmapped
// list so later physical passes skip the virtual work.
func (c *Cache) virtualTrim(timid bool) {
	freeVAPages, pressured := c.underVirtualPressure()
	if !pressured {
		return
	}

	retreatPages := c.tun.VirtualRetreatBytes / PageSize
	var targetUnmap int64
	if freeVAPages < retreatPages {
		targetUnmap = retreatPages - freeVAPages
	}
	mappedClean := c.mappedPages.Load() - c.mappedDirtyPages.Load()
	if targetUnmap > mappedClean {
		targetUnmap = mappedClean
	}
	if targetUnmap == 0 {
		if c.mem.VirtualWarningLevel() == WarningNone {
			return
		}
		// Build some headroom before trusting the warning level to
		// say when to stop.
		targetUnmap = retreatPages - c.tun.VirtualTriggerBytes/PageSize
	}
	logger.Debugf("trim: unmapping up to %d entries", targetUnmap)

	var (
		unmapStart VirtualAddr
		unmapSize  int64
		unmapCount int64
		returnList entryList
	)
	flushRun := func() {
		if unmapStart != 0 {
			c.mem.UnmapVARange(unmapStart, unmapSize)
			unmapStart = 0
			unmapSize = 0
		}
	}

	c.listMu.Lock()
	for !c.cleanLRU.empty() &&
		(unmapCount < targetUnmap || c.mem.VirtualWarningLevel() != WarningNone) {
		e := c.cleanLRU.front()

		if e.refCount.Load() != 0 {
			unlink(e)
			if e.refCount.Load() == 0 {
				c.cleanLRU.pushBack(e)
			}
			continue
		}
		if e.hasFlags(flagDirty) {
			unlink(e)
			continue
		}
		// Already-unmapped entries migrate off this list so the next
		// pass does not revisit them.
		if e.virtual.Load() == 0 {
			unlink(e)
			c.cleanUnmapped.pushBack(e)
			continue
		}

		obj := e.object
		st := obj.CacheState()
		if timid {
			if !st.TryLock() {
				unlink(e)
				returnList.pushBack(e)
				continue
			}
		}
		e.acquire()
		c.listMu.Unlock()
		if !timid {
			st.Lock()
		}

		va, ok := c.removeEntryVA(e)
		if ok && va != 0 {
			unmapCount++
			if unmapStart != 0 && va != unmapStart+VirtualAddr(unmapSize) {
				flushRun()
			}
			if unmapStart == 0 {
				unmapStart = va
			}
			unmapSize += PageSize
		}

		st.Unlock()
		c.listMu.Lock()
		if !e.hasFlags(flagDirty) {
			if e.onList() {
				unlink(e)
			}
			c.cleanUnmapped.pushBack(e)
		}
		c.releaseLocked(e)
	}

	returnList.moveAll(&c.cleanLRU)
	c.listMu.Unlock()

	// The straggler run unmaps after the locks drop; the entries
	// already believe they are unmapped.
	flushRun()

	if unmapCount != 0 {
		c.mappedPages.Add(-unmapCount)
		c.metrics.PagesUnmapped(context.Background(), unmapCount)
		logger.Debugf("trim: unmapped %d entries", unmapCount)
	}
}

// removeEntryVA detaches an entry from its virtual address, returning
// the address to unmap. It refuses (resource in use) when the entry or
// its backing owner is referenced beyond the caller or dirty. The
// entry's object lock must be held exclusively.
func (c *Cache) removeEntryVA(e *Entry) (VirtualAddr, bool) {
	if e.refCount.Load() != 1 || e.hasFlags(flagDirty) {
		return 0, false
	}
	owner := e
	if !e.hasFlags(flagOwner) {
		owner = e.backing.Load()
		if owner == nil {
			// Unmapped borrower with no live backing; nothing to do.
			return 0, false
		}
		// The owner's lock nests after the borrower's: files are
		// always taken before block devices.
		ownerSt := owner.object.CacheState()
		ownerSt.Lock()
		defer ownerSt.Unlock()
		if owner.refCount.Load() != 1 || owner.hasFlags(flagDirty) {
			return 0, false
		}
	}
	old := owner.clearFlags(flagMapped)
	if old&flagMapped == 0 {
		e.virtual.Store(0)
		return 0, true
	}
	va := VirtualAddr(owner.virtual.Load())
	owner.virtual.Store(0)
	e.virtual.Store(0)
	if old&flagDirty != 0 {
		c.mappedDirtyPages.Add(-1)
	}
	return va, true
}

// drainPendingRemovals destroys evicted entries whose last reference
// has since dropped. The worker runs this at the top of every cycle.
func (c *Cache) drainPendingRemovals() {
	c.listMu.Lock()
	empty := c.pendingRemoval.empty()
	c.listMu.Unlock()
	if empty {
		return
	}
	var destroyList entryList
	c.removeEntriesFromList(&c.pendingRemoval, &destroyList, false, nil)
	destroyed := c.destroyEntries(&destroyList)
	if destroyed > 0 {
		c.metrics.PagesEvicted(context.Background(), common.ListPendingRemoval, destroyed)
	}
}
