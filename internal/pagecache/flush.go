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
	"errors"

	"github.com/GoogleCloudPlatform/pagecached/common"
)

// FlushFlags modify a flush request.
type FlushFlags uint32

const (
	// FlushSynchronized makes the flush write through to the device
	// before returning; the trailing device synchronize for block
	// devices is then unnecessary.
	FlushSynchronized FlushFlags = 1 << iota
)

// WholeObject as a flush size means "from offset to the end".
const WholeObject int64 = -1

// Flush writes the object's dirty pages in [offset, offset+size) back
// to the backing store in coalesced, offset-ascending runs. A size of
// WholeObject flushes to the end. pageBudget, when non-nil, caps how
// many pages the engine takes up for flushing and is decremented by
// that count; a dirty page that ends a run counts even when it is left
// dirty for a later pass.
//
// Transient write failures never evict data: pages whose bytes did not
// reach the device are re-dirtied and the object stays flagged dirty
// for the next cycle.
func (c *Cache) Flush(ctx context.Context, obj FileObject, offset, size int64, flags FlushFlags, pageBudget *int64) error {
	start := c.clk.Now()
	st := obj.CacheState()
	st.RLock()
	err := c.flushLocked(ctx, obj, offset, size, flags, pageBudget, false)
	st.RUnlock()
	c.metrics.OpCount(ctx, common.OpFlush, 1)
	c.metrics.OpLatency(ctx, common.OpFlush, c.clk.Now().Sub(start))
	return err
}

// flushLocked is the flush engine. The object lock must be held
// shared. fromWorker enables the cooperative behaviors reserved for
// the background worker: yielding the object lock between buffers and
// bailing out with errTryAgain when physical pressure reappears while
// enough clean pages exist to make eviction worthwhile.
func (c *Cache) flushLocked(ctx context.Context, obj FileObject, offset, size int64, flags FlushFlags, pageBudget *int64, fromWorker bool) error {
	st := obj.CacheState()
	wholeObject := offset == 0 && size == WholeObject && pageBudget == nil
	if wholeObject {
		// Optimistically consider the object clean; any failure or
		// concurrent write re-registers it.
		c.dirtyMu.Lock()
		delete(c.dirtyObjects, obj.ID())
		c.dirtyMu.Unlock()
	}

	c.listMu.Lock()
	dirtyEmpty := st.dirty.empty()
	c.listMu.Unlock()
	if dirtyEmpty {
		// Flush is a fixpoint for clean objects: no write is issued.
		return nil
	}

	buffer := NewPageBuffer(c.tun.FlushMax)
	var (
		localList       entryList
		totalErr        error
		bytesFlushed    bool
		pagesFlushed    int64
		flushSize       int64
		flushNextOffset = offset
		cleanStreak     int64
		current         *Entry
	)

	// Whole-object flushes drain the dirty list onto a private list
	// and walk the index from each dirty entry, so long contiguous
	// runs are picked up in one tree pass. Range flushes walk the
	// index directly.
	if size != WholeObject || offset != 0 {
		current = st.index.searchClosest(offset)
	} else {
		c.listMu.Lock()
		st.dirty.moveAll(&localList)
		c.listMu.Unlock()
	}

	restartFromList := size == WholeObject && offset == 0
	advanced := restartFromList

	submit := func() {
		flushSize -= cleanStreak * PageSize
		if flushSize > 0 {
			if err := c.flushBuffer(ctx, obj, buffer, flushSize, flags); err != nil {
				totalErr = err
			} else {
				bytesFlushed = true
			}
		}
		buffer.Reset()
		flushSize = 0
		cleanStreak = 0
	}

	for {
		if advanced {
			if current != nil {
				current = st.index.next(current)
			}
			if current == nil && restartFromList {
				c.listMu.Lock()
				current = localList.front()
				c.listMu.Unlock()
			}
		}
		advanced = true
		if current == nil {
			break
		}
		e := current
		if size != WholeObject && e.offset >= offset+size {
			break
		}

		skip := false
		if !e.hasFlags(flagDirty) {
			skip = true
			// A synchronized flush still has to push pages whose
			// backing entry is the dirty one.
			if flags&FlushSynchronized != 0 {
				if b := e.backing.Load(); b != nil && b.hasFlags(flagDirty) {
					skip = false
				}
			}
			// Tolerate a short clean streak to merge across clean
			// islands inside a dirty run.
			if flushSize != 0 && e.offset == flushNextOffset && cleanStreak < int64(c.tun.CleanStreakMax) {
				cleanStreak++
				skip = false
			}
		} else {
			if e.offset+PageSize <= offset {
				skip = true
			} else if size != WholeObject && e.offset >= offset+size {
				skip = true
			}
			// A dirty page that breaks the run leaves the streak in
			// place so submit can trim it from the tail.
			if !skip && (flushSize == 0 || e.offset == flushNextOffset) {
				cleanStreak = 0
			}
		}

		if skip {
			if restartFromList {
				current = nil
			}
			continue
		}

		pagesFlushed++

		// Append to the working buffer while the run stays contiguous
		// and under the size cap.
		if flushSize == 0 || e.offset == flushNextOffset {
			buffer.AppendPage(e)
			flushSize += PageSize
			flushNextOffset = e.offset + PageSize
			if flushSize < c.tun.FlushMax {
				continue
			}
			current = e
			e = nil
		}

		submit()

		if pageBudget != nil && pagesFlushed >= *pageBudget {
			break
		}

		// The entry that broke the run still needs to start the next
		// buffer.
		if e != nil {
			buffer.AppendPage(e)
			flushSize = PageSize
			flushNextOffset = e.offset + PageSize
		} else if restartFromList {
			current = nil
		}

		if fromWorker {
			if c.underPhysicalPressure() &&
				c.physicalPages.Load()-c.dirtyPages.Load() > c.lowMemCleanMinPages {
				totalErr = errTryAgain
				goto done
			}
			// Yield briefly so contending writers can get the lock.
			st.RUnlock()
			st.RLock()
		}
	}

	submit()

	if c.tun.DebugCheckDirtyLists {
		c.checkObjectDirtyList(obj)
	}

done:
	// Drop any references still held by an unsubmitted buffer.
	buffer.Reset()

	// Anything still parked on the private list goes back on the
	// object's dirty list for the next pass.
	c.listMu.Lock()
	if !localList.empty() {
		localList.moveAll(&st.dirty)
	}
	c.listMu.Unlock()

	if bytesFlushed && obj.Type() == BlockDevice && flags&FlushSynchronized == 0 {
		if err := c.writer.SyncDevice(obj); err != nil && totalErr == nil {
			totalErr = err
		}
	}

	if pageBudget != nil {
		if pagesFlushed > *pageBudget {
			*pageBudget = 0
		} else {
			*pageBudget -= pagesFlushed
		}
	}

	if totalErr != nil && !errors.Is(totalErr, errTryAgain) {
		c.noteObjectDirty(obj)
		obj.MarkDirty()
	} else if wholeObject {
		// The object was optimistically unregistered up front; if a
		// retry-later or a concurrent writer left dirty pages behind,
		// put it back so the next cycle finds it.
		c.listMu.Lock()
		stillDirty := !st.dirty.empty()
		c.listMu.Unlock()
		if stillDirty {
			c.noteObjectDirty(obj)
		}
	}
	return totalErr
}

// flushBuffer submits one coalesced run. Marking each page clean here
// is the commit point: a writer re-dirtying a page afterwards will be
// observed by the next pass. An entry no longer in its index means the
// run raced with truncate; the run is cut short there.
func (c *Cache) flushBuffer(ctx context.Context, obj FileObject, buffer *PageBuffer, flushSize int64, flags FlushFlags) error {
	first := buffer.PageCacheEntryAt(0)
	fileOffset := first.offset

	bytesToWrite := int64(0)
	clean := true
	for bufOffset := int64(0); bufOffset < flushSize; bufOffset += PageSize {
		e := buffer.PageCacheEntryAt(bufOffset)
		if !e.attached.Load() {
			break
		}
		if c.MarkClean(e, true) {
			clean = false
		}
		bytesToWrite += PageSize
	}

	// Never write past the end of the object.
	if objSize := obj.Size(); fileOffset+bytesToWrite > objSize {
		bytesToWrite = objSize - fileOffset
		if bytesToWrite < 0 {
			bytesToWrite = 0
		}
	}
	if bytesToWrite == 0 {
		return nil
	}
	// Already-clean runs mean another thread is doing the I/O; only a
	// synchronized flush pushes through regardless.
	if clean && flags&FlushSynchronized == 0 {
		return nil
	}

	ioCtx := &IoContext{Buffer: buffer, Offset: fileOffset, Size: bytesToWrite, Flags: flags}
	written, err := c.writer.PerformNonCachedWrite(obj, ioCtx)
	if err == nil && written != bytesToWrite {
		err = ErrDataLengthMismatch
	}
	if err != nil {
		// Re-dirty everything that did not make it out.
		redirtyFrom := written &^ (PageSize - 1)
		for bufOffset := redirtyFrom; bufOffset < bytesToWrite; bufOffset += PageSize {
			e := buffer.PageCacheEntryAt(bufOffset)
			c.markDirtyInternal(e.ownerEntry())
		}
		return err
	}
	c.metrics.PagesFlushed(ctx, bytesToWrite/PageSize, bytesToWrite)
	return nil
}
