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
	"fmt"
	"sync/atomic"
)

// Entry is the cache record for exactly one page-sized slice of one
// file-like object.
//
// The reference count and flag word are manipulated atomically. The
// hook field is protected by the cache's global list lock. The offset,
// object, and physical address are immutable after insertion except
// under Link, which holds both object locks exclusively. The virtual
// address is owned by whichever entry holds the owner flag; a borrower
// keeps a copy that only ever converges to the owner's value.
type Entry struct {
	cache  *Cache
	object FileObject

	// offset is the page-aligned position of this page within object.
	offset int64

	physical atomic.Uintptr
	virtual  atomic.Uintptr

	// backing, when non-nil, is the entry that owns the physical page
	// this entry borrows. The pointer holds a reference on the backing
	// entry for the borrower's lifetime.
	backing atomic.Pointer[Entry]

	refCount atomic.Int32
	flags    atomic.Uint32

	hook listHook

	// attached is true while the entry is a member of its object's
	// index. Protected by the object lock; once cleared it never goes
	// back, which is what keeps evicted entries from being flushed or
	// found again.
	attached atomic.Bool
}

func (e *Entry) String() string {
	return fmt.Sprintf("entry{%v@%#x pa=%#x ref=%d flags=%#x}",
		e.object.Type(), e.offset, e.physical.Load(), e.refCount.Load(), e.flags.Load())
}

// Object returns the file-like object this entry caches a page of.
func (e *Entry) Object() FileObject {
	return e.object
}

// Offset returns the page-aligned offset of this entry within its
// object.
func (e *Entry) Offset() int64 {
	return e.offset
}

// hasFlags reports whether all the given flag bits are currently set.
func (e *Entry) hasFlags(f flags) bool {
	return flags(e.flags.Load())&f == f
}

// setFlags atomically ors in the given bits and returns the previous
// flag word.
func (e *Entry) setFlags(f flags) flags {
	for {
		old := e.flags.Load()
		if e.flags.CompareAndSwap(old, old|uint32(f)) {
			return flags(old)
		}
	}
}

// clearFlags atomically clears the given bits and returns the previous
// flag word.
func (e *Entry) clearFlags(f flags) flags {
	for {
		old := e.flags.Load()
		if e.flags.CompareAndSwap(old, old&^uint32(f)) {
			return flags(old)
		}
	}
}

// acquire increments the entry's reference count. Callers must either
// already hold a reference or hold the per-object lock; those are the
// only things keeping the entry alive to be referenced at all.
func (e *Entry) acquire() {
	old := e.refCount.Add(1) - 1
	if old < 0 || old >= maxRefCount {
		panic(fmt.Sprintf("pagecache: bad reference count %d on %v", old, e))
	}
}

// release decrements the entry's reference count. If the count reaches
// zero and the entry is clean, off every list, and still in its index,
// it is reinserted at the tail of the clean-LRU. The off-list and
// clean conditions are retested under the list lock because they race
// with a concurrent mark-dirty.
//
// An entry that has been removed from its index is queued on the
// pending-removal list instead, and the worker's next drain destroys
// it; release itself never destroys, so a concurrent drain observing
// (listed, zero references) under the list lock knows the releaser is
// done with the record.
func (e *Entry) release() {
	c := e.cache
	old := e.refCount.Add(-1) + 1
	if old <= 0 || old >= maxRefCount {
		panic(fmt.Sprintf("pagecache: bad reference count %d on %v", old, e))
	}
	if old != 1 || e.hasFlags(flagDirty) {
		return
	}
	c.listMu.Lock()
	if e.refCount.Load() == 0 && e.hook.next == nil && !e.hasFlags(flagDirty) {
		if e.attached.Load() {
			c.cleanLRU.pushBack(e)
		} else {
			c.pendingRemoval.pushBack(e)
		}
	}
	c.listMu.Unlock()
}

// ownerEntry resolves to the entry holding the owner flag: the backing
// entry if this entry borrows its page, otherwise the entry itself.
func (e *Entry) ownerEntry() *Entry {
	if !e.hasFlags(flagOwner) {
		if b := e.backing.Load(); b != nil {
			return b
		}
	}
	return e
}
