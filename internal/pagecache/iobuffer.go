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

// IoBuffer is the collaborator contract for the page-granular buffers
// that read and write paths hand to the cache. A buffer is a sequence
// of page frames; each position may additionally be backed by a cache
// entry, in which case the buffer holds a reference on that entry.
type IoBuffer interface {
	// AppendPage adds the entry's page to the end of the buffer,
	// taking a reference on the entry.
	AppendPage(e *Entry)

	// AppendFrame adds a raw frame without cache backing.
	AppendFrame(pa PhysicalAddr, va VirtualAddr)

	// PageCacheEntryAt returns the entry backing the page at the given
	// byte offset into the buffer, or nil.
	PageCacheEntryAt(offset int64) *Entry

	// SetPageCacheEntryAt back-references an entry into the buffer at
	// the given byte offset, taking a reference on it. The position
	// must not already be cache backed.
	SetPageCacheEntryAt(offset int64, e *Entry)

	// FrameAt returns the physical and virtual address of the page at
	// the given byte offset into the buffer. The virtual address may
	// be zero.
	FrameAt(offset int64) (PhysicalAddr, VirtualAddr)

	// Size returns the buffer's length in bytes.
	Size() int64

	// Reset drops all pages, releasing any entry references.
	Reset()
}

type bufferPage struct {
	pa    PhysicalAddr
	va    VirtualAddr
	entry *Entry
}

// PageBuffer is the in-process IoBuffer implementation, used by the
// flush engine's coalesce buffer and by tests. It is not safe for
// concurrent use.
type PageBuffer struct {
	pages []bufferPage
}

// NewPageBuffer returns an empty buffer with capacity for the given
// number of bytes.
func NewPageBuffer(capacity int64) *PageBuffer {
	return &PageBuffer{pages: make([]bufferPage, 0, capacity/PageSize)}
}

func (b *PageBuffer) AppendPage(e *Entry) {
	e.acquire()
	b.pages = append(b.pages, bufferPage{
		pa:    PhysicalAddr(e.physical.Load()),
		va:    VirtualAddr(e.virtual.Load()),
		entry: e,
	})
}

func (b *PageBuffer) AppendFrame(pa PhysicalAddr, va VirtualAddr) {
	b.pages = append(b.pages, bufferPage{pa: pa, va: va})
}

func (b *PageBuffer) PageCacheEntryAt(offset int64) *Entry {
	i := int(offset / PageSize)
	if i < 0 || i >= len(b.pages) {
		return nil
	}
	return b.pages[i].entry
}

func (b *PageBuffer) SetPageCacheEntryAt(offset int64, e *Entry) {
	i := int(offset / PageSize)
	if b.pages[i].entry != nil {
		panic("pagecache: buffer page already cache backed")
	}
	e.acquire()
	b.pages[i].entry = e
}

func (b *PageBuffer) FrameAt(offset int64) (PhysicalAddr, VirtualAddr) {
	i := int(offset / PageSize)
	if i < 0 || i >= len(b.pages) {
		return 0, 0
	}
	return b.pages[i].pa, b.pages[i].va
}

func (b *PageBuffer) Size() int64 {
	return int64(len(b.pages)) * PageSize
}

func (b *PageBuffer) Reset() {
	for i := range b.pages {
		if e := b.pages[i].entry; e != nil {
			e.release()
		}
	}
	b.pages = b.pages[:0]
}
