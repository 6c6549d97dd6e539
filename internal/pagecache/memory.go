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

	"golang.org/x/sys/unix"
)

// WarningLevel grades memory pressure as reported by the memory
// manager.
type WarningLevel int

const (
	WarningNone WarningLevel = iota
	WarningLow
	WarningSevere
)

// MemoryManager is the collaborator the cache draws physical pages,
// virtual mappings, and pressure signals from.
type MemoryManager interface {
	// AllocPhysicalPage reserves one page frame. It returns
	// ErrOutOfMemory when the allocator is exhausted.
	AllocPhysicalPage() (PhysicalAddr, error)

	// FreePhysicalPage returns a frame allocated by AllocPhysicalPage.
	FreePhysicalPage(pa PhysicalAddr)

	// PageBytes exposes the contents of a frame. The slice aliases the
	// frame; it is valid until the frame is freed.
	PageBytes(pa PhysicalAddr) []byte

	// MapPhysicalToVA installs a virtual mapping for the frame and
	// returns its address. Successive calls hand out ascending
	// addresses, so pages mapped back to back form contiguous runs.
	MapPhysicalToVA(pa PhysicalAddr) (VirtualAddr, error)

	// UnmapVARange tears down size bytes of virtual mappings starting
	// at va. The range may span multiple pages mapped contiguously.
	UnmapVARange(va VirtualAddr, size int64)

	// TotalPhysicalPages and FreePhysicalPages describe the system's
	// physical memory in pages.
	TotalPhysicalPages() int64
	FreePhysicalPages() int64

	// FreeVirtualBytes reports how much kernel virtual address space
	// remains for new mappings.
	FreeVirtualBytes() int64

	// VirtualWarningLevel reports the current virtual-memory pressure.
	VirtualWarningLevel() WarningLevel

	// RequestPageout asks the memory manager to page out user pages
	// until the free-page line reaches the given target.
	RequestPageout(target int64)

	// PhysicalWarning and VirtualWarning deliver pressure signals to
	// the background worker. Senders must not block: signals coalesce.
	PhysicalWarning() <-chan struct{}
	VirtualWarning() <-chan struct{}

	// UnmapImageSections removes any image-section (mmap) mappings of
	// the given page range of the object, touching only page-cache
	// owned mappings. It reports whether a mapping had dirtied the
	// page. An error means the page must be left alone.
	UnmapImageSections(obj FileObject, offset, size int64) (wasDirty bool, err error)
}

// SystemMemory is the production MemoryManager: page frames are plain
// heap allocations, virtual addresses are simulated with an ascending
// counter, and the physical totals come from the operating system via
// sysinfo. Pressure warnings fire when Poll observes the free line
// crossing the configured fractions of total memory.
type SystemMemory struct {
	mu       sync.RWMutex
	frames   map[PhysicalAddr][]byte
	mappings map[VirtualAddr]PhysicalAddr
	nextPA   PhysicalAddr
	nextVA   VirtualAddr

	physWarn chan struct{}
	virtWarn chan struct{}

	// virtualSpan approximates the kernel VA budget available for
	// cache mappings; mapped pages consume it.
	virtualSpan int64
	mappedBytes int64
}

// NewSystemMemory returns a system-backed memory manager with the
// given virtual address budget.
func NewSystemMemory(virtualSpan int64) *SystemMemory {
	return &SystemMemory{
		frames:      make(map[PhysicalAddr][]byte),
		mappings:    make(map[VirtualAddr]PhysicalAddr),
		nextPA:      PageSize,
		nextVA:      PageSize,
		physWarn:    make(chan struct{}, 1),
		virtWarn:    make(chan struct{}, 1),
		virtualSpan: virtualSpan,
	}
}

func (m *SystemMemory) AllocPhysicalPage() (PhysicalAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pa := m.nextPA
	m.nextPA += PageSize
	m.frames[pa] = make([]byte, PageSize)
	return pa, nil
}

func (m *SystemMemory) FreePhysicalPage(pa PhysicalAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.frames[pa]; !ok {
		panic("pagecache: free of unallocated page frame")
	}
	delete(m.frames, pa)
}

func (m *SystemMemory) PageBytes(pa PhysicalAddr) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frames[pa]
}

func (m *SystemMemory) MapPhysicalToVA(pa PhysicalAddr) (VirtualAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	va := m.nextVA
	m.nextVA += PageSize
	m.mappings[va] = pa
	m.mappedBytes += PageSize
	return va, nil
}

func (m *SystemMemory) UnmapVARange(va VirtualAddr, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for off := int64(0); off < size; off += PageSize {
		addr := va + VirtualAddr(off)
		if _, ok := m.mappings[addr]; ok {
			delete(m.mappings, addr)
			m.mappedBytes -= PageSize
		}
	}
}

func (m *SystemMemory) TotalPhysicalPages() int64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return int64(info.Totalram) * int64(info.Unit) / PageSize
}

func (m *SystemMemory) FreePhysicalPages() int64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return int64(info.Freeram) * int64(info.Unit) / PageSize
}

func (m *SystemMemory) FreeVirtualBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.virtualSpan - m.mappedBytes
}

func (m *SystemMemory) VirtualWarningLevel() WarningLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.mappedBytes >= m.virtualSpan:
		return WarningSevere
	case m.mappedBytes >= m.virtualSpan/4*3:
		return WarningLow
	default:
		return WarningNone
	}
}

func (m *SystemMemory) RequestPageout(target int64) {
	// User-space rendition: nothing to page out. The kernel's own
	// reclaim reacts to the allocations this process makes.
}

func (m *SystemMemory) PhysicalWarning() <-chan struct{} { return m.physWarn }
func (m *SystemMemory) VirtualWarning() <-chan struct{}  { return m.virtWarn }

func (m *SystemMemory) UnmapImageSections(obj FileObject, offset, size int64) (bool, error) {
	// No image sections exist in the daemon rendition.
	return false, nil
}

// Poll compares current pressure against the given triggers (in pages
// and bytes) and raises the corresponding warning. The daemon calls
// this on a short interval.
func (m *SystemMemory) Poll(physTriggerPages, virtTriggerBytes int64) {
	if m.FreePhysicalPages() < physTriggerPages {
		select {
		case m.physWarn <- struct{}{}:
		default:
		}
	}
	if m.FreeVirtualBytes() < virtTriggerBytes {
		select {
		case m.virtWarn <- struct{}{}:
		default:
		}
	}
}
