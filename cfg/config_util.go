// Copyright 2024 Google LLC
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

package cfg

// VirtualTrigger returns the virtual-memory trim trigger threshold for the
// configured VM size profile.
func (m *MemoryConfig) VirtualTrigger() ByteSize {
	if m.VMSize == SmallVM {
		return m.VirtualTriggerSmallVM
	}
	return m.VirtualTriggerLargeVM
}

// VirtualRetreat returns the virtual-memory trim retreat threshold for the
// configured VM size profile.
func (m *MemoryConfig) VirtualRetreat() ByteSize {
	if m.VMSize == SmallVM {
		return m.VirtualRetreatSmallVM
	}
	return m.VirtualRetreatLargeVM
}

// MaxDirtyPages derives the maximum permitted dirty page count from the
// ideal cache size: at most half of the ideal size (shift 1) is permitted
// dirty, per the max-dirty-shift tunable.
func (m *MemoryConfig) MaxDirtyPages(idealCachePages int64) int64 {
	return idealCachePages >> uint(m.MaxDirtyShift)
}

// LowMemoryCleanTarget returns the number of pages the worker should clean
// during a low-memory pass: the larger of a percentage of total RAM pages
// and zero, capped at LowMemoryCleanCapPages.
func (m *MemoryConfig) LowMemoryCleanTarget(totalRAMPages int64) int {
	target := int64(float64(totalRAMPages) * m.LowMemoryCleanMinPercent.Fraction())
	if target > int64(m.LowMemoryCleanCapPages) {
		target = int64(m.LowMemoryCleanCapPages)
	}
	return int(target)
}
