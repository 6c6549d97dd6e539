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

import "time"

// StatisticsVersion is the current layout version of Statistics.
const StatisticsVersion = 1

// Statistics is the read-only snapshot handed to observers. Callers
// set Version before the call; a version below the compiled one is
// rejected so old binaries never misread newer layouts.
type Statistics struct {
	Version uint32

	EntryCount           int64
	HeadroomPagesTrigger int64
	HeadroomPagesRetreat int64
	MinimumPagesTarget   int64
	PhysicalPageCount    int64
	DirtyPageCount       int64
	MappedPageCount      int64
	MappedDirtyPageCount int64
	LastCleanTime        time.Time
}

// GetStatistics fills out the caller's statistics struct.
func (c *Cache) GetStatistics(stats *Statistics) error {
	if stats.Version < StatisticsVersion {
		return ErrInvalidParameter
	}
	stats.Version = StatisticsVersion
	stats.EntryCount = c.entryCount.Load()
	stats.HeadroomPagesTrigger = c.headroomTriggerPages
	stats.HeadroomPagesRetreat = c.headroomRetreatPages
	stats.MinimumPagesTarget = c.workingSetFloorPages
	stats.PhysicalPageCount = c.physicalPages.Load()
	stats.DirtyPageCount = c.dirtyPages.Load()
	stats.MappedPageCount = c.mappedPages.Load()
	stats.MappedDirtyPageCount = c.mappedDirtyPages.Load()
	stats.LastCleanTime = time.Unix(0, c.lastCleanTime.Load())
	return nil
}
