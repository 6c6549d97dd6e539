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

import "errors"

// Error kinds surfaced by the cache. Callers should use errors.Is
// against these sentinels rather than matching on message text.
var (
	// ErrOutOfMemory means the allocator (entry record, coalesce buffer,
	// or physical page) was exhausted. Callers of CreateOrLookup treat a
	// nil entry as "proceed uncached".
	ErrOutOfMemory = errors.New("pagecache: out of memory")

	// ErrResourceInUse means an unmap-VA attempt observed a reference or
	// dirty state. It is used internally by virtual trim and never
	// surfaced to cache callers.
	ErrResourceInUse = errors.New("pagecache: resource in use")

	// ErrDataLengthMismatch means the non-cached-write collaborator
	// completed short or failed; the affected pages are re-dirtied.
	ErrDataLengthMismatch = errors.New("pagecache: short or failed write")

	// errTryAgain is the internal control signal from the flush engine
	// to the background worker: switch to eviction, then come back. It
	// is never returned to a cache caller.
	errTryAgain = errors.New("pagecache: try again")

	// ErrInvalidParameter means a statistics call requested an
	// unsupported version of the statistics struct.
	ErrInvalidParameter = errors.New("pagecache: invalid parameter")

	// ErrCollision signals that CreateAndInsert's no-collision
	// precondition turned out to be false; it is a programming error
	// and surfaces as a panic value.
	ErrCollision = errors.New("pagecache: entry already present at offset")
)
