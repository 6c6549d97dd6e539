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

package common

// Cache operation names, used to tag metrics.
const (
	OpLookup         = "lookup"
	OpCreateOrLookup = "create_or_lookup"
	OpCreateInsert   = "create_and_insert"
	OpCopyAndCache   = "copy_and_cache"
	OpFlush          = "flush"
	OpEvict          = "evict"
	OpMarkDirty      = "mark_dirty"
	OpMarkClean      = "mark_clean"
	OpLink           = "link"
	OpTrim           = "trim"
)

// List names, used to tag eviction metrics by which global list the
// pages were pulled from.
const (
	ListCleanLRU       = "clean_lru"
	ListCleanUnmapped  = "clean_unmapped"
	ListPendingRemoval = "pending_removal"
	ListDirty          = "dirty"
)
