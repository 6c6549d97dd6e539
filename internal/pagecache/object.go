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

	"github.com/google/uuid"
)

// FileObject is the collaborator contract for the file-like objects
// whose pages the cache holds: regular files, symlinks, shared-memory
// objects, and block devices. The object owns its per-object lock,
// index, and dirty-page list, all grouped in the CacheState it hands
// out. Implementations live with the callers; the cache only needs
// identity, type, size, references, and a dirty notification.
type FileObject interface {
	// ID uniquely identifies the object for the lifetime of the
	// process.
	ID() uuid.UUID

	// Type classifies the object. Only block devices can own a page
	// shared through the backing relationship.
	Type() ObjectType

	// Size returns the object's current length in bytes. Flushes never
	// write past it.
	Size() int64

	// CacheState returns the object's cache-side state. The same
	// CacheState must be returned every time.
	CacheState() *CacheState

	// AddReference and ReleaseReference manage the object's own
	// lifetime. Every cache entry holds one reference on its object.
	AddReference()
	ReleaseReference()

	// MarkDirty tells the object's owner that the cache now holds
	// dirty data for it, so that a filesystem-level dirty flag can be
	// raised.
	MarkDirty()
}

// CacheState is the per-object portion of the page cache: the ordered
// index of resident pages and the intrusive dirty list, both protected
// by the object lock (the dirty list hooks additionally take the
// global list lock, which nests inside).
type CacheState struct {
	// mu is the per-object shared-exclusive lock. Shared for lookup
	// and flush traversal, exclusive for insertion, removal, and dirty
	// transitions that change list membership.
	mu sync.RWMutex

	index *entryIndex

	// dirty holds this object's dirty entries in the order they were
	// dirtied. Hook manipulation requires the global list lock; the
	// object lock serializes which transitions happen.
	dirty entryList
}

// NewCacheState returns a fresh per-object cache state. File-object
// implementations call this once at construction.
func NewCacheState() *CacheState {
	return &CacheState{index: newEntryIndex()}
}

// Lock and friends expose the per-object lock to the thin VFS callers
// that must hold it around lookup and write paths.
func (s *CacheState) Lock()    { s.mu.Lock() }
func (s *CacheState) Unlock()  { s.mu.Unlock() }
func (s *CacheState) RLock()   { s.mu.RLock() }
func (s *CacheState) RUnlock() { s.mu.RUnlock() }

// TryLock attempts the exclusive lock without blocking; used by timid
// trim passes that may already hold object locks further up the stack.
func (s *CacheState) TryLock() bool { return s.mu.TryLock() }
