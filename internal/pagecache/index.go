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

import "github.com/google/btree"

// entryIndex is the ordered map from page-aligned offsets to entries
// for one file-like object. The caller must hold the object's lock in
// shared mode for lookups and traversal and in exclusive mode for
// insert and remove.
type entryIndex struct {
	tree *btree.BTreeG[*Entry]
}

const indexDegree = 8

func newEntryIndex() *entryIndex {
	return &entryIndex{
		tree: btree.NewG(indexDegree, func(a, b *Entry) bool {
			return a.offset < b.offset
		}),
	}
}

func (ix *entryIndex) empty() bool {
	return ix.tree.Len() == 0
}

// search returns the entry at exactly the given offset, or nil.
func (ix *entryIndex) search(offset int64) *Entry {
	e, ok := ix.tree.Get(&Entry{offset: offset})
	if !ok {
		return nil
	}
	return e
}

// searchClosest returns the entry with the smallest offset >= the given
// offset, or nil if there is none.
func (ix *entryIndex) searchClosest(offset int64) *Entry {
	var found *Entry
	ix.tree.AscendGreaterOrEqual(&Entry{offset: offset}, func(e *Entry) bool {
		found = e
		return false
	})
	return found
}

// next returns the in-order successor of the given entry, or nil at the
// end of the index.
func (ix *entryIndex) next(e *Entry) *Entry {
	var found *Entry
	ix.tree.AscendGreaterOrEqual(&Entry{offset: e.offset + 1}, func(n *Entry) bool {
		found = n
		return false
	})
	return found
}

// ascend walks the index in offset order starting at the given offset.
func (ix *entryIndex) ascend(offset int64, fn func(e *Entry) bool) {
	ix.tree.AscendGreaterOrEqual(&Entry{offset: offset}, fn)
}

// insert adds an entry. The offset must not already be present.
func (ix *entryIndex) insert(e *Entry) {
	if _, present := ix.tree.ReplaceOrInsert(e); present {
		panic("pagecache: duplicate index offset")
	}
}

// remove detaches an entry from the index.
func (ix *entryIndex) remove(e *Entry) {
	ix.tree.Delete(e)
}
