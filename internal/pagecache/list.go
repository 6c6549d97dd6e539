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

// listHook is the single intrusive link embedded in every entry. An
// entry is on at most one list at a time: the clean-LRU, the
// clean-unmapped list, the pending-removal list, or one object's dirty
// list. A nil next pointer means "not on any list"; that null state is
// the admission gate for release's reinsert, so it is reset
// explicitly on removal rather than inferred. Hook fields are protected
// by the cache's global list lock.
type listHook struct {
	prev, next *listHook
	owner      *Entry
}

// onList reports whether the entry currently sits on some list. The
// caller must hold the list lock.
func (e *Entry) onList() bool {
	return e.hook.next != nil
}

// entryList is a circular doubly linked list of entries threaded
// through their intrusive hooks, with the embedded head acting as the
// sentinel. The zero value is an empty list. All operations require
// the cache's global list lock.
type entryList struct {
	head listHook
}

func (l *entryList) sentinel() *listHook {
	if l.head.next == nil {
		l.head.next = &l.head
		l.head.prev = &l.head
	}
	return &l.head
}

func (l *entryList) empty() bool {
	s := l.sentinel()
	return s.next == s
}

// pushBack appends an entry that is not currently on any list.
func (l *entryList) pushBack(e *Entry) {
	if e.hook.next != nil {
		panic("pagecache: entry already on a list")
	}
	s := l.sentinel()
	e.hook.prev = s.prev
	e.hook.next = s
	s.prev.next = &e.hook
	s.prev = &e.hook
}

// unlink removes an entry from whichever list it is on and resets its
// hook to the null state. The lists are circular, so removal does not
// need to know which list the entry came from.
func unlink(e *Entry) {
	if e.hook.next == nil {
		panic("pagecache: entry not on a list")
	}
	e.hook.prev.next = e.hook.next
	e.hook.next.prev = e.hook.prev
	e.hook.prev = nil
	e.hook.next = nil
}

// front returns the first entry, or nil if the list is empty.
func (l *entryList) front() *Entry {
	s := l.sentinel()
	if s.next == s {
		return nil
	}
	return s.next.owner
}

// popFront removes and returns the first entry, or nil if the list is
// empty.
func (l *entryList) popFront() *Entry {
	e := l.front()
	if e != nil {
		unlink(e)
	}
	return e
}

// moveAll transfers every entry from l onto the tail of dst, leaving l
// empty. Used to drain a dirty list onto a flush-local list and to
// splice trim leftovers back.
func (l *entryList) moveAll(dst *entryList) {
	for {
		e := l.popFront()
		if e == nil {
			return
		}
		dst.pushBack(e)
	}
}
