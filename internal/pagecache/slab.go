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

import "sync"

// entrySlab recycles entry records so that steady-state lookup and
// eviction churn does not allocate.
type entrySlab struct {
	pool sync.Pool
}

func newEntrySlab() *entrySlab {
	return &entrySlab{
		pool: sync.Pool{
			New: func() any { return new(Entry) },
		},
	}
}

func (s *entrySlab) get() *Entry {
	return s.pool.Get().(*Entry)
}

// put returns a destroyed entry record to the slab. The record must
// already be fully torn down; it is scrubbed here so a recycled record
// starts from the same zero state as a fresh one.
func (s *entrySlab) put(e *Entry) {
	*e = Entry{}
	s.pool.Put(e)
}
