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
	"fmt"

	"github.com/GoogleCloudPlatform/pagecached/internal/logger"
)

// checkObjectDirtyList verifies that every dirty entry in the object's
// index sits on the object's dirty list. Very slow; only runs under
// the debug tunable. The caller must hold the object lock.
func (c *Cache) checkObjectDirtyList(obj FileObject) {
	st := obj.CacheState()
	c.listMu.Lock()
	defer c.listMu.Unlock()
	st.index.ascend(0, func(e *Entry) bool {
		if !e.hasFlags(flagDirty) {
			return true
		}
		if !e.onList() {
			c.invariantViolation(fmt.Sprintf("entry %v dirty but not on any list", e))
			return true
		}
		onDirtyList := false
		for h := st.dirty.sentinel().next; h != st.dirty.sentinel(); h = h.next {
			if h.owner == e {
				onDirtyList = true
				break
			}
		}
		if !onDirtyList {
			c.invariantViolation(fmt.Sprintf("entry %v dirty but not on its dirty list", e))
		}
		return true
	})
}

func (c *Cache) invariantViolation(msg string) {
	if c.tun.ExitOnInvariantViolation {
		logger.Fatal("pagecache invariant violation: " + msg)
	}
	logger.Errorf("pagecache invariant violation: %s", msg)
}
