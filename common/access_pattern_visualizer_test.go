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

package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessPatternSequentialClassification(t *testing.T) {
	v := NewAccessPatternVisualizer("file-a")
	for off := int64(0); off < 16*4096; off += 4096 {
		v.Record(off, 4096)
	}
	assert.True(t, v.IsSequential())
	assert.Contains(t, v.String(), "sequential")
}

func TestAccessPatternRandomClassification(t *testing.T) {
	v := NewAccessPatternVisualizer("file-b")
	for _, off := range []int64{0, 5 * 4096, 4096, 11 * 4096, 3 * 4096, 9 * 4096} {
		v.Record(off, 4096)
	}
	assert.False(t, v.IsSequential())
	assert.Contains(t, v.String(), "random")
}

func TestAccessPatternCoverageMergesOverlaps(t *testing.T) {
	v := NewAccessPatternVisualizer("file-c")
	v.Record(0, 4096)
	v.Record(0, 4096)
	v.Record(4096, 4096)
	v.Record(3*4096, 4096)

	touched, maxOffset := v.Coverage()
	assert.EqualValues(t, 3*4096, touched)
	assert.EqualValues(t, 4*4096, maxOffset)
}

func TestAccessPatternEmptyAndZeroLength(t *testing.T) {
	v := NewAccessPatternVisualizer("empty")
	v.Record(100, 0)
	touched, maxOffset := v.Coverage()
	assert.Zero(t, touched)
	assert.Zero(t, maxOffset)
	assert.False(t, v.IsSequential())
}

func TestAccessPatternBarCoversTouchedCells(t *testing.T) {
	v := NewAccessPatternVisualizer("bar")
	v.Record(0, 4096)
	v.Record(63*4096, 4096)
	s := v.String()
	bar := s[strings.Index(s, "|")+1 : strings.LastIndex(s, "|")]
	assert.Equal(t, byte('#'), bar[0])
	assert.Equal(t, byte('#'), bar[len(bar)-1])
	assert.Contains(t, bar, ".")
}

func TestAccessPatternBoundedBookkeeping(t *testing.T) {
	v := NewAccessPatternVisualizer("big")
	for i := int64(0); i < 5000; i++ {
		v.Record(i*4096, 4096)
	}
	v.mu.Lock()
	assert.Less(t, len(v.ranges), 1100)
	v.mu.Unlock()
	touched, _ := v.Coverage()
	assert.EqualValues(t, 5000*4096, touched)
}
