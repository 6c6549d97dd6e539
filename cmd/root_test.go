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

package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GoogleCloudPlatform/pagecached/cfg"
)

func TestTunablesFromConfig(t *testing.T) {
	c := cfg.Config{
		Memory: cfg.MemoryConfig{
			VMSize:                   cfg.SmallVM,
			HeadroomTriggerPercent:   12,
			HeadroomRetreatPercent:   18,
			WorkingSetFloorPercent:   30,
			AbsoluteMinimumPercent:   5,
			VirtualTriggerSmallVM:    512 * cfg.MiB,
			VirtualRetreatSmallVM:    896 * cfg.MiB,
			VirtualTriggerLargeVM:    cfg.GiB,
			VirtualRetreatLargeVM:    3 * cfg.GiB,
			LowMemoryCleanMinPercent: 10,
			LowMemoryCleanCapPages:   256,
			MaxDirtyShift:            2,
		},
		Flush: cfg.FlushConfig{
			Max:            64 * cfg.KiB,
			CleanStreakMax: 3,
		},
		Worker: cfg.WorkerConfig{CleanDelay: 9 * time.Second},
	}

	tun := tunablesFromConfig(&c, false)

	assert.Equal(t, 12.0, tun.HeadroomTriggerPercent)
	assert.Equal(t, 18.0, tun.HeadroomRetreatPercent)
	assert.Equal(t, 30.0, tun.WorkingSetFloorPercent)
	assert.Equal(t, 5.0, tun.AbsoluteMinimumPercent)
	assert.Equal(t, int64(512*cfg.MiB), tun.VirtualTriggerBytes)
	assert.Equal(t, int64(896*cfg.MiB), tun.VirtualRetreatBytes)
	assert.Equal(t, int64(64*cfg.KiB), tun.FlushMax)
	assert.Equal(t, 3, tun.CleanStreakMax)
	assert.Equal(t, 9*time.Second, tun.CleanDelay)
	assert.Equal(t, uint(2), tun.MaxDirtyShift)
}

func TestVirtualProfileFollowsVMSize(t *testing.T) {
	small := cfg.GetDefaultMemoryConfig()
	small.VMSize = cfg.SmallVM
	assert.Equal(t, cfg.DefaultVirtualTriggerSmallVM, small.VirtualTrigger())

	large := cfg.GetDefaultMemoryConfig()
	large.VMSize = cfg.LargeVM
	assert.Equal(t, cfg.DefaultVirtualRetreatLargeVM, large.VirtualRetreat())
}
