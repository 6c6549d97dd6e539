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
	"context"
	"errors"

	"github.com/GoogleCloudPlatform/pagecached/internal/logger"
)

// Worker scheduling states: the clean-to-dirty transition is the race
// writers win to arm the timer.
const (
	workerStateClean int32 = iota
	workerStateDirty
)

// Schedule notes that dirty data exists and arms the clean-delay
// timer. Every writer calls it after dirtying a page; only the one
// that wins the CLEAN to DIRTY transition queues the timer.
func (c *Cache) Schedule() {
	if c.state.Load() == workerStateDirty {
		return
	}
	if c.state.CompareAndSwap(workerStateClean, workerStateDirty) {
		c.cleanTimer.Reset(c.tun.CleanDelay)
		select {
		case c.rearm <- struct{}{}:
		default:
		}
	}
}

// StartWorker launches the single background maintenance goroutine. It
// waits on three signals: the clean-delay timer, the physical-memory
// warning, and the virtual-memory warning; any of them starts a cycle.
func (c *Cache) StartWorker() {
	if !c.workerRunning.CompareAndSwap(false, true) {
		panic("pagecache: worker already running")
	}
	go c.workerLoop()
}

// StopWorker terminates the worker goroutine. Only the daemon's
// shutdown path uses it; the cache itself has no teardown.
func (c *Cache) StopWorker() {
	close(c.stopCh)
	<-c.workerDone
}

func (c *Cache) workerLoop() {
	defer close(c.workerDone)
	physWarn := c.mem.PhysicalWarning()
	virtWarn := c.mem.VirtualWarning()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.rearm:
			// The timer was rearmed; reselect so the fresh channel is
			// in the wait set.
			continue
		case <-c.cleanTimer.C():
		case <-physWarn:
		case <-virtWarn:
		}
		c.workerCycle()
	}
}

// workerCycle runs one full maintenance pass: drain removals, trim,
// flush everything dirty, and either quiesce or reschedule.
func (c *Cache) workerCycle() {
	ctx := context.Background()
	start := c.clk.Now()
	c.lastCleanTime.Store(start.UnixNano())
	retried := false
	for {
		c.drainPendingRemovals()
		c.Trim(false)

		err := c.flushDirtyObjects(ctx)
		if errors.Is(err, errTryAgain) {
			// The flush backed off so eviction can run; loop around.
			retried = true
			continue
		}
		if err != nil {
			logger.Warnf("background flush: %v", err)
		}

		// The cache looks clean. Kill the timer, publish the CLEAN
		// state, and recheck: any dirtiness that snuck in while doing
		// so reschedules (racing with every other writer doing the
		// same).
		c.cleanTimer.Cancel()
		c.state.Store(workerStateClean)
		if c.hasDirtyObjects() || c.dirtyPages.Load() != 0 {
			c.Schedule()
		}
		break
	}
	if c.tun.TraceAccessPatterns {
		for _, v := range c.accessPatterns() {
			logger.Tracef("access pattern: %s", v)
		}
	}
	c.metrics.WorkerCycleLatency(ctx, c.clk.Now().Sub(start), retried)
	c.metrics.SetGauges(ctx,
		c.entryCount.Load(),
		c.physicalPages.Load(),
		c.dirtyPages.Load(),
		c.mappedPages.Load(),
		c.mappedDirtyPages.Load())
}

// flushDirtyObjects runs a whole-object flush over every object that
// had dirty pages when the cycle started. The first retry-later signal
// is returned so the worker can switch to eviction; other errors are
// carried through so failed objects stay registered dirty.
func (c *Cache) flushDirtyObjects(ctx context.Context) error {
	var firstErr error
	for _, obj := range c.snapshotDirtyObjects() {
		st := obj.CacheState()
		st.RLock()
		err := c.flushLocked(ctx, obj, 0, WholeObject, 0, nil, true)
		st.RUnlock()
		if errors.Is(err, errTryAgain) {
			return err
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
