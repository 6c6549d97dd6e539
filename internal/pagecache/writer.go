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
	"fmt"
	"os"

	"golang.org/x/time/rate"
)

// IoContext describes one coalesced write handed to the non-cached I/O
// collaborator: a run of contiguous pages starting at Offset, of which
// the first Size bytes are to be written.
type IoContext struct {
	Buffer IoBuffer
	Offset int64
	Size   int64
	Flags  FlushFlags
}

// NonCachedWriter is the collaborator that moves coalesced buffers to
// backing store, bypassing the cache.
type NonCachedWriter interface {
	// PerformNonCachedWrite writes ctx.Size bytes from ctx.Buffer to
	// the object at ctx.Offset. It returns the number of bytes that
	// made it to the backing store; short counts and errors cause the
	// unwritten pages to be re-dirtied by the flush engine.
	PerformNonCachedWrite(obj FileObject, ctx *IoContext) (int64, error)

	// SyncDevice issues a device-level synchronize for block-device
	// objects after unsynchronized flushes.
	SyncDevice(obj FileObject) error
}

// FileBackedWriter is the production NonCachedWriter: each object's
// backing store is a file, opened lazily by the provided open
// function. Writeback bandwidth is throttled so the background worker
// cannot monopolize the device.
type FileBackedWriter struct {
	mem     MemoryManager
	open    func(obj FileObject) (*os.File, error)
	limiter *rate.Limiter
}

// NewFileBackedWriter returns a writer that resolves objects to files
// through open and throttles writeback to bytesPerSec (0 means
// unthrottled).
func NewFileBackedWriter(mem MemoryManager, open func(obj FileObject) (*os.File, error), bytesPerSec int64) *FileBackedWriter {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if bytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))
	}
	return &FileBackedWriter{mem: mem, open: open, limiter: limiter}
}

func (w *FileBackedWriter) PerformNonCachedWrite(obj FileObject, ioCtx *IoContext) (int64, error) {
	f, err := w.open(obj)
	if err != nil {
		return 0, fmt.Errorf("open backing store: %w", err)
	}
	var written int64
	for written < ioCtx.Size {
		n := ioCtx.Size - written
		if n > PageSize {
			n = PageSize
		}
		if err := w.limiter.WaitN(context.Background(), int(n)); err != nil {
			return written, err
		}
		pa, _ := ioCtx.Buffer.FrameAt(written)
		data := w.mem.PageBytes(pa)
		if data == nil {
			return written, fmt.Errorf("%w: stale page frame %#x", ErrDataLengthMismatch, pa)
		}
		wrote, err := f.WriteAt(data[:n], ioCtx.Offset+written)
		written += int64(wrote)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (w *FileBackedWriter) SyncDevice(obj FileObject) error {
	f, err := w.open(obj)
	if err != nil {
		return err
	}
	return f.Sync()
}
