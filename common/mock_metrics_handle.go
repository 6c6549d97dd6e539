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

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockMetricHandle lets tests assert on exactly which cache operations
// reported metrics.
type MockMetricHandle struct {
	mock.Mock
}

func (m *MockMetricHandle) OpCount(ctx context.Context, op string, inc int64) {
	m.Called(ctx, op, inc)
}

func (m *MockMetricHandle) OpLatency(ctx context.Context, op string, latency time.Duration) {
	m.Called(ctx, op, latency)
}

func (m *MockMetricHandle) PagesFlushed(ctx context.Context, pages int64, bytes int64) {
	m.Called(ctx, pages, bytes)
}

func (m *MockMetricHandle) PagesEvicted(ctx context.Context, list string, pages int64) {
	m.Called(ctx, list, pages)
}

func (m *MockMetricHandle) PagesUnmapped(ctx context.Context, pages int64) {
	m.Called(ctx, pages)
}

func (m *MockMetricHandle) WorkerCycleLatency(ctx context.Context, latency time.Duration, retried bool) {
	m.Called(ctx, latency, retried)
}

func (m *MockMetricHandle) SetGauges(ctx context.Context, entries, physical, dirty, mapped, mappedDirty int64) {
	m.Called(ctx, entries, physical, dirty, mapped, mappedDirty)
}
