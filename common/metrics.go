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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// OpKey annotates the cache operation a metric event belongs to, using
	// the Op* constants in constants.go.
	OpKey = "cache_op"

	// ListKey annotates which of the global lists a metric concerns.
	ListKey = "list"
)

// The default time buckets for latency metrics, in microseconds.
var defaultLatencyDistribution = metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000, 20000, 50000, 100000)

var cacheMeter = otel.Meter("pagecache")

var opAttributeSet sync.Map

func getOpAttributeSet(op string) metric.MeasurementOption {
	if v, ok := opAttributeSet.Load(op); ok {
		return v.(metric.MeasurementOption)
	}
	opt := metric.WithAttributeSet(attribute.NewSet(attribute.String(OpKey, op)))
	v, _ := opAttributeSet.LoadOrStore(op, opt)
	return v.(metric.MeasurementOption)
}

// MetricAttr represents the attributes associated with a metric.
type MetricAttr struct {
	Key, Value string
}

func attrsToOption(attrs []MetricAttr) metric.MeasurementOption {
	opts := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		opts = append(opts, attribute.String(a.Key, a.Value))
	}
	return metric.WithAttributeSet(attribute.NewSet(opts...))
}

// MetricHandle is the cache's statistics boundary: every public cache
// operation reports through it, and the background worker publishes
// the gauges behind the statistics snapshot.
type MetricHandle interface {
	// OpCount records one call to a public cache operation.
	OpCount(ctx context.Context, op string, inc int64)

	// OpLatency records how long a public cache operation took.
	OpLatency(ctx context.Context, op string, latency time.Duration)

	// PagesFlushed records pages submitted to the non-cached-write
	// collaborator, along with the bytes written.
	PagesFlushed(ctx context.Context, pages int64, bytes int64)

	// PagesEvicted records destroyed pages, broken down by which
	// global list they were pulled from.
	PagesEvicted(ctx context.Context, list string, pages int64)

	// PagesUnmapped records pages whose virtual-address mapping was
	// dropped during virtual trim.
	PagesUnmapped(ctx context.Context, pages int64)

	// WorkerCycleLatency records the wall time of one background-worker
	// cycle, tagged by whether it ended in retry-later.
	WorkerCycleLatency(ctx context.Context, latency time.Duration, retried bool)

	// SetGauges publishes the four process-wide page counters plus the
	// entry count, read once per worker cycle.
	SetGauges(ctx context.Context, entries, physical, dirty, mapped, mappedDirty int64)
}

type otelMetricHandle struct {
	opCount   metric.Int64Counter
	opLatency metric.Int64Histogram

	pagesFlushed  metric.Int64Counter
	bytesFlushed  metric.Int64Counter
	pagesEvicted  metric.Int64Counter
	pagesUnmapped metric.Int64Counter

	workerCycleLatency metric.Int64Histogram

	entryCount       metric.Int64Gauge
	physicalGauge    metric.Int64Gauge
	dirtyGauge       metric.Int64Gauge
	mappedGauge      metric.Int64Gauge
	mappedDirtyGauge metric.Int64Gauge
}

// NewOTelMetrics builds a MetricHandle backed by the process's global
// otel MeterProvider set up in cmd.
func NewOTelMetrics() (MetricHandle, error) {
	var err error
	h := &otelMetricHandle{}

	if h.opCount, err = cacheMeter.Int64Counter("pagecache/op_count"); err != nil {
		return nil, err
	}
	if h.opLatency, err = cacheMeter.Int64Histogram("pagecache/op_latency_usec", metric.WithUnit("us"), defaultLatencyDistribution); err != nil {
		return nil, err
	}
	if h.pagesFlushed, err = cacheMeter.Int64Counter("pagecache/pages_flushed"); err != nil {
		return nil, err
	}
	if h.bytesFlushed, err = cacheMeter.Int64Counter("pagecache/bytes_flushed"); err != nil {
		return nil, err
	}
	if h.pagesEvicted, err = cacheMeter.Int64Counter("pagecache/pages_evicted"); err != nil {
		return nil, err
	}
	if h.pagesUnmapped, err = cacheMeter.Int64Counter("pagecache/pages_unmapped"); err != nil {
		return nil, err
	}
	if h.workerCycleLatency, err = cacheMeter.Int64Histogram("pagecache/worker_cycle_latency_usec", metric.WithUnit("us"), defaultLatencyDistribution); err != nil {
		return nil, err
	}
	if h.entryCount, err = cacheMeter.Int64Gauge("pagecache/entry_count"); err != nil {
		return nil, err
	}
	if h.physicalGauge, err = cacheMeter.Int64Gauge("pagecache/physical_pages"); err != nil {
		return nil, err
	}
	if h.dirtyGauge, err = cacheMeter.Int64Gauge("pagecache/dirty_pages"); err != nil {
		return nil, err
	}
	if h.mappedGauge, err = cacheMeter.Int64Gauge("pagecache/mapped_pages"); err != nil {
		return nil, err
	}
	if h.mappedDirtyGauge, err = cacheMeter.Int64Gauge("pagecache/mapped_dirty_pages"); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *otelMetricHandle) OpCount(ctx context.Context, op string, inc int64) {
	h.opCount.Add(ctx, inc, getOpAttributeSet(op))
}

func (h *otelMetricHandle) OpLatency(ctx context.Context, op string, latency time.Duration) {
	h.opLatency.Record(ctx, latency.Microseconds(), getOpAttributeSet(op))
}

func (h *otelMetricHandle) PagesFlushed(ctx context.Context, pages int64, bytes int64) {
	h.pagesFlushed.Add(ctx, pages)
	h.bytesFlushed.Add(ctx, bytes)
}

func (h *otelMetricHandle) PagesEvicted(ctx context.Context, list string, pages int64) {
	h.pagesEvicted.Add(ctx, pages, metric.WithAttributeSet(attribute.NewSet(attribute.String(ListKey, list))))
}

func (h *otelMetricHandle) PagesUnmapped(ctx context.Context, pages int64) {
	h.pagesUnmapped.Add(ctx, pages)
}

func (h *otelMetricHandle) WorkerCycleLatency(ctx context.Context, latency time.Duration, retried bool) {
	state := "clean"
	if retried {
		state = "retry"
	}
	h.workerCycleLatency.Record(ctx, latency.Microseconds(), metric.WithAttributeSet(attribute.NewSet(attribute.String("outcome", state))))
}

func (h *otelMetricHandle) SetGauges(ctx context.Context, entries, physical, dirty, mapped, mappedDirty int64) {
	h.entryCount.Record(ctx, entries)
	h.physicalGauge.Record(ctx, physical)
	h.dirtyGauge.Record(ctx, dirty)
	h.mappedGauge.Record(ctx, mapped)
	h.mappedDirtyGauge.Record(ctx, mappedDirty)
}

// NewNoopMetrics returns a MetricHandle that discards everything, for use
// when metrics are disabled or in tests that don't assert on them.
func NewNoopMetrics() MetricHandle {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) OpCount(context.Context, string, int64)                  {}
func (noopMetrics) OpLatency(context.Context, string, time.Duration)        {}
func (noopMetrics) PagesFlushed(context.Context, int64, int64)              {}
func (noopMetrics) PagesEvicted(context.Context, string, int64)             {}
func (noopMetrics) PagesUnmapped(context.Context, int64)                    {}
func (noopMetrics) WorkerCycleLatency(context.Context, time.Duration, bool) {}
func (noopMetrics) SetGauges(context.Context, int64, int64, int64, int64, int64) {}
