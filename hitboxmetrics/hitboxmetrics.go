// Package hitboxmetrics exports accumulated hitboxctx.Metrics as Prometheus
// metrics, grounded on pkg/models/metrics.go's SnapshotToPrometheusFormat
// naming convention (prefix_hits_total, prefix_latency_p99_ms, ...) but
// expressed as an idiomatic client_golang custom prometheus.Collector —
// a pull-model Collect call, not a pre-built map — since the dotted-path
// layer set grows as new composition tiers are exercised and can't be
// known up front the way a fixed snapshot struct can.
package hitboxmetrics

import (
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitboxcache/hitbox/hitboxctx"
)

// aggregatePrefix is the fixed dotted-path prefix Recorder merges every
// request's per-layer metrics under, so repeated Observe calls accumulate
// into the same path keys instead of nesting a fresh prefix per call.
const aggregatePrefix = "_agg"

// Recorder accumulates per-request hitboxctx.Context outcomes into a
// single long-lived Metrics tree plus status counters. One Recorder
// should be shared across every request a Machine serves.
type Recorder struct {
	hits, misses, stale atomic.Int64
	global              *hitboxctx.Metrics
}

// NewRecorder builds an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{global: hitboxctx.NewMetrics()}
}

// Observe folds one request's outcome into the recorder: its final status
// and its per-layer counters.
func (r *Recorder) Observe(hctx *hitboxctx.Context) {
	if hctx == nil {
		return
	}
	switch hctx.Status {
	case hitboxctx.Hit:
		r.hits.Add(1)
	case hitboxctx.Stale:
		r.stale.Add(1)
	default:
		r.misses.Add(1)
	}
	if hctx.Metrics != nil {
		r.global.MergeFrom(aggregatePrefix, hctx.Metrics)
	}
}

// Collector adapts a Recorder to prometheus.Collector, labelling per-layer
// metrics by their dotted composition path (e.g. "outer.inner.moka").
type Collector struct {
	rec *Recorder

	hitsDesc    *prometheus.Desc
	missesDesc  *prometheus.Desc
	staleDesc   *prometheus.Desc

	readsDesc        *prometheus.Desc
	writesDesc       *prometheus.Desc
	deletesDesc      *prometheus.Desc
	errorsDesc       *prometheus.Desc
	bytesReadDesc    *prometheus.Desc
	bytesWrittenDesc *prometheus.Desc

	latencyP50Desc *prometheus.Desc
	latencyP90Desc *prometheus.Desc
	latencyP95Desc *prometheus.Desc
	latencyP99Desc *prometheus.Desc
}

// NewCollector builds a Collector over rec, naming metrics "<prefix>_...".
func NewCollector(rec *Recorder, prefix string) *Collector {
	layerLabels := []string{"layer"}
	return &Collector{
		rec: rec,

		hitsDesc:   prometheus.NewDesc(prefix+"_hits_total", "Total requests served as a cache hit.", nil, nil),
		missesDesc: prometheus.NewDesc(prefix+"_misses_total", "Total requests served as a cache miss.", nil, nil),
		staleDesc:  prometheus.NewDesc(prefix+"_stale_total", "Total requests served a stale value.", nil, nil),

		readsDesc:        prometheus.NewDesc(prefix+"_layer_reads_total", "Backend reads per composition layer.", layerLabels, nil),
		writesDesc:       prometheus.NewDesc(prefix+"_layer_writes_total", "Backend writes per composition layer.", layerLabels, nil),
		deletesDesc:      prometheus.NewDesc(prefix+"_layer_deletes_total", "Backend deletes per composition layer.", layerLabels, nil),
		errorsDesc:       prometheus.NewDesc(prefix+"_layer_errors_total", "Backend errors per composition layer.", layerLabels, nil),
		bytesReadDesc:    prometheus.NewDesc(prefix+"_layer_bytes_read_total", "Bytes read per composition layer.", layerLabels, nil),
		bytesWrittenDesc: prometheus.NewDesc(prefix+"_layer_bytes_written_total", "Bytes written per composition layer.", layerLabels, nil),

		latencyP50Desc: prometheus.NewDesc(prefix+"_layer_latency_p50_seconds", "Median backend latency per composition layer.", layerLabels, nil),
		latencyP90Desc: prometheus.NewDesc(prefix+"_layer_latency_p90_seconds", "p90 backend latency per composition layer.", layerLabels, nil),
		latencyP95Desc: prometheus.NewDesc(prefix+"_layer_latency_p95_seconds", "p95 backend latency per composition layer.", layerLabels, nil),
		latencyP99Desc: prometheus.NewDesc(prefix+"_layer_latency_p99_seconds", "p99 backend latency per composition layer.", layerLabels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hitsDesc
	ch <- c.missesDesc
	ch <- c.staleDesc
	ch <- c.readsDesc
	ch <- c.writesDesc
	ch <- c.deletesDesc
	ch <- c.errorsDesc
	ch <- c.bytesReadDesc
	ch <- c.bytesWrittenDesc
	ch <- c.latencyP50Desc
	ch <- c.latencyP90Desc
	ch <- c.latencyP95Desc
	ch <- c.latencyP99Desc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.hitsDesc, prometheus.CounterValue, float64(c.rec.hits.Load()))
	ch <- prometheus.MustNewConstMetric(c.missesDesc, prometheus.CounterValue, float64(c.rec.misses.Load()))
	ch <- prometheus.MustNewConstMetric(c.staleDesc, prometheus.CounterValue, float64(c.rec.stale.Load()))

	for _, dotted := range c.rec.global.Paths() {
		layer := strings.TrimPrefix(dotted, aggregatePrefix+".")
		snap := c.rec.global.Snapshot(dotted)

		ch <- prometheus.MustNewConstMetric(c.readsDesc, prometheus.CounterValue, float64(snap.Reads), layer)
		ch <- prometheus.MustNewConstMetric(c.writesDesc, prometheus.CounterValue, float64(snap.Writes), layer)
		ch <- prometheus.MustNewConstMetric(c.deletesDesc, prometheus.CounterValue, float64(snap.Deletes), layer)
		ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(snap.Errors), layer)
		ch <- prometheus.MustNewConstMetric(c.bytesReadDesc, prometheus.CounterValue, float64(snap.BytesRead), layer)
		ch <- prometheus.MustNewConstMetric(c.bytesWrittenDesc, prometheus.CounterValue, float64(snap.BytesWritten), layer)

		ch <- prometheus.MustNewConstMetric(c.latencyP50Desc, prometheus.GaugeValue, snap.Latency.Percentile(50).Seconds(), layer)
		ch <- prometheus.MustNewConstMetric(c.latencyP90Desc, prometheus.GaugeValue, snap.Latency.Percentile(90).Seconds(), layer)
		ch <- prometheus.MustNewConstMetric(c.latencyP95Desc, prometheus.GaugeValue, snap.Latency.Percentile(95).Seconds(), layer)
		ch <- prometheus.MustNewConstMetric(c.latencyP99Desc, prometheus.GaugeValue, snap.Latency.Percentile(99).Seconds(), layer)
	}
}
