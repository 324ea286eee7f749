// Package metrics tracks request counters (lock-free atomics) and latency
// histograms and per-kind error counts (mutex-guarded), feeding the /health
// snapshot. Buckets are built on
// prometheus/client_golang so the same counters could be exported via
// /metrics later without a second instrumentation pass, even though today
// they are only surfaced through the JSON /health snapshot.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/localforge/localforge/pkg/model"
)

// Tracker holds process-wide counters and histograms, safe for concurrent
// use from every request-handling goroutine.
type Tracker struct {
	requestsTotal        uint64
	requestsInFlight     int64
	tokensGeneratedTotal uint64

	mu           sync.Mutex
	errorsByKind map[string]uint64

	firstTokenHist prometheus.Histogram
	genHist        prometheus.Histogram

	firstTokenBuckets bucketSet
	genBuckets        bucketSet
}

// powerOfTwoBoundsMs are the histogram bucket upper bounds in
// milliseconds, power-of-two up to 60s.
var powerOfTwoBoundsMs = buildPowerOfTwoBounds(60_000)

func buildPowerOfTwoBounds(maxMs int) []float64 {
	var bounds []float64
	for v := 1; v < maxMs; v <<= 1 {
		bounds = append(bounds, float64(v))
	}
	bounds = append(bounds, float64(maxMs))
	return bounds
}

type bucketSet struct {
	mu      sync.Mutex
	buckets map[string]uint64
}

func newBucketSet() bucketSet {
	return bucketSet{buckets: make(map[string]uint64)}
}

func (b *bucketSet) observe(ms float64) {
	label := bucketLabel(ms)
	b.mu.Lock()
	b.buckets[label]++
	b.mu.Unlock()
}

func (b *bucketSet) snapshot() map[string]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]uint64, len(b.buckets))
	for k, v := range b.buckets {
		out[k] = v
	}
	return out
}

// bucketLabel maps a millisecond value to the smallest power-of-two bucket
// (capped at 60000ms) it falls into.
func bucketLabel(ms float64) string {
	for _, bound := range powerOfTwoBoundsMs {
		if ms <= bound {
			return fmt.Sprintf("<=%.0fms", bound)
		}
	}
	return ">60000ms"
}

func New() *Tracker {
	t := &Tracker{
		errorsByKind:      make(map[string]uint64),
		firstTokenHist:    prometheus.NewHistogram(prometheus.HistogramOpts{Name: "first_token_latency_ms", Buckets: powerOfTwoBoundsMs}),
		genHist:           prometheus.NewHistogram(prometheus.HistogramOpts{Name: "generation_latency_ms", Buckets: powerOfTwoBoundsMs}),
		firstTokenBuckets: newBucketSet(),
		genBuckets:        newBucketSet(),
	}
	return t
}

func (t *Tracker) RequestStarted() {
	atomic.AddUint64(&t.requestsTotal, 1)
	atomic.AddInt64(&t.requestsInFlight, 1)
}

func (t *Tracker) RequestFinished() {
	atomic.AddInt64(&t.requestsInFlight, -1)
}

func (t *Tracker) TokensGenerated(n int) {
	atomic.AddUint64(&t.tokensGeneratedTotal, uint64(n))
}

func (t *Tracker) ObserveFirstTokenLatency(ms float64) {
	t.firstTokenHist.Observe(ms)
	t.firstTokenBuckets.observe(ms)
}

func (t *Tracker) ObserveGenerationLatency(ms float64) {
	t.genHist.Observe(ms)
	t.genBuckets.observe(ms)
}

func (t *Tracker) RecordError(kind string) {
	t.mu.Lock()
	t.errorsByKind[kind]++
	t.mu.Unlock()
}

func (t *Tracker) Snapshot() model.MetricsSnapshot {
	t.mu.Lock()
	errs := make(map[string]uint64, len(t.errorsByKind))
	for k, v := range t.errorsByKind {
		errs[k] = v
	}
	t.mu.Unlock()

	return model.MetricsSnapshot{
		RequestsTotal:                atomic.LoadUint64(&t.requestsTotal),
		RequestsInFlight:             atomic.LoadInt64(&t.requestsInFlight),
		TokensGeneratedTotal:         atomic.LoadUint64(&t.tokensGeneratedTotal),
		FirstTokenLatencyMsHistogram: t.firstTokenBuckets.snapshot(),
		GenerationLatencyMsHistogram: t.genBuckets.snapshot(),
		ErrorsByKind:                 errs,
	}
}
