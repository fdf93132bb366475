package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	shardCount = 16

	// Samples are stored in microseconds from 1us up to one hour.
	lowestTrackable  = 1
	highestTrackable = 3_600_000_000
	significantFigs  = 3
)

// HistogramSummary describes one latency distribution in milliseconds.
type HistogramSummary struct {
	Count int64   `json:"count" yaml:"count"`
	Min   float64 `json:"min_ms" yaml:"min_ms"`
	Max   float64 `json:"max_ms" yaml:"max_ms"`
	Mean  float64 `json:"mean_ms" yaml:"mean_ms"`
	P50   float64 `json:"p50_ms" yaml:"p50_ms"`
	P95   float64 `json:"p95_ms" yaml:"p95_ms"`
	P99   float64 `json:"p99_ms" yaml:"p99_ms"`
}

// Snapshot is a read-only view of everything aggregated so far.
type Snapshot struct {
	Counters   map[string]int64            `json:"counters" yaml:"counters"`
	Histograms map[string]HistogramSummary `json:"histograms" yaml:"histograms"`
}

// Counter returns the named counter, or zero when it was never incremented.
func (s Snapshot) Counter(name string) int64 {
	return s.Counters[name]
}

// Histogram returns the named distribution.
func (s Snapshot) Histogram(name string) (HistogramSummary, bool) {
	h, ok := s.Histograms[name]
	return h, ok
}

// CounterNames returns counter names in sorted order.
func (s Snapshot) CounterNames() []string {
	names := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HistogramNames returns histogram names in sorted order.
func (s Snapshot) HistogramNames() []string {
	names := make([]string, 0, len(s.Histograms))
	for name := range s.Histograms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aggregator accumulates counters and latency histograms from many
// concurrent writers. Writes are spread round-robin over mutex-guarded
// shards and merged when a snapshot is taken.
type Aggregator struct {
	shards [shardCount]*shard
	next   atomic.Uint64
}

type shard struct {
	mu       sync.Mutex
	counters map[string]int64
	series   map[string]*series
}

type series struct {
	hist  *hdrhistogram.Histogram
	count int64
	sum   float64
	min   float64
	max   float64
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	for i := range a.shards {
		a.shards[i] = &shard{
			counters: make(map[string]int64),
			series:   make(map[string]*series),
		}
	}
	return a
}

// Emit records e. It is safe to call from any goroutine.
func (a *Aggregator) Emit(e Event) {
	s := a.shards[a.next.Add(1)%shardCount]
	s.mu.Lock()
	s.record(e)
	s.mu.Unlock()
}

// Counter sums one counter across shards.
func (a *Aggregator) Counter(name string) int64 {
	var total int64
	for _, s := range a.shards {
		s.mu.Lock()
		total += s.counters[name]
		s.mu.Unlock()
	}
	return total
}

// Snapshot merges every shard. Events whose Emit returned before Snapshot
// was called are always included.
func (a *Aggregator) Snapshot() Snapshot {
	counters := make(map[string]int64)
	merged := make(map[string]*series)
	for _, s := range a.shards {
		s.mu.Lock()
		for name, v := range s.counters {
			counters[name] += v
		}
		for name, src := range s.series {
			dst, ok := merged[name]
			if !ok {
				dst = newSeries()
				merged[name] = dst
			}
			dst.merge(src)
		}
		s.mu.Unlock()
	}

	snap := Snapshot{
		Counters:   counters,
		Histograms: make(map[string]HistogramSummary, len(merged)),
	}
	for name, ser := range merged {
		snap.Histograms[name] = ser.summary()
	}
	return snap
}

func (s *shard) record(e Event) {
	switch e.Kind {
	case Counter:
		s.counters[e.Name] += int64(math.Round(e.Value))
	case Histogram:
		ser, ok := s.series[e.Name]
		if !ok {
			ser = newSeries()
			s.series[e.Name] = ser
		}
		ser.observe(e.Value)
	}
}

func newSeries() *series {
	return &series{
		hist: hdrhistogram.New(lowestTrackable, highestTrackable, significantFigs),
		min:  math.Inf(1),
		max:  math.Inf(-1),
	}
}

func (s *series) observe(ms float64) {
	if math.IsNaN(ms) || ms < 0 {
		ms = 0
	}
	us := int64(math.Round(ms * 1000))
	if us < s.hist.LowestTrackableValue() {
		us = s.hist.LowestTrackableValue()
	}
	if us > s.hist.HighestTrackableValue() {
		us = s.hist.HighestTrackableValue()
	}
	_ = s.hist.RecordValue(us)
	s.count++
	s.sum += ms
	s.min = math.Min(s.min, ms)
	s.max = math.Max(s.max, ms)
}

func (s *series) merge(other *series) {
	if other.count == 0 {
		return
	}
	s.hist.Merge(other.hist)
	s.count += other.count
	s.sum += other.sum
	s.min = math.Min(s.min, other.min)
	s.max = math.Max(s.max, other.max)
}

func (s *series) summary() HistogramSummary {
	if s.count == 0 {
		return HistogramSummary{}
	}
	return HistogramSummary{
		Count: s.count,
		Min:   s.min,
		Max:   s.max,
		Mean:  s.sum / float64(s.count),
		P50:   s.quantile(50),
		P95:   s.quantile(95),
		P99:   s.quantile(99),
	}
}

// quantile reads q from the histogram and clamps it to the exact extremes,
// since histogram buckets can overshoot the recorded values slightly.
func (s *series) quantile(q float64) float64 {
	v := float64(s.hist.ValueAtQuantile(q)) / 1000
	if v < s.min {
		return s.min
	}
	if v > s.max {
		return s.max
	}
	return v
}
