package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/walletload/internal/metrics"
	"github.com/torosent/walletload/internal/wallet"
)

// Threshold represents a run assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "connection.duration", "test.failed"
	Aggregate string  // e.g., "p95", "p99", "avg", "max", "rate", "count"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // threshold as written, for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold `json:"-" yaml:"-"`
	Expr      string    `json:"threshold" yaml:"threshold"`
	Actual    float64   `json:"actual" yaml:"actual"`
	Pass      bool      `json:"pass" yaml:"pass"`
	Message   string    `json:"message" yaml:"message"`
}

// Evaluator evaluates thresholds against an aggregated snapshot.
type Evaluator struct {
	thresholds []Threshold
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds. elapsed is the run's wall time and is
// only consulted by the per_sec aggregate.
func (e *Evaluator) Evaluate(snap metrics.Snapshot, elapsed time.Duration) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t, snap, elapsed))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateOne(t Threshold, snap metrics.Snapshot, elapsed time.Duration) Result {
	actual, err := extractMetricValue(t, snap, elapsed)
	if err != nil {
		return Result{
			Threshold: t,
			Expr:      t.Raw,
			Pass:      false,
			Message:   fmt.Sprintf("✗ %s: %v", t.Raw, err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Expr:      t.Raw,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

var thresholdPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_.]*):([a-z0-9_]+)\s*(<=|>=|==|<|>)\s*([0-9.]+)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
//   - "connection.duration:p95 < 500"   (stage latency percentile in ms)
//   - "test.duration:avg < 2000"        (mean wallet duration in ms)
//   - "test.failed:rate < 0.05"         (share of started wallets)
//   - "pickup.failed:count == 0"        (raw counter)
//   - "test.success:per_sec > 10"       (counter per second of run time)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'connection.duration:p95 < 500')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	if !isValidAggregate(aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate: %q (supported: %s)", aggregate, strings.Join(validAggregates, ", "))
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

var (
	histogramAggregates = []string{"p50", "p95", "p99", "avg", "mean", "min", "max"}
	counterAggregates   = []string{"rate", "per_sec"}
	validAggregates     = append(append([]string{"count"}, histogramAggregates...), counterAggregates...)
)

func isValidAggregate(aggregate string) bool {
	for _, v := range validAggregates {
		if aggregate == v {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, snap metrics.Snapshot, elapsed time.Duration) (float64, error) {
	switch t.Aggregate {
	case "count":
		// Histograms count samples; counters count events.
		if h, ok := snap.Histogram(t.Metric); ok {
			return float64(h.Count), nil
		}
		return float64(snap.Counter(t.Metric)), nil
	case "rate":
		started := snap.Counter(wallet.MetricTestSuccess) + snap.Counter(wallet.MetricTestFailed) + snap.Counter(wallet.MetricTestAborted)
		if started == 0 {
			return 0, nil
		}
		return float64(snap.Counter(t.Metric)) / float64(started), nil
	case "per_sec":
		if elapsed <= 0 {
			return 0, fmt.Errorf("run duration unknown")
		}
		return float64(snap.Counter(t.Metric)) / elapsed.Seconds(), nil
	}

	h, ok := snap.Histogram(t.Metric)
	if !ok || h.Count == 0 {
		return 0, fmt.Errorf("no samples recorded for %s", t.Metric)
	}
	switch t.Aggregate {
	case "p50":
		return h.P50, nil
	case "p95":
		return h.P95, nil
	case "p99":
		return h.P99, nil
	case "avg", "mean":
		return h.Mean, nil
	case "min":
		return h.Min, nil
	case "max":
		return h.Max, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, t.Metric)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
