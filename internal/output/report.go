package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/torosent/walletload/internal/metrics"
	"github.com/torosent/walletload/internal/runner"
	"github.com/torosent/walletload/internal/threshold"
	"github.com/torosent/walletload/internal/wallet"
)

// StageReport is the per-stage slice of a run summary.
type StageReport struct {
	Stage   string                    `json:"stage" yaml:"stage"`
	Success int64                     `json:"success" yaml:"success"`
	Failed  int64                     `json:"failed" yaml:"failed"`
	Retries int64                     `json:"retries" yaml:"retries"`
	Latency *metrics.HistogramSummary `json:"latency,omitempty" yaml:"latency,omitempty"`
}

// Report is the serialisable summary of one run.
type Report struct {
	RunID            string                              `json:"run_id" yaml:"run_id"`
	StartedAt        time.Time                           `json:"started_at" yaml:"started_at"`
	EndedAt          time.Time                           `json:"ended_at" yaml:"ended_at"`
	DurationSeconds  float64                             `json:"duration_seconds" yaml:"duration_seconds"`
	Scheduled        int64                               `json:"scheduled" yaml:"scheduled"`
	Dispatched       int64                               `json:"dispatched" yaml:"dispatched"`
	Completed        int64                               `json:"completed" yaml:"completed"`
	Failed           int64                               `json:"failed" yaml:"failed"`
	Unfinished       int64                               `json:"unfinished" yaml:"unfinished"`
	PeakInFlight     int64                               `json:"peak_in_flight" yaml:"peak_in_flight"`
	SuccessRate      float64                             `json:"success_rate" yaml:"success_rate"`
	TimedOut         bool                                `json:"timed_out" yaml:"timed_out"`
	Stopped          bool                                `json:"stopped" yaml:"stopped"`
	WalletDuration   *metrics.HistogramSummary           `json:"wallet_duration,omitempty" yaml:"wallet_duration,omitempty"`
	Stages           []StageReport                       `json:"stages" yaml:"stages"`
	Errors           map[string]int64                    `json:"errors,omitempty" yaml:"errors,omitempty"`
	Counters         map[string]int64                    `json:"counters" yaml:"counters"`
	Histograms       map[string]metrics.HistogramSummary `json:"histograms" yaml:"histograms"`
	Thresholds       []threshold.Result                  `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	ThresholdsPassed bool                                `json:"thresholds_passed" yaml:"thresholds_passed"`
}

// NewReport flattens a run result and its threshold outcomes.
func NewReport(res runner.Result, thresholds []threshold.Result) Report {
	snap := res.Snapshot
	rep := Report{
		RunID:            res.RunID,
		StartedAt:        res.StartedAt,
		EndedAt:          res.EndedAt,
		DurationSeconds:  res.Duration().Seconds(),
		Scheduled:        res.TotalScheduled,
		Dispatched:       res.TotalDispatched,
		Completed:        res.TotalCompleted,
		Failed:           res.TotalFailed,
		Unfinished:       res.TotalUnfinished,
		PeakInFlight:     res.PeakInFlight,
		TimedOut:         res.TimedOut,
		Stopped:          res.Stopped,
		Counters:         snap.Counters,
		Histograms:       snap.Histograms,
		Thresholds:       thresholds,
		ThresholdsPassed: threshold.AllPassed(thresholds),
	}
	if finished := res.TotalCompleted + res.TotalFailed; finished > 0 {
		rep.SuccessRate = float64(res.TotalCompleted) / float64(finished)
	}
	if h, ok := snap.Histogram(wallet.MetricTestDuration); ok {
		rep.WalletDuration = &h
	}
	for _, stage := range wallet.Stages {
		sr := StageReport{
			Stage:   string(stage),
			Success: snap.Counter(stage.Metric("success")),
			Failed:  snap.Counter(stage.Metric("failed")),
			Retries: snap.Counter(stage.Metric("retry")),
		}
		if h, ok := snap.Histogram(stage.Metric("duration")); ok {
			sr.Latency = &h
		}
		rep.Stages = append(rep.Stages, sr)
	}
	for _, name := range snap.CounterNames() {
		if kind, ok := strings.CutPrefix(name, "error."); ok {
			if rep.Errors == nil {
				rep.Errors = map[string]int64{}
			}
			rep.Errors[kind] = snap.Counter(name)
		}
	}
	return rep
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, rep Report) {
	fmt.Fprintln(w, "\n--- Wallet Load Test Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", rep.RunID)
	fmt.Fprintf(w, "Duration:          %s\n", time.Duration(rep.DurationSeconds*float64(time.Second)).Round(time.Millisecond))
	fmt.Fprintf(w, "Scheduled:         %d\n", rep.Scheduled)
	fmt.Fprintf(w, "Dispatched:        %d\n", rep.Dispatched)
	fmt.Fprintf(w, "Completed:         %d\n", rep.Completed)
	fmt.Fprintf(w, "Failed:            %d\n", rep.Failed)
	if rep.Unfinished > 0 {
		fmt.Fprintf(w, "Unfinished:        %d\n", rep.Unfinished)
	}
	fmt.Fprintf(w, "Success Rate:      %.2f%%\n", rep.SuccessRate*100)
	fmt.Fprintf(w, "Peak In Flight:    %d\n", rep.PeakInFlight)
	switch {
	case rep.TimedOut:
		fmt.Fprintln(w, "Status:            stopped at max duration")
	case rep.Stopped:
		fmt.Fprintln(w, "Status:            stopped early")
	}

	fmt.Fprintln(w, "\nStages:")
	for _, s := range rep.Stages {
		fmt.Fprintf(w, "  %-11s success=%d failed=%d retries=%d", s.Stage, s.Success, s.Failed, s.Retries)
		if s.Latency != nil {
			fmt.Fprintf(w, " p50=%.1fms p95=%.1fms p99=%.1fms max=%.1fms", s.Latency.P50, s.Latency.P95, s.Latency.P99, s.Latency.Max)
		}
		fmt.Fprintln(w)
	}

	if rep.WalletDuration != nil {
		d := rep.WalletDuration
		fmt.Fprintln(w, "\nWallet Duration:")
		fmt.Fprintf(w, "  Min:             %.1fms\n", d.Min)
		fmt.Fprintf(w, "  Mean:            %.1fms\n", d.Mean)
		fmt.Fprintf(w, "  P50:             %.1fms\n", d.P50)
		fmt.Fprintf(w, "  P95:             %.1fms\n", d.P95)
		fmt.Fprintf(w, "  P99:             %.1fms\n", d.P99)
		fmt.Fprintf(w, "  Max:             %.1fms\n", d.Max)
	}

	if len(rep.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, kind := range sortedKeys(rep.Errors) {
			fmt.Fprintf(w, "  %s: %d\n", kind, rep.Errors[kind])
		}
	}

	if len(rep.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, r := range rep.Thresholds {
			fmt.Fprintf(w, "  %s\n", r.Message)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
