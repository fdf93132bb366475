package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/walletload/internal/metrics"
	"github.com/torosent/walletload/internal/wallet"
)

// SnapshotSource is anything that can report aggregated metrics mid-run.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

// ProgressReporter redraws a one-line run status on an interactive terminal.
type ProgressReporter struct {
	source   SnapshotSource
	interval time.Duration
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source SnapshotSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if p.interval <= 0 || !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	go p.run()
}

// Stop halts progress updates and terminates the status line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(p.writer, "\r"+FormatProgress(p.source.Snapshot(), time.Since(p.start)))
		case <-p.done:
			fmt.Fprintln(p.writer)
			return
		}
	}
}

// FormatProgress renders the status line for a snapshot taken after elapsed.
func FormatProgress(snap metrics.Snapshot, elapsed time.Duration) string {
	completed := snap.Counter(wallet.MetricTestSuccess)
	failed := snap.Counter(wallet.MetricTestFailed)
	line := fmt.Sprintf("Elapsed: %s | Completed: %d | Failed: %d",
		elapsed.Round(time.Second), completed, failed)
	if secs := elapsed.Seconds(); secs > 0 {
		line += fmt.Sprintf(" | Wallets/s: %.1f", float64(completed+failed)/secs)
	}
	if h, ok := snap.Histogram(wallet.StageConnection.Metric("duration")); ok {
		line += fmt.Sprintf(" | Connect P95: %.1fms", h.P95)
	}
	if n := snap.Counter(wallet.StagePickup.Metric("failed")); n > 0 {
		line += fmt.Sprintf(" | Pickup failures: %d", n)
	}
	return line
}
