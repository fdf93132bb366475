package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/walletload/internal/metrics"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFormatProgress(t *testing.T) {
	agg := metrics.NewAggregator()
	for i := 0; i < 8; i++ {
		agg.Emit(metrics.Count("test.success"))
		agg.Emit(metrics.Duration("connection.duration", 40*time.Millisecond))
	}
	agg.Emit(metrics.Count("test.failed"))
	agg.Emit(metrics.Count("test.failed"))
	agg.Emit(metrics.Count("pickup.failed"))

	line := FormatProgress(agg.Snapshot(), 2*time.Second)
	for _, want := range []string{"Completed: 8", "Failed: 2", "Wallets/s: 5.0", "Connect P95: 40.0ms", "Pickup failures: 1"} {
		if !strings.Contains(line, want) {
			t.Errorf("FormatProgress() = %q, missing %q", line, want)
		}
	}
}

func TestFormatProgressEmpty(t *testing.T) {
	line := FormatProgress(metrics.Snapshot{}, 0)
	if strings.Contains(line, "Connect P95") || strings.Contains(line, "Pickup failures") {
		t.Fatalf("FormatProgress() = %q, want only counters", line)
	}
}

func TestProgressReporterWritesLines(t *testing.T) {
	agg := metrics.NewAggregator()
	agg.Emit(metrics.Count("test.success"))

	var buf lockedBuffer
	reporter := NewProgressReporter(agg, 20*time.Millisecond, &buf)
	reporter.Start()
	reporter.Start() // second Start is a no-op

	time.Sleep(80 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	out := buf.String()
	if !strings.Contains(out, "Completed: 1") {
		t.Fatalf("progress output = %q, want a status line", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("progress output should end with a newline after Stop, got %q", out)
	}
}

func TestProgressReporterDisabled(t *testing.T) {
	var buf lockedBuffer
	reporter := NewProgressReporter(metrics.NewAggregator(), 0, &buf)
	reporter.Start()
	reporter.Stop()
	if buf.String() != "" {
		t.Fatalf("disabled reporter wrote %q", buf.String())
	}
}
