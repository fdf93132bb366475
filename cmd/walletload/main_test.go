package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func quickArgs(extra ...string) []string {
	args := []string{
		"--invitation", "https://mediator.example.com/invite",
		"--phase", "300ms:20",
		"--sim-connect-latency", "1ms",
		"--sim-mediation-latency", "1ms",
		"--sim-pickup-latency", "1ms",
		"--progress-interval", "0",
		"--log-level", "error",
	}
	return append(args, extra...)
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--help"}, &stdout, &stderr); err != nil {
		t.Fatalf("run(--help) error = %v", err)
	}
	if stdout.Len() != 0 {
		t.Fatalf("help must not start a run, got report:\n%s", stdout.String())
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--invitation", "https://m.example.com", "--phase", "0s:1"}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "duration must be > 0") {
		t.Fatalf("run() error = %v, want phase validation error", err)
	}
}

func TestRunRejectsBadThreshold(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), quickArgs("--threshold", "test.failed rate"), &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "threshold") {
		t.Fatalf("run() error = %v, want threshold parse error", err)
	}
	if stdout.Len() != 0 {
		t.Fatalf("nothing should run before thresholds parse, got:\n%s", stdout.String())
	}
}

func TestRunSimulatedReport(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), quickArgs("--threshold", "test.failed:count == 0"), &stdout, &stderr); err != nil {
		t.Fatalf("run() error = %v\nstderr:\n%s", err, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"Scheduled:         6", "Completed:         6", "✓ test.failed:count == 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestRunJSONOutputAndResultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.yaml")
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), quickArgs("--json-output", "--output-file", path), &stdout, &stderr); err != nil {
		t.Fatalf("run() error = %v\nstderr:\n%s", err, stderr.String())
	}

	var rep map[string]interface{}
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout.String())
	}
	if rep["completed"].(float64) != 6 {
		t.Errorf("completed = %v, want 6", rep["completed"])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "completed: 6") {
		t.Errorf("result file missing completed count:\n%s", data)
	}
}

func TestRunFailedThresholdReturnsError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), quickArgs("--threshold", "test.success:count > 100"), &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "1 of 1 thresholds failed") {
		t.Fatalf("run() error = %v, want failed threshold", err)
	}
	if !strings.Contains(stdout.String(), "✗ test.success:count > 100") {
		t.Fatalf("report should still be printed:\n%s", stdout.String())
	}
}

func TestRunIncompleteReturnsError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	args := []string{
		"--invitation", "https://mediator.example.com/invite",
		"--phase", "2s:10",
		"--max-duration", "200ms",
		"--grace-period", "1s",
		"--sim-connect-latency", "1ms",
		"--sim-mediation-latency", "1ms",
		"--sim-pickup-latency", "1ms",
		"--progress-interval", "0",
		"--log-level", "error",
	}
	err := run(context.Background(), args, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "run incomplete") {
		t.Fatalf("run() error = %v, want incomplete run", err)
	}
}

func TestRunServesMetrics(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), quickArgs("--metrics-listen", "127.0.0.1:0"), &stdout, &stderr); err != nil {
		t.Fatalf("run() error = %v\nstderr:\n%s", err, stderr.String())
	}
}

func TestRunRejectsBadMetricsAddress(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), quickArgs("--metrics-listen", "not-an-address"), &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "metrics listener") {
		t.Fatalf("run() error = %v, want listener error", err)
	}
}
