package wallet

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/torosent/walletload/internal/agent"
	"github.com/torosent/walletload/internal/retry"
)

func testConfig(sink *recordingSink) Config {
	return Config{
		Invitation: "https://mediator.example/invite?oob=e30",
		Timeouts: Timeouts{
			Connect:   200 * time.Millisecond,
			Mediation: 200 * time.Millisecond,
			Pickup:    200 * time.Millisecond,
			Teardown:  200 * time.Millisecond,
		},
		Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
		Sink:  sink,
	}
}

func testID() ID {
	return ID{Run: "01TESTRUN", Seq: 7, CreatedAt: time.Now()}
}

func TestRunHappyPath(t *testing.T) {
	sink := &recordingSink{}
	fa := &fakeAgent{}
	rec := New(testID(), fa, testConfig(sink)).Run(context.Background())

	if rec.State != Completed || !rec.Success {
		t.Fatalf("state=%v success=%v, want completed/true", rec.State, rec.Success)
	}
	if rec.ErrorKind != "" || rec.Err != "" {
		t.Fatalf("unexpected error on success: %q %q", rec.ErrorKind, rec.Err)
	}
	for _, stage := range Stages {
		out, ok := rec.Stage(stage)
		if !ok || !out.Success || out.Attempts != 1 {
			t.Fatalf("stage %s outcome = %+v (ran=%v)", stage, out, ok)
		}
	}
	want := []string{
		"connection.duration", "connection.success",
		"mediation.duration", "mediation.success",
		"pickup.duration", "pickup.success",
		MetricTestSuccess, MetricTestDuration,
	}
	if got := sink.names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v\nwant %v", got, want)
	}
	if fa.shutdownCalls.Load() != 1 {
		t.Fatalf("shutdown calls = %d, want 1", fa.shutdownCalls.Load())
	}
	if rec.ID.String() != "01TESTRUN-7" {
		t.Fatalf("ID = %q", rec.ID.String())
	}
	if rec.Duration() <= 0 || rec.Aborted() {
		t.Fatalf("duration=%v aborted=%v", rec.Duration(), rec.Aborted())
	}
}

func TestRunFatalStageFailures(t *testing.T) {
	tests := []struct {
		name          string
		agent         *fakeAgent
		wantKind      ErrorKind
		wantStage     Stage
		wantMediation int32
	}{
		{
			name:      "connect error",
			agent:     &fakeAgent{connect: fail(&agent.Failure{Op: agent.OpConnect, Err: agent.ErrConnectionFailed})},
			wantKind:  ConnectionError,
			wantStage: StageConnection,
		},
		{
			name:      "connect never completes",
			agent:     &fakeAgent{wait: func(ctx context.Context, _ time.Duration) error { return blockUntilDone(ctx) }},
			wantKind:  ConnectionTimeout,
			wantStage: StageConnection,
		},
		{
			name:          "mediation error",
			agent:         &fakeAgent{mediation: fail(agent.ErrMediationFailed)},
			wantKind:      MediationError,
			wantStage:     StageMediation,
			wantMediation: 3,
		},
		{
			name:          "mediation agent timeout",
			agent:         &fakeAgent{mediation: fail(&agent.Failure{Op: agent.OpMediation, Err: agent.ErrTimeout})},
			wantKind:      MediationTimeout,
			wantStage:     StageMediation,
			wantMediation: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			cfg := testConfig(sink)
			cfg.Timeouts.Connect = 20 * time.Millisecond
			rec := New(testID(), tt.agent, cfg).Run(context.Background())

			if rec.State != Failed || rec.Success {
				t.Fatalf("state=%v success=%v, want failed/false", rec.State, rec.Success)
			}
			if rec.ErrorKind != tt.wantKind {
				t.Fatalf("ErrorKind = %q, want %q", rec.ErrorKind, tt.wantKind)
			}
			out, _ := rec.Stage(tt.wantStage)
			if out.Success || out.Attempts != 3 || out.ErrorKind != tt.wantKind {
				t.Fatalf("stage outcome = %+v", out)
			}
			if got := tt.agent.mediationCalls.Load(); got != tt.wantMediation {
				t.Fatalf("mediation calls = %d, want %d", got, tt.wantMediation)
			}
			if tt.agent.pickupCalls.Load() != 0 {
				t.Fatal("pickup must not run after a fatal failure")
			}
			checks := map[string]int{
				tt.wantStage.Metric("retry"):   2,
				tt.wantStage.Metric("failed"):  1,
				tt.wantStage.Metric("success"): 0,
				tt.wantKind.Metric():           1,
				MetricTestFailed:               1,
				MetricTestSuccess:              0,
				MetricTestDuration:             1,
			}
			for name, want := range checks {
				if got := sink.count(name); got != want {
					t.Errorf("%s = %d, want %d", name, got, want)
				}
			}
			if tt.agent.shutdownCalls.Load() != 1 {
				t.Fatalf("shutdown calls = %d, want 1", tt.agent.shutdownCalls.Load())
			}
		})
	}
}

func TestRunPickupFailureIsNotFatal(t *testing.T) {
	tests := []struct {
		name     string
		pickup   func(context.Context) error
		wantKind ErrorKind
	}{
		{"error", fail(agent.ErrPickupFailed), PickupError},
		{"timeout", blockUntilDone, PickupTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			cfg := testConfig(sink)
			cfg.Timeouts.Pickup = 10 * time.Millisecond
			fa := &fakeAgent{pickup: tt.pickup}
			rec := New(testID(), fa, cfg).Run(context.Background())

			if rec.State != Completed || !rec.Success {
				t.Fatalf("state=%v success=%v, want completed/true", rec.State, rec.Success)
			}
			if rec.ErrorKind != "" {
				t.Fatalf("run ErrorKind = %q, want empty", rec.ErrorKind)
			}
			out, _ := rec.Stage(StagePickup)
			if out.Success || out.ErrorKind != tt.wantKind {
				t.Fatalf("pickup outcome = %+v", out)
			}
			if sink.count("pickup.failed") != 1 || sink.count(tt.wantKind.Metric()) != 1 {
				t.Fatalf("events = %v", sink.names())
			}
			if sink.count("connection.success") != 1 || sink.count("mediation.success") != 1 {
				t.Fatalf("events = %v", sink.names())
			}
			if sink.count(MetricTestSuccess) != 1 || sink.count(MetricTestFailed) != 0 {
				t.Fatalf("events = %v", sink.names())
			}
		})
	}
}

func TestRunRetryThenSucceed(t *testing.T) {
	sink := &recordingSink{}
	fa := &fakeAgent{}
	fa.mediation = func(context.Context) error {
		if fa.mediationCalls.Load() < 2 {
			return errBoom
		}
		return nil
	}
	rec := New(testID(), fa, testConfig(sink)).Run(context.Background())

	if !rec.Success {
		t.Fatalf("run failed: %+v", rec)
	}
	out, _ := rec.Stage(StageMediation)
	if out.Attempts != 2 || !out.Success {
		t.Fatalf("mediation outcome = %+v", out)
	}
	if sink.count("mediation.retry") != 1 || sink.count("mediation.failed") != 0 {
		t.Fatalf("events = %v", sink.names())
	}
}

func TestRunCancelledAbandonsAgentCall(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	sink := &recordingSink{}
	cfg := testConfig(sink)
	cfg.Timeouts.Mediation = time.Minute
	fa := &fakeAgent{
		// Ignores its context entirely.
		mediation: func(context.Context) error {
			<-release
			return nil
		},
		shutdown: func(ctx context.Context) error {
			if ctx.Err() != nil {
				return errors.New("teardown ran on a cancelled context")
			}
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	rec := New(testID(), fa, cfg).Run(ctx)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run took %v after cancellation", elapsed)
	}
	if rec.State != RequestingMediation || rec.Success || !rec.Aborted() {
		t.Fatalf("state=%v success=%v aborted=%v", rec.State, rec.Success, rec.Aborted())
	}
	if sink.count(MetricTestAborted) != 1 || sink.count(MetricTestFailed) != 0 || sink.count(MetricTestSuccess) != 0 {
		t.Fatalf("events = %v", sink.names())
	}
	if sink.count(MetricTeardownFailed) != 0 || fa.shutdownCalls.Load() != 1 {
		t.Fatalf("teardown not attempted cleanly: events=%v calls=%d", sink.names(), fa.shutdownCalls.Load())
	}
}

func TestRunCancelledDuringBackoff(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig(sink)
	cfg.Retry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Hour, Multiplier: 2}
	fa := &fakeAgent{connect: fail(errBoom)}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	rec := New(testID(), fa, cfg).Run(ctx)

	if rec.State != Connecting || fa.connectCalls.Load() != 1 {
		t.Fatalf("state=%v connect calls=%d", rec.State, fa.connectCalls.Load())
	}
	if sink.count("connection.failed") != 0 || sink.count(MetricTestAborted) != 1 {
		t.Fatalf("events = %v", sink.names())
	}
}

func TestTeardownFailureDoesNotChangeOutcome(t *testing.T) {
	sink := &recordingSink{}
	fa := &fakeAgent{shutdown: fail(errBoom)}
	rec := New(testID(), fa, testConfig(sink)).Run(context.Background())

	if !rec.Success || rec.State != Completed {
		t.Fatalf("state=%v success=%v", rec.State, rec.Success)
	}
	names := sink.names()
	if names[len(names)-1] != MetricTeardownFailed {
		t.Fatalf("events = %v, want teardown.failed last", names)
	}
}

func TestHaltCutsTeardownShort(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig(sink)
	cfg.Timeouts.Teardown = 5 * time.Second
	halt, cancel := context.WithCancel(context.Background())
	cfg.Halt = halt
	time.AfterFunc(50*time.Millisecond, cancel)

	fa := &fakeAgent{shutdown: blockUntilDone}
	start := time.Now()
	rec := New(testID(), fa, cfg).Run(context.Background())

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Run took %v, want teardown abandoned after halt", elapsed)
	}
	if rec.State != Completed {
		t.Fatalf("state = %v, want Completed", rec.State)
	}
	if sink.count(MetricTeardownFailed) != 1 {
		t.Fatalf("events = %v, want teardown.failed", sink.names())
	}
}

func TestAgentPanicIsAStageError(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig(sink)
	cfg.Retry = retry.Policy{MaxAttempts: 1}
	fa := &fakeAgent{connect: func(context.Context) error { panic("agent exploded") }}
	rec := New(testID(), fa, cfg).Run(context.Background())

	if rec.State != Failed || rec.ErrorKind != ConnectionError {
		t.Fatalf("state=%v kind=%q", rec.State, rec.ErrorKind)
	}
}

func TestOnTransition(t *testing.T) {
	var got []State
	m := New(testID(), &fakeAgent{mediation: fail(errBoom)}, testConfig(&recordingSink{}))
	m.OnTransition(func(id ID, from, to State) {
		if id.Seq != 7 {
			t.Errorf("listener got id %v", id)
		}
		got = append(got, to)
	})
	m.Run(context.Background())

	want := []State{Connecting, Connected, RequestingMediation, Failed}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	m := New(testID(), &fakeAgent{}, Config{})
	if m.cfg.Timeouts != DefaultTimeouts() {
		t.Fatalf("timeouts = %+v", m.cfg.Timeouts)
	}
	if m.cfg.Retry != retry.DefaultPolicy() {
		t.Fatalf("retry = %+v", m.cfg.Retry)
	}
	if m.cfg.Sink == nil || m.cfg.Tracer == nil {
		t.Fatal("sink and tracer must default to no-ops")
	}
}
