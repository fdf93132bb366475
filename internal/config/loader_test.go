package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{"456", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestAsBool(t *testing.T) {
	tests := []struct {
		input interface{}
		want  bool
	}{
		{true, true},
		{"true", true},
		{"1", true},
		{false, false},
		{"false", false},
		{"0", false},
		{nil, false},
	}

	for _, tt := range tests {
		got, err := asBool(tt.input)
		if err != nil {
			t.Errorf("asBool(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asBool(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{time.Second, time.Second},
		{"1m", time.Minute},
		{10, 10 * time.Second}, // int treated as seconds
		{0.5, 500 * time.Millisecond},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsOptionalFloat64(t *testing.T) {
	if got, err := asOptionalFloat64(nil); err != nil || got != nil {
		t.Fatalf("asOptionalFloat64(nil) = %v, %v; want nil, nil", got, err)
	}
	if got, err := asOptionalFloat64(""); err != nil || got != nil {
		t.Fatalf("asOptionalFloat64(\"\") = %v, %v; want nil, nil", got, err)
	}
	got, err := asOptionalFloat64(0)
	if err != nil || got == nil || *got != 0 {
		t.Fatalf("asOptionalFloat64(0) = %v, %v; want pointer to 0", got, err)
	}
	if _, err := asOptionalFloat64("fast"); err == nil {
		t.Fatal("asOptionalFloat64(\"fast\") expected error")
	}
}

func TestSettingShapes(t *testing.T) {
	m, err := toStringKeyMap(map[interface{}]interface{}{" Connect ": "20s", 7: "x"})
	if err != nil {
		t.Fatalf("toStringKeyMap() error = %v", err)
	}
	if m["connect"] != "20s" || m["7"] != "x" {
		t.Fatalf("toStringKeyMap() = %v", m)
	}
	if _, err := toStringKeyMap("connect"); err == nil {
		t.Fatal("toStringKeyMap(string) expected error")
	}

	items, err := toInterfaceSlice([]map[string]interface{}{{"duration": 1}, {"duration": 2}})
	if err != nil || len(items) != 2 {
		t.Fatalf("toInterfaceSlice() = %v, %v", items, err)
	}

	vals, err := asStringSlice([]interface{}{"a", 2})
	if err != nil || len(vals) != 2 || vals[0] != "a" || vals[1] != "2" {
		t.Fatalf("asStringSlice() = %v, %v", vals, err)
	}
	if vals, _ := asStringSlice("only"); len(vals) != 1 {
		t.Fatalf("asStringSlice(string) = %v", vals)
	}

	if got, err := asFloat64(uint16(3)); err != nil || got != 3 {
		t.Fatalf("asFloat64(uint16) = %v, %v", got, err)
	}
	if _, err := asInt(struct{}{}); err == nil {
		t.Fatal("asInt(struct) expected error")
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := Defaults()
	settings := map[string]interface{}{
		"invitation":   "https://mediator.example.com/invite",
		"concurrency":  10,
		"max_duration": "2m",
		"phases": []interface{}{
			map[string]interface{}{"name": "warmup", "duration": 60, "arrivalRate": 5, "rampTo": 50},
			map[string]interface{}{"duration": "10m", "arrival_rate": 50},
		},
		"timeouts": map[string]interface{}{
			"connect": "20s",
			"pickup":  2,
		},
		"retry": map[string]interface{}{
			"max_attempts": 5,
			"base_delay":   "250ms",
		},
		"agent": map[string]interface{}{
			"label":                "load-wallet",
			"connect_failure_rate": 0.1,
			"jitter":               0.2,
			"seed":                 42,
		},
		"tracing": map[string]interface{}{
			"endpoint":    "localhost:4317",
			"sample_rate": 0.25,
			"insecure":    true,
		},
	}

	if err := applyConfigSettings(&cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.Invitation != "https://mediator.example.com/invite" {
		t.Errorf("Invitation = %q", cfg.Invitation)
	}
	if cfg.Concurrency != 10 {
		t.Errorf("Concurrency = %d, want 10", cfg.Concurrency)
	}
	if cfg.MaxDuration != 2*time.Minute {
		t.Errorf("MaxDuration = %v, want 2m", cfg.MaxDuration)
	}
	if len(cfg.Phases) != 2 {
		t.Fatalf("Phases len = %d, want 2", len(cfg.Phases))
	}
	warm := cfg.Phases[0]
	if warm.Name != "warmup" || warm.Duration != time.Minute || warm.StartRate != 5 {
		t.Errorf("Phases[0] = %+v", warm)
	}
	if warm.EndRate == nil || *warm.EndRate != 50 {
		t.Errorf("Phases[0].EndRate = %v, want 50", warm.EndRate)
	}
	if cfg.Phases[1].EndRate != nil {
		t.Errorf("Phases[1].EndRate = %v, want nil", *cfg.Phases[1].EndRate)
	}
	if cfg.Timeouts.Connect != 20*time.Second || cfg.Timeouts.Pickup != 2*time.Second {
		t.Errorf("Timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Timeouts.Mediation != DefaultMediationTimeout {
		t.Errorf("Timeouts.Mediation = %v, want default", cfg.Timeouts.Mediation)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Agent.Label != "load-wallet" || cfg.Agent.ConnectFailureRate != 0.1 || cfg.Agent.Jitter != 0.2 || cfg.Agent.Seed != 42 {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || cfg.Tracing.SampleRate != 0.25 || !cfg.Tracing.Insecure {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
}

func TestApplyConfigSettingsErrors(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]interface{}
	}{
		{"phases not a list", map[string]interface{}{"phases": "fast"}},
		{"bad phase duration", map[string]interface{}{"phases": []interface{}{map[string]interface{}{"duration": "soon"}}}},
		{"timeouts not a map", map[string]interface{}{"timeouts": 5}},
		{"bad retry", map[string]interface{}{"retry": map[string]interface{}{"max_attempts": "many"}}},
		{"bad agent rate", map[string]interface{}{"agent": map[string]interface{}{"pickup_failure_rate": "often"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			if err := applyConfigSettings(&cfg, tt.settings); err == nil {
				t.Fatal("applyConfigSettings() expected error")
			}
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := Defaults()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)

	args := []string{
		"--concurrency=5",
		"--phase=warmup=30s:1:10",
		"--phase=1m:10",
		"--connect-timeout=3s",
		"--retries=1",
		"--sim-pickup-failure-rate=0.5",
		"--threshold=test.failed:rate < 0.05",
		"--log-format=json",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := applyFlagOverrides(&cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.Concurrency != 5 {
		t.Errorf("Concurrency = %d, want 5", cfg.Concurrency)
	}
	if len(cfg.Phases) != 2 {
		t.Fatalf("Phases len = %d, want 2", len(cfg.Phases))
	}
	if cfg.Phases[0].Name != "warmup" || cfg.Phases[0].EndRate == nil || *cfg.Phases[0].EndRate != 10 {
		t.Errorf("Phases[0] = %+v", cfg.Phases[0])
	}
	if cfg.Phases[1].Duration != time.Minute || cfg.Phases[1].StartRate != 10 {
		t.Errorf("Phases[1] = %+v", cfg.Phases[1])
	}
	if cfg.Timeouts.Connect != 3*time.Second {
		t.Errorf("Timeouts.Connect = %v, want 3s", cfg.Timeouts.Connect)
	}
	if cfg.Timeouts.Mediation != DefaultMediationTimeout {
		t.Errorf("unchanged flag overwrote Timeouts.Mediation: %v", cfg.Timeouts.Mediation)
	}
	if cfg.Retry.MaxAttempts != 1 {
		t.Errorf("Retry.MaxAttempts = %d, want 1", cfg.Retry.MaxAttempts)
	}
	if cfg.Agent.PickupFailureRate != 0.5 {
		t.Errorf("Agent.PickupFailureRate = %v, want 0.5", cfg.Agent.PickupFailureRate)
	}
	if len(cfg.Thresholds) != 1 || cfg.Thresholds[0] != "test.failed:rate < 0.05" {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestParsePhaseFlag(t *testing.T) {
	tests := []struct {
		input   string
		want    PhaseConfig
		wantEnd *float64
		wantErr bool
	}{
		{input: "30s:5", want: PhaseConfig{Duration: 30 * time.Second, StartRate: 5}},
		{input: "ramp=1m:0:20", want: PhaseConfig{Name: "ramp", Duration: time.Minute}, wantEnd: floatPtr(20)},
		{input: "1m:0.5:0", want: PhaseConfig{Duration: time.Minute, StartRate: 0.5}, wantEnd: floatPtr(0)},
		{input: "30s", wantErr: true},
		{input: "soon:5", wantErr: true},
		{input: "30s:fast", wantErr: true},
		{input: "30s:1:2:3", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parsePhaseFlag(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parsePhaseFlag(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePhaseFlag(%q) error = %v", tt.input, err)
			continue
		}
		if got.Name != tt.want.Name || got.Duration != tt.want.Duration || got.StartRate != tt.want.StartRate {
			t.Errorf("parsePhaseFlag(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
		switch {
		case tt.wantEnd == nil && got.EndRate != nil:
			t.Errorf("parsePhaseFlag(%q) EndRate = %v, want nil", tt.input, *got.EndRate)
		case tt.wantEnd != nil && (got.EndRate == nil || *got.EndRate != *tt.wantEnd):
			t.Errorf("parsePhaseFlag(%q) EndRate = %v, want %v", tt.input, got.EndRate, *tt.wantEnd)
		}
	}
}

func TestLoader_Load(t *testing.T) {
	loader := NewLoader()
	args := []string{
		"--invitation=  https://mediator.example.com/invite  ",
		"--phase=10s:2",
		"--concurrency=2",
		"--agent=SIMULATED",
	}

	cfg, err := loader.Load(args)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Invitation != "https://mediator.example.com/invite" {
		t.Errorf("Invitation = %q", cfg.Invitation)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Concurrency = %d, want 2", cfg.Concurrency)
	}
	if cfg.Agent.Kind != AgentKindSimulated {
		t.Errorf("Agent.Kind = %q, want %q", cfg.Agent.Kind, AgentKindSimulated)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
