package config

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/torosent/walletload/internal/agent"
	"github.com/torosent/walletload/internal/retry"
	"github.com/torosent/walletload/internal/schedule"
)

const (
	DefaultConcurrency      = 100
	DefaultGracePeriod      = 10 * time.Second
	DefaultProgressInterval = 10 * time.Second
	DefaultConnectTimeout   = 15 * time.Second
	DefaultMediationTimeout = 10 * time.Second
	DefaultPickupTimeout    = 5 * time.Second
	DefaultTeardownTimeout  = 5 * time.Second
	AgentKindSimulated      = "simulated"
)

type Config struct {
	Invitation       string        `mapstructure:"invitation"`
	Phases           []PhaseConfig `mapstructure:"phases"`
	Concurrency      int           `mapstructure:"concurrency"`
	MaxDuration      time.Duration `mapstructure:"max_duration"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	Timeouts         TimeoutConfig `mapstructure:"timeouts"`
	Retry            RetryConfig   `mapstructure:"retry"`
	Agent            AgentConfig   `mapstructure:"agent"`
	JSONOutput       bool          `mapstructure:"json_output"`
	OutputFile       string        `mapstructure:"output_file"`
	Thresholds       []string      `mapstructure:"thresholds"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	MetricsListen    string        `mapstructure:"metrics_listen"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	Tracing          TracingConfig `mapstructure:"tracing"`
	ConfigFile       string        `mapstructure:"-"`
}

// PhaseConfig is one arrival phase. Rates are wallets started per second.
type PhaseConfig struct {
	Name      string        `mapstructure:"name"`
	Duration  time.Duration `mapstructure:"duration"`
	StartRate float64       `mapstructure:"arrival_rate"`
	EndRate   *float64      `mapstructure:"ramp_to"`
}

type TimeoutConfig struct {
	Connect   time.Duration `mapstructure:"connect"`
	Mediation time.Duration `mapstructure:"mediation"`
	Pickup    time.Duration `mapstructure:"pickup"`
	Teardown  time.Duration `mapstructure:"teardown"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// AgentConfig selects and tunes the agent each wallet uses.
type AgentConfig struct {
	Kind                 string        `mapstructure:"kind"`
	Label                string        `mapstructure:"label"`
	ConnectLatency       time.Duration `mapstructure:"connect_latency"`
	MediationLatency     time.Duration `mapstructure:"mediation_latency"`
	PickupLatency        time.Duration `mapstructure:"pickup_latency"`
	Jitter               float64       `mapstructure:"jitter"` // fraction of each latency, 0..1
	ConnectFailureRate   float64       `mapstructure:"connect_failure_rate"`
	MediationFailureRate float64       `mapstructure:"mediation_failure_rate"`
	PickupFailureRate    float64       `mapstructure:"pickup_failure_rate"`
	ShutdownFailureRate  float64       `mapstructure:"shutdown_failure_rate"`
	Seed                 int64         `mapstructure:"seed"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Defaults returns a Config with every optional setting filled in.
func Defaults() Config {
	return Config{
		Concurrency:      DefaultConcurrency,
		GracePeriod:      DefaultGracePeriod,
		ProgressInterval: DefaultProgressInterval,
		Timeouts: TimeoutConfig{
			Connect:   DefaultConnectTimeout,
			Mediation: DefaultMediationTimeout,
			Pickup:    DefaultPickupTimeout,
			Teardown:  DefaultTeardownTimeout,
		},
		Retry: RetryConfig{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
			Multiplier:  retry.DefaultMultiplier,
		},
		Agent: AgentConfig{
			Kind:             AgentKindSimulated,
			Label:            "walletload",
			ConnectLatency:   200 * time.Millisecond,
			MediationLatency: 100 * time.Millisecond,
			PickupLatency:    50 * time.Millisecond,
		},
		LogLevel:  "info",
		LogFormat: "text",
		Tracing: TracingConfig{
			Protocol:   "grpc",
			SampleRate: 1.0,
		},
	}
}

// SchedulePhases converts the configured phases for the scheduler.
func (c Config) SchedulePhases() []schedule.Phase {
	phases := make([]schedule.Phase, len(c.Phases))
	for i, p := range c.Phases {
		phases[i] = schedule.Phase{
			Name:      p.Name,
			Duration:  p.Duration,
			StartRate: p.StartRate,
			EndRate:   p.EndRate,
		}
		if phases[i].Name == "" {
			phases[i].Name = fmt.Sprintf("phase-%d", i+1)
		}
	}
	return phases
}

func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

func (c Config) SimulatedAgent() agent.SimulatedConfig {
	return agent.SimulatedConfig{
		ConnectLatency:       c.Agent.ConnectLatency,
		MediationLatency:     c.Agent.MediationLatency,
		PickupLatency:        c.Agent.PickupLatency,
		Jitter:               c.Agent.Jitter,
		ConnectFailureRate:   c.Agent.ConnectFailureRate,
		MediationFailureRate: c.Agent.MediationFailureRate,
		PickupFailureRate:    c.Agent.PickupFailureRate,
		ShutdownFailureRate:  c.Agent.ShutdownFailureRate,
		Seed:                 c.Agent.Seed,
	}
}

func (c Config) ConnectOptions() agent.ConnectOptions {
	return agent.ConnectOptions{
		Label:      c.Agent.Label,
		AutoAccept: true,
	}
}

// ScheduledDuration is the summed length of all phases.
func (c Config) ScheduledDuration() time.Duration {
	var total time.Duration
	for _, p := range c.Phases {
		total += p.Duration
	}
	return total
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Invitation) == "" {
		issues = append(issues, "invitation is required (use --help for usage information)")
	} else if _, err := ParseInvitation(c.Invitation); err != nil {
		issues = append(issues, fmt.Sprintf("invitation: %v", err))
	}

	if len(c.Phases) == 0 {
		issues = append(issues, "at least one phase is required")
	}
	for idx, p := range c.Phases {
		if p.Duration <= 0 {
			issues = append(issues, fmt.Sprintf("phases[%d]: duration must be > 0", idx))
		}
		if !validRate(p.StartRate) {
			issues = append(issues, fmt.Sprintf("phases[%d]: arrival_rate must be >= 0", idx))
		}
		if p.EndRate != nil && !validRate(*p.EndRate) {
			issues = append(issues, fmt.Sprintf("phases[%d]: ramp_to must be >= 0", idx))
		}
	}

	if c.Concurrency < 1 {
		issues = append(issues, "concurrency must be >= 1")
	}
	if c.MaxDuration < 0 {
		issues = append(issues, "max_duration must be >= 0")
	}
	if c.GracePeriod < 0 {
		issues = append(issues, "grace_period must be >= 0")
	}
	if c.ProgressInterval < 0 {
		issues = append(issues, "progress_interval must be >= 0")
	}

	issues = append(issues, validateTimeouts(c.Timeouts)...)
	issues = append(issues, validateRetry(c.Retry)...)
	issues = append(issues, validateAgent(c.Agent)...)
	issues = append(issues, validateTracing(c.Tracing)...)

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log_format must be 'text' or 'json', got %q", c.LogFormat))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings lists settings that are valid but likely to surprise.
func (c Config) Warnings() []string {
	var warnings []string
	maxRate := 0.0
	for _, p := range c.Phases {
		maxRate = math.Max(maxRate, p.StartRate)
		if p.EndRate != nil {
			maxRate = math.Max(maxRate, *p.EndRate)
		}
	}
	if maxRate > 500 {
		warnings = append(warnings, fmt.Sprintf("high arrival rate configured (%.0f wallets/s); ensure you have authorization to load the mediator", maxRate))
	}
	if c.Concurrency > 5000 {
		warnings = append(warnings, fmt.Sprintf("high concurrency configured (%d wallets); each wallet holds its own agent session", c.Concurrency))
	}
	if c.MaxDuration > 0 && c.MaxDuration < c.ScheduledDuration() {
		warnings = append(warnings, fmt.Sprintf("max_duration %v is shorter than the %v schedule; the run will be cut short", c.MaxDuration, c.ScheduledDuration()))
	}
	if c.GracePeriod > 0 && c.Timeouts.Teardown > c.GracePeriod {
		warnings = append(warnings, fmt.Sprintf("teardown timeout %v exceeds grace_period %v; teardowns still running when the grace period ends are abandoned", c.Timeouts.Teardown, c.GracePeriod))
	}
	if c.Tracing.Insecure && c.Tracing.Endpoint != "" {
		warnings = append(warnings, "tracing exporter TLS is disabled (insecure: true)")
	}
	return warnings
}

func validRate(r float64) bool {
	return r >= 0 && !math.IsNaN(r) && !math.IsInf(r, 0)
}

func validateTimeouts(t TimeoutConfig) []string {
	var issues []string
	for name, d := range map[string]time.Duration{
		"connect":   t.Connect,
		"mediation": t.Mediation,
		"pickup":    t.Pickup,
		"teardown":  t.Teardown,
	} {
		if d < 0 {
			issues = append(issues, fmt.Sprintf("timeouts.%s must be >= 0", name))
		}
	}
	sort.Strings(issues)
	return issues
}

func validateRetry(r RetryConfig) []string {
	var issues []string
	if r.MaxAttempts < 1 {
		issues = append(issues, "retry.max_attempts must be >= 1")
	}
	if r.BaseDelay < 0 {
		issues = append(issues, "retry.base_delay must be >= 0")
	}
	if r.Multiplier < 1 {
		issues = append(issues, "retry.multiplier must be >= 1")
	}
	if r.MaxDelay < 0 {
		issues = append(issues, "retry.max_delay must be >= 0")
	}
	return issues
}

func validateAgent(a AgentConfig) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(a.Kind)) {
	case "", AgentKindSimulated:
	default:
		issues = append(issues, fmt.Sprintf("agent.kind %q is not supported: use %q", a.Kind, AgentKindSimulated))
	}
	if a.ConnectLatency < 0 || a.MediationLatency < 0 || a.PickupLatency < 0 {
		issues = append(issues, "agent latencies must be >= 0")
	}
	if a.Jitter < 0 || a.Jitter > 1 || math.IsNaN(a.Jitter) {
		issues = append(issues, "agent.jitter must be between 0 and 1")
	}
	for name, rate := range map[string]float64{
		"connect_failure_rate":   a.ConnectFailureRate,
		"mediation_failure_rate": a.MediationFailureRate,
		"pickup_failure_rate":    a.PickupFailureRate,
		"shutdown_failure_rate":  a.ShutdownFailureRate,
	} {
		if rate < 0 || rate > 1 || math.IsNaN(rate) {
			issues = append(issues, fmt.Sprintf("agent.%s must be between 0 and 1", name))
		}
	}
	sort.Strings(issues)
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}
