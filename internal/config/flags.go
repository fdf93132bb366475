package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "walletload",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	defaults := Defaults()

	// Target and schedule
	flags.StringP("invitation", "i", "", "Invitation URL or payload each wallet connects with")
	flags.StringArray("phase", nil, "Arrival phase as [name=]duration:rate[:ramp_to] (repeatable, e.g. warmup=30s:1:10)")
	flags.IntP("concurrency", "c", defaults.Concurrency, "Maximum number of wallets in flight")
	flags.Duration("max-duration", 0, "Hard limit on the whole run (0 means no limit)")
	flags.Duration("grace-period", defaults.GracePeriod, "Time to wait for in-flight wallets after the run stops")

	// Stage timeouts and retry
	flags.Duration("connect-timeout", defaults.Timeouts.Connect, "Per-attempt connection timeout")
	flags.Duration("mediation-timeout", defaults.Timeouts.Mediation, "Per-attempt mediation timeout")
	flags.Duration("pickup-timeout", defaults.Timeouts.Pickup, "Per-attempt pickup timeout")
	flags.Duration("teardown-timeout", defaults.Timeouts.Teardown, "Agent shutdown timeout")
	flags.Int("retries", defaults.Retry.MaxAttempts, "Attempts per stage including the first")
	flags.Duration("retry-base-delay", defaults.Retry.BaseDelay, "Delay before the first retry")
	flags.Float64("retry-multiplier", defaults.Retry.Multiplier, "Backoff multiplier between retries")
	flags.Duration("retry-max-delay", 0, "Upper bound on a single retry delay (0 means unbounded)")

	// Agent
	flags.String("agent", defaults.Agent.Kind, "Agent implementation to drive wallets with")
	flags.String("agent-label", defaults.Agent.Label, "Label each wallet presents when connecting")
	flags.Int64("agent-seed", 0, "Seed for the simulated agent's random stream")
	flags.Duration("sim-connect-latency", defaults.Agent.ConnectLatency, "Simulated connection latency")
	flags.Duration("sim-mediation-latency", defaults.Agent.MediationLatency, "Simulated mediation latency")
	flags.Duration("sim-pickup-latency", defaults.Agent.PickupLatency, "Simulated pickup latency")
	flags.Float64("sim-jitter", 0, "Fraction of each simulated latency to randomize (0..1)")
	flags.Float64("sim-connect-failure-rate", 0, "Probability a simulated connection attempt fails")
	flags.Float64("sim-mediation-failure-rate", 0, "Probability a simulated mediation attempt fails")
	flags.Float64("sim-pickup-failure-rate", 0, "Probability a simulated pickup attempt fails")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.String("output-file", "", "Write the final result to a file (.json or .yaml)")
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g., 'connection.duration:p95 < 500')")
	flags.String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	flags.String("log-format", defaults.LogFormat, "Log format: text or json")
	flags.String("metrics-listen", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.Duration("progress-interval", defaults.ProgressInterval, "How often to log progress (0 disables)")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (defaults to OTEL_EXPORTER_OTLP_ENDPOINT)")
	flags.String("tracing-protocol", defaults.Tracing.Protocol, "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Float64("tracing-sample-rate", defaults.Tracing.SampleRate, "Fraction of wallet stages to trace (0..1)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("invitation") {
		val, err := fs.GetString("invitation")
		if err != nil {
			return err
		}
		cfg.Invitation = strings.TrimSpace(val)
	}
	if fs.Changed("phase") {
		vals, err := fs.GetStringArray("phase")
		if err != nil {
			return err
		}
		phases := make([]PhaseConfig, 0, len(vals))
		for _, v := range vals {
			phase, err := parsePhaseFlag(v)
			if err != nil {
				return fmt.Errorf("--phase %q: %w", v, err)
			}
			phases = append(phases, phase)
		}
		cfg.Phases = phases
	}
	if fs.Changed("concurrency") {
		val, err := fs.GetInt("concurrency")
		if err != nil {
			return err
		}
		cfg.Concurrency = val
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"max-duration", &cfg.MaxDuration},
		{"grace-period", &cfg.GracePeriod},
		{"connect-timeout", &cfg.Timeouts.Connect},
		{"mediation-timeout", &cfg.Timeouts.Mediation},
		{"pickup-timeout", &cfg.Timeouts.Pickup},
		{"teardown-timeout", &cfg.Timeouts.Teardown},
		{"retry-base-delay", &cfg.Retry.BaseDelay},
		{"retry-max-delay", &cfg.Retry.MaxDelay},
		{"sim-connect-latency", &cfg.Agent.ConnectLatency},
		{"sim-mediation-latency", &cfg.Agent.MediationLatency},
		{"sim-pickup-latency", &cfg.Agent.PickupLatency},
		{"progress-interval", &cfg.ProgressInterval},
	}
	for _, f := range durations {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetDuration(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"retry-multiplier", &cfg.Retry.Multiplier},
		{"sim-jitter", &cfg.Agent.Jitter},
		{"sim-connect-failure-rate", &cfg.Agent.ConnectFailureRate},
		{"sim-mediation-failure-rate", &cfg.Agent.MediationFailureRate},
		{"sim-pickup-failure-rate", &cfg.Agent.PickupFailureRate},
		{"tracing-sample-rate", &cfg.Tracing.SampleRate},
	}
	for _, f := range floats {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetFloat64(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"agent", &cfg.Agent.Kind},
		{"agent-label", &cfg.Agent.Label},
		{"output-file", &cfg.OutputFile},
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
		{"metrics-listen", &cfg.MetricsListen},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-protocol", &cfg.Tracing.Protocol},
		{"tracing-service-name", &cfg.Tracing.ServiceName},
	}
	for _, f := range strs {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}

	if fs.Changed("retries") {
		val, err := fs.GetInt("retries")
		if err != nil {
			return err
		}
		cfg.Retry.MaxAttempts = val
	}
	if fs.Changed("agent-seed") {
		val, err := fs.GetInt64("agent-seed")
		if err != nil {
			return err
		}
		cfg.Agent.Seed = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("threshold") {
		vals, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = vals
	}
	return nil
}

// parsePhaseFlag parses "[name=]duration:rate[:ramp_to]".
func parsePhaseFlag(value string) (PhaseConfig, error) {
	var phase PhaseConfig
	def := strings.TrimSpace(value)
	if name, rest, ok := strings.Cut(def, "="); ok {
		phase.Name = strings.TrimSpace(name)
		def = rest
	}
	parts := strings.Split(def, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return PhaseConfig{}, fmt.Errorf("expected duration:rate[:ramp_to]")
	}
	dur, err := time.ParseDuration(strings.TrimSpace(parts[0]))
	if err != nil {
		return PhaseConfig{}, fmt.Errorf("duration: %w", err)
	}
	phase.Duration = dur
	rate, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return PhaseConfig{}, fmt.Errorf("rate: %w", err)
	}
	phase.StartRate = rate
	if len(parts) == 3 {
		end, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return PhaseConfig{}, fmt.Errorf("ramp_to: %w", err)
		}
		phase.EndRate = &end
	}
	return phase, nil
}
