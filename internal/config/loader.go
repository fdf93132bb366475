package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and the optional configuration file to
// produce a Config. The result is not validated.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Invitation = strings.TrimSpace(cfg.Invitation)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.Agent.Kind = strings.ToLower(strings.TrimSpace(cfg.Agent.Kind))
	cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(cfg.Tracing.Protocol))

	return &cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "invitation", "invitation_url", "invitation-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("invitation: %w", err)
		}
		cfg.Invitation = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "phases"); ok {
		phases, err := parsePhases(raw)
		if err != nil {
			return fmt.Errorf("phases: %w", err)
		}
		cfg.Phases = phases
	}

	if raw, ok := lookupSetting(settings, "concurrency", "max_concurrency", "max-concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("concurrency: %w", err)
		}
		cfg.Concurrency = val
	}

	if raw, ok := lookupSetting(settings, "maxduration", "max_duration", "max-duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("max_duration: %w", err)
		}
		cfg.MaxDuration = dur
	}

	if raw, ok := lookupSetting(settings, "graceperiod", "grace_period", "grace-period"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("grace_period: %w", err)
		}
		cfg.GracePeriod = dur
	}

	if raw, ok := lookupSetting(settings, "timeouts"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("timeouts: %w", err)
		}
		if err := applyTimeouts(&cfg.Timeouts, entry); err != nil {
			return fmt.Errorf("timeouts: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "retry"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("retry: %w", err)
		}
		if err := applyRetry(&cfg.Retry, entry); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "agent"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("agent: %w", err)
		}
		if err := applyAgent(&cfg.Agent, entry); err != nil {
			return fmt.Errorf("agent: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		if err := applyTracing(&cfg.Tracing, entry); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json_output: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "outputfile", "output_file", "output-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output_file: %w", err)
		}
		cfg.OutputFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		vals, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = vals
	}

	if raw, ok := lookupSetting(settings, "loglevel", "log_level", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		cfg.LogLevel = val
	}

	if raw, ok := lookupSetting(settings, "logformat", "log_format", "log-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_format: %w", err)
		}
		cfg.LogFormat = val
	}

	if raw, ok := lookupSetting(settings, "metricslisten", "metrics_listen", "metrics-listen"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("metrics_listen: %w", err)
		}
		cfg.MetricsListen = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "progressinterval", "progress_interval", "progress-interval"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("progress_interval: %w", err)
		}
		cfg.ProgressInterval = dur
	}

	return nil
}

func parsePhases(value interface{}) ([]PhaseConfig, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	phases := make([]PhaseConfig, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		phase, err := buildPhase(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		phases = append(phases, phase)
	}
	return phases, nil
}

func buildPhase(settings map[string]interface{}) (PhaseConfig, error) {
	var phase PhaseConfig
	if raw, ok := lookupSetting(settings, "name"); ok {
		val, err := asString(raw)
		if err != nil {
			return PhaseConfig{}, fmt.Errorf("name: %w", err)
		}
		phase.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return PhaseConfig{}, fmt.Errorf("duration: %w", err)
		}
		phase.Duration = dur
	}
	if raw, ok := lookupSetting(settings, "arrivalrate", "arrival_rate", "arrival-rate", "start_rate", "rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return PhaseConfig{}, fmt.Errorf("arrival_rate: %w", err)
		}
		phase.StartRate = val
	}
	if raw, ok := lookupSetting(settings, "rampto", "ramp_to", "ramp-to", "end_rate"); ok {
		val, err := asOptionalFloat64(raw)
		if err != nil {
			return PhaseConfig{}, fmt.Errorf("ramp_to: %w", err)
		}
		phase.EndRate = val
	}
	return phase, nil
}

func applyTimeouts(t *TimeoutConfig, settings map[string]interface{}) error {
	fields := []struct {
		keys []string
		dst  *time.Duration
	}{
		{[]string{"connect", "connection"}, &t.Connect},
		{[]string{"mediation"}, &t.Mediation},
		{[]string{"pickup"}, &t.Pickup},
		{[]string{"teardown", "shutdown"}, &t.Teardown},
	}
	for _, f := range fields {
		raw, ok := lookupSetting(settings, f.keys...)
		if !ok {
			continue
		}
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.keys[0], err)
		}
		*f.dst = dur
	}
	return nil
}

func applyRetry(r *RetryConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "maxattempts", "max_attempts", "max-attempts", "attempts"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("max_attempts: %w", err)
		}
		r.MaxAttempts = val
	}
	if raw, ok := lookupSetting(settings, "basedelay", "base_delay", "base-delay"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("base_delay: %w", err)
		}
		r.BaseDelay = dur
	}
	if raw, ok := lookupSetting(settings, "multiplier", "backoff_multiplier"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("multiplier: %w", err)
		}
		r.Multiplier = val
	}
	if raw, ok := lookupSetting(settings, "maxdelay", "max_delay", "max-delay"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("max_delay: %w", err)
		}
		r.MaxDelay = dur
	}
	return nil
}

func applyAgent(a *AgentConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "kind", "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("kind: %w", err)
		}
		a.Kind = val
	}
	if raw, ok := lookupSetting(settings, "label"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("label: %w", err)
		}
		a.Label = strings.TrimSpace(val)
	}

	durations := []struct {
		keys []string
		dst  *time.Duration
	}{
		{[]string{"connectlatency", "connect_latency", "connect-latency"}, &a.ConnectLatency},
		{[]string{"mediationlatency", "mediation_latency", "mediation-latency"}, &a.MediationLatency},
		{[]string{"pickuplatency", "pickup_latency", "pickup-latency"}, &a.PickupLatency},
	}
	for _, f := range durations {
		raw, ok := lookupSetting(settings, f.keys...)
		if !ok {
			continue
		}
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.keys[1], err)
		}
		*f.dst = dur
	}

	rates := []struct {
		keys []string
		dst  *float64
	}{
		{[]string{"jitter_fraction", "jitter"}, &a.Jitter},
		{[]string{"connectfailurerate", "connect_failure_rate", "connect-failure-rate"}, &a.ConnectFailureRate},
		{[]string{"mediationfailurerate", "mediation_failure_rate", "mediation-failure-rate"}, &a.MediationFailureRate},
		{[]string{"pickupfailurerate", "pickup_failure_rate", "pickup-failure-rate"}, &a.PickupFailureRate},
		{[]string{"shutdownfailurerate", "shutdown_failure_rate", "shutdown-failure-rate"}, &a.ShutdownFailureRate},
	}
	for _, f := range rates {
		raw, ok := lookupSetting(settings, f.keys...)
		if !ok {
			continue
		}
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.keys[1], err)
		}
		*f.dst = val
	}

	if raw, ok := lookupSetting(settings, "seed"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		a.Seed = int64(val)
	}
	return nil
}

func applyTracing(t *TracingConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = val
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	return nil
}
