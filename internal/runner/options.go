package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/walletload/internal/agent"
	"github.com/torosent/walletload/internal/metrics"
	"github.com/torosent/walletload/internal/schedule"
	"github.com/torosent/walletload/internal/wallet"
)

const DefaultGracePeriod = 10 * time.Second

// ErrConfiguration matches every *ConfigurationError through errors.Is.
var ErrConfiguration = errors.New("invalid run configuration")

// ErrStopped is the cancellation cause set by Runner.Stop.
var ErrStopped = errors.New("run stopped")

// ConfigurationError lists everything wrong with Options. Nothing is
// scheduled when Run returns it.
type ConfigurationError struct {
	issues []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrConfiguration, strings.Join(e.issues, "; "))
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigurationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Options configure one test run. They are copied by New and never mutated.
type Options struct {
	Phases           []schedule.Phase
	Concurrency      int           // ceiling on simultaneously running wallets
	MaxDuration      time.Duration // global guard; 0 disables it
	GracePeriod      time.Duration // how long cancelled runs get to wind down
	Wallet           wallet.Config
	Agents           agent.Factory
	Aggregator       *metrics.Aggregator // shared across runs when set; each Run creates its own when nil
	Sink             metrics.Sink        // extra sink fed alongside the aggregator
	Logger           *logrus.Logger
	ProgressInterval time.Duration // structured progress logging; 0 disables it
	RunID            string        // generated when empty
}

func (o *Options) normalize() {
	if o.GracePeriod == 0 {
		o.GracePeriod = DefaultGracePeriod
	}
}

func (o Options) validate() error {
	var issues []string
	if err := schedule.Validate(o.Phases); err != nil {
		var verr schedule.ValidationError
		if errors.As(err, &verr) {
			issues = append(issues, verr.Issues()...)
		} else {
			issues = append(issues, err.Error())
		}
	}
	if o.Concurrency < 1 {
		issues = append(issues, "concurrency must be >= 1")
	}
	if o.MaxDuration < 0 {
		issues = append(issues, "max duration must be >= 0")
	}
	if o.GracePeriod < 0 {
		issues = append(issues, "grace period must be >= 0")
	}
	if o.Agents == nil {
		issues = append(issues, "an agent factory is required")
	}
	if strings.TrimSpace(o.Wallet.Invitation) == "" {
		issues = append(issues, "invitation is required")
	}
	t := o.Wallet.Timeouts
	if t.Connect < 0 || t.Mediation < 0 || t.Pickup < 0 || t.Teardown < 0 {
		issues = append(issues, "stage timeouts must be >= 0")
	}
	r := o.Wallet.Retry
	if r.MaxAttempts < 0 || r.BaseDelay < 0 || r.MaxDelay < 0 || r.Multiplier < 0 {
		issues = append(issues, "retry settings must be >= 0")
	}
	if len(issues) > 0 {
		return &ConfigurationError{issues: issues}
	}
	return nil
}
