package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/torosent/walletload/internal/agent"
	"github.com/torosent/walletload/internal/config"
	"github.com/torosent/walletload/internal/logging"
	"github.com/torosent/walletload/internal/metrics"
	"github.com/torosent/walletload/internal/output"
	"github.com/torosent/walletload/internal/runner"
	"github.com/torosent/walletload/internal/threshold"
	"github.com/torosent/walletload/internal/tracing"
	"github.com/torosent/walletload/internal/wallet"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
	metricsNamespace = "walletload"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	log := logging.Component(logger, "main")
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	agents, err := newAgentFactory(cfg)
	if err != nil {
		return err
	}

	agg := metrics.NewAggregator()
	var extra metrics.Sink
	if cfg.MetricsListen != "" {
		reg := prometheus.NewRegistry()
		promSink, err := metrics.NewPrometheusSink(reg, metricsNamespace)
		if err != nil {
			return err
		}
		srv, err := serveMetrics(cfg.MetricsListen, reg, log)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		extra = promSink
	}

	if inv, err := config.ParseInvitation(cfg.Invitation); err == nil {
		log.WithFields(logrus.Fields{
			"kind":     inv.Kind,
			"label":    inv.Label,
			"endpoint": inv.Endpoint,
		}).Debug("invitation")
	}

	opts := runner.Options{
		Phases:      cfg.SchedulePhases(),
		Concurrency: cfg.Concurrency,
		MaxDuration: cfg.MaxDuration,
		GracePeriod: cfg.GracePeriod,
		Wallet: wallet.Config{
			Invitation: cfg.Invitation,
			Connect:    cfg.ConnectOptions(),
			Timeouts: wallet.Timeouts{
				Connect:   cfg.Timeouts.Connect,
				Mediation: cfg.Timeouts.Mediation,
				Pickup:    cfg.Timeouts.Pickup,
				Teardown:  cfg.Timeouts.Teardown,
			},
			Retry:  cfg.RetryPolicy(),
			Tracer: provider.Tracer(),
		},
		Agents:     agents,
		Aggregator: agg,
		Sink:       extra,
		Logger:     logger,
	}

	// Interactive runs get a redrawn status line; everything else gets
	// structured progress records through the logger.
	var progress *output.ProgressReporter
	if cfg.ProgressInterval > 0 {
		if !cfg.JSONOutput && cfg.LogFormat != "json" {
			progress = output.NewProgressReporter(agg, progressInterval, stdout)
		} else {
			opts.ProgressInterval = cfg.ProgressInterval
		}
	}

	r := runner.New(opts)
	if progress != nil {
		progress.Start()
	}
	res, err := r.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	results := threshold.NewEvaluator(thresholds).Evaluate(res.Snapshot, res.Duration())
	rep := output.NewReport(res, results)

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, rep); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, rep)
	}

	if cfg.OutputFile != "" {
		if err := output.WriteResultFile(cfg.OutputFile, rep); err != nil {
			return err
		}
		log.WithField("path", cfg.OutputFile).Info("result written")
	}

	if res.Incomplete() {
		return fmt.Errorf("run incomplete: %d of %d scheduled wallets did not finish",
			res.TotalScheduled-res.TotalCompleted-res.TotalFailed, res.TotalScheduled)
	}
	if !rep.ThresholdsPassed {
		failed := 0
		for _, tr := range results {
			if !tr.Pass {
				failed++
			}
		}
		return fmt.Errorf("%d of %d thresholds failed", failed, len(results))
	}
	return nil
}

func newAgentFactory(cfg *config.Config) (agent.Factory, error) {
	switch cfg.Agent.Kind {
	case "", config.AgentKindSimulated:
		return agent.NewSimulatedFactory(cfg.SimulatedAgent()), nil
	default:
		return nil, fmt.Errorf("unsupported agent kind %q", cfg.Agent.Kind)
	}
}

// serveMetrics binds addr before returning so a bad address fails the run
// instead of a background goroutine.
func serveMetrics(addr string, reg *prometheus.Registry, log *logrus.Entry) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving prometheus metrics")
	return srv, nil
}
