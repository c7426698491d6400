// Command cake-steer runs the steering control loop that fails over
// between a primary and alternate WAN based on the primary's congestion
// signal. It never shares memory with cake-autorate: it reads the
// primary's persisted baseline file and runs its own independent
// status/metrics/debug surfaces on their own configured ports.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/galpt/cake-autorate-ctl/internal/cakestats"
	"github.com/galpt/cake-autorate-ctl/internal/clock"
	"github.com/galpt/cake-autorate-ctl/internal/config"
	"github.com/galpt/cake-autorate-ctl/internal/confreload"
	"github.com/galpt/cake-autorate-ctl/internal/obsmetrics"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient/rest"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient/ssh"
	"github.com/galpt/cake-autorate-ctl/internal/rttmeasure"
	"github.com/galpt/cake-autorate-ctl/internal/runner"
	"github.com/galpt/cake-autorate-ctl/internal/statsdebug"
	"github.com/galpt/cake-autorate-ctl/internal/statusweb"
	"github.com/galpt/cake-autorate-ctl/internal/steering"
	"github.com/galpt/cake-autorate-ctl/internal/tcpprobe"
)

const version = "1.0.0"

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:     "cake-steer",
		Short:   "Run the primary/alternate WAN steering control loop",
		Version: version,
		RunE:    run,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "/etc/cake-autorate-ctl/steering.yaml", "path to the steering YAML config")
}

func buildRouterClient(r config.RouterConfig) (routerclient.Client, error) {
	switch r.Transport {
	case "rest":
		return rest.New(r.RESTBaseURL, r.RESTUsername, r.RESTPassword, time.Duration(r.RESTTimeoutMs)*time.Millisecond), nil
	case "ssh":
		return ssh.New(r.SSHAddr, r.SSHUsername, r.SSHPassword, time.Duration(r.SSHTimeoutMs)*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown router transport %q", r.Transport)
	}
}

func parseLogLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadSteeringConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(parseLogLevel(cfg.Observability.LogLevel)).
		With().Timestamp().Str("component", "cake-steer").Logger()

	router, err := buildRouterClient(cfg.Router)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid router configuration")
	}

	clk := clock.Real()
	probeTimeout := time.Duration(cfg.CycleIntervalMs) * time.Millisecond / 2
	measurer := rttmeasure.New(tcpprobe.New(), cfg.Reflectors, cfg.MedianOfThree, probeTimeout)

	statePath := fmt.Sprintf("%s/steering_%s.json", cfg.StateDir, cfg.PrimaryWAN)
	if cfg.PrimaryStatePath == "" {
		cfg.PrimaryStatePath = fmt.Sprintf("%s/autorate_%s.json", cfg.StateDir, cfg.PrimaryWAN)
	}

	ctrl := steering.New(*cfg, clk, measurer, router, statePath, log)

	metrics := obsmetrics.New()
	ctrl.SetMetrics(metrics)

	lockPath := fmt.Sprintf("%s/steering_%s.lock", cfg.LockDir, cfg.PrimaryWAN)
	r, err := runner.New(clk, lockPath, 2*time.Duration(cfg.CycleIntervalMs)*time.Millisecond, time.Duration(cfg.CycleIntervalMs)*time.Millisecond, 3)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to acquire control-loop lock")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		r.Cancel()
		cancel()
	}()

	status := statusweb.New(cfg.Observability.StatusAddr, statusweb.ProviderFunc(func() any {
		return ctrl.Snapshot()
	}), log)
	go func() {
		if err := status.Start(ctx); err != nil {
			log.Error().Err(err).Msg("status server exited with error")
		}
	}()

	reloadWatcher := confreload.New(configPath, func(path string) (confreload.MutableFields, error) {
		reloaded, err := config.LoadSteeringConfig(path)
		if err != nil {
			return confreload.MutableFields{}, err
		}
		return confreload.MutableFields{Reflectors: reloaded.Reflectors, LogLevel: reloaded.Observability.LogLevel}, nil
	}, func(fields confreload.MutableFields) {
		measurer.SetReflectors(fields.Reflectors)
		log.Info().Strs("reflectors", fields.Reflectors).Msg("reflectors reloaded")
	}, log, 0)
	reloadStop := make(chan struct{})
	go func() {
		if err := reloadWatcher.Run(reloadStop); err != nil {
			log.Warn().Err(err).Msg("config reload watcher stopped")
		}
	}()
	defer close(reloadStop)

	metricsSrv := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server exited with error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsSrv.Shutdown(shutdownCtx)
	}()

	debugSrv := statsdebug.New(cakestats.New(router), func(wan string) (string, bool) {
		switch wan {
		case cfg.PrimaryWAN:
			return cfg.PrimaryDownloadQueue, true
		default:
			return "", false
		}
	})
	go func() {
		if err := debugSrv.Listen(cfg.Observability.DebugAddr); err != nil {
			log.Debug().Err(err).Msg("debug server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		debugSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("primary_wan", cfg.PrimaryWAN).Str("alternate_wan", cfg.AlternateWAN).Str("run_id", uuid.NewString()).Msg("starting steering control loop")

	watchdog := func() {
		if ctrl.CakeDegradedWarning() {
			log.Warn().Msg("CAKE stats reads have been failing for an extended period")
		}
	}

	if err := r.Run(ctx, ctrl.RunCycle, watchdog); err != nil {
		log.Error().Err(err).Msg("control loop exited with error")
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
