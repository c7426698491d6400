// Command cake-autorate runs one autorate control-loop instance for one
// WAN, wiring the config loader, router transport, status/metrics/debug
// surfaces, and hot-reload watcher together. Structured the way the
// teacher's main.go does: a single cobra root command, flags bound through
// viper, signal-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/galpt/cake-autorate-ctl/internal/autorate"
	"github.com/galpt/cake-autorate-ctl/internal/cakestats"
	"github.com/galpt/cake-autorate-ctl/internal/clock"
	"github.com/galpt/cake-autorate-ctl/internal/config"
	"github.com/galpt/cake-autorate-ctl/internal/confreload"
	"github.com/galpt/cake-autorate-ctl/internal/fallback"
	"github.com/galpt/cake-autorate-ctl/internal/obsmetrics"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient/rest"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient/ssh"
	"github.com/galpt/cake-autorate-ctl/internal/rttmeasure"
	"github.com/galpt/cake-autorate-ctl/internal/runner"
	"github.com/galpt/cake-autorate-ctl/internal/statsdebug"
	"github.com/galpt/cake-autorate-ctl/internal/statusweb"
	"github.com/galpt/cake-autorate-ctl/internal/tcpprobe"
	"github.com/galpt/cake-autorate-ctl/internal/wanhistory"
)

const version = "1.0.0"

var (
	configPath string
	wanName    string

	rootCmd = &cobra.Command{
		Use:     "cake-autorate",
		Short:   "Run the CAKE autorate control loop for one WAN",
		Version: version,
		RunE:    run,
	}
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "/etc/cake-autorate-ctl/autorate.yaml", "path to the autorate YAML config")
	rootCmd.Flags().StringVar(&wanName, "wan-name", "", "WAN identifier (overrides wan_name in the config file if set)")
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
	cfg, err := config.LoadAutorateConfig(configPath, wanName)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if wanName != "" {
		cfg.WANName = wanName
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(parseLogLevel(cfg.Observability.LogLevel)).
		With().Timestamp().Str("component", "cake-autorate").Logger()

	router, err := buildRouterClient(cfg.Router)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid router configuration")
	}

	clk := clock.Real()
	probeTimeout := time.Duration(cfg.CycleIntervalMs) * time.Millisecond / 2
	measurer := rttmeasure.New(tcpprobe.New(), cfg.Reflectors, cfg.MedianOfThree, probeTimeout)
	prober := fallback.NetProber{}
	fb := fallback.New(fallback.Policy(cfg.FallbackPolicy), cfg.MaxFallbackCycles, gatewayFromRouterConfig(cfg.Router), fallback.DefaultTCPTargets, probeTimeout, prober)

	statePath := fmt.Sprintf("%s/autorate_%s.json", cfg.StateDir, cfg.WANName)
	seedBaselineMs := cfg.TargetBloatMs * 2 // reasonable cold-start seed below warn_bloat_ms

	ctrl := autorate.New(*cfg, clk, measurer, fb, router, statePath, seedBaselineMs, log)

	metrics := obsmetrics.New()
	ctrl.SetMetrics(metrics)

	history := wanhistory.NewStore(cfg.Observability.HistorySize)

	lockPath := fmt.Sprintf("%s/autorate_%s.lock", cfg.LockDir, cfg.WANName)
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
		return map[string]any{
			"autorate": ctrl.Snapshot(),
			"history":  history.Snapshot(),
		}
	}), log)
	go func() {
		if err := status.Start(ctx); err != nil {
			log.Error().Err(err).Msg("status server exited with error")
		}
	}()

	reloadWatcher := confreload.New(configPath, func(path string) (confreload.MutableFields, error) {
		reloaded, err := config.LoadAutorateConfig(path, cfg.WANName)
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
		if wan == cfg.WANName {
			return cfg.DownloadQueueName, true
		}
		return "", false
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

	log.Info().Str("wan", cfg.WANName).Str("run_id", uuid.NewString()).Msg("starting autorate control loop")

	runErr := r.Run(ctx, func(cycleCtx context.Context) bool {
		ok := ctrl.RunCycle(cycleCtx)
		rec := ctrl.Snapshot()
		history.Record(cfg.WANName, wanhistory.Sample{
			Timestamp:    clk.Now(),
			RateMbps:     rec.Download.RateMbps,
			State:        rec.Download.State,
			MaxAvDelayMs: rec.LoadRTTMs - rec.BaselineRTTMs,
		})
		return ok
	}, nil)
	if runErr != nil {
		log.Error().Err(runErr).Msg("control loop exited with error")
		return runErr
	}
	return nil
}

func gatewayFromRouterConfig(r config.RouterConfig) string {
	if r.Transport == "ssh" {
		host, _, err := net.SplitHostPort(r.SSHAddr)
		if err != nil {
			return r.SSHAddr
		}
		return host
	}
	u, err := url.Parse(r.RESTBaseURL)
	if err != nil {
		return ""
	}
	if host := u.Hostname(); host != "" {
		return host
	}
	return u.Host
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
