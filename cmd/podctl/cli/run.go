package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loopwire/podcore/cmd/podctl/interactive"
	"github.com/loopwire/podcore/pkg/log"
	"github.com/loopwire/podcore/pkg/podsim"
	"github.com/loopwire/podcore/pkg/service"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ProtocolLog    string
	MetricsAddr    string
	NonInteractive bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine against a simulated pod",
		Long: `Start the command engine with a simulated pod and an interactive shell.

State is loaded from the store; a command left pending by a previous run
is resumed as uncertain and recovery starts probing the pod.

Example:
  podctl run --store ./podcore.db --protocol-log pod.plog
  podctl run -c podctl.yaml --metrics-addr :9090`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ProtocolLog, "protocol-log", "", "write a CBOR protocol log to this file")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.NonInteractive, "no-shell", false, "run without the interactive shell until interrupted")

	return cmd
}

func runEngine(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.ProtocolLog != "" {
		cfg.ProtocolLog = opts.ProtocolLog
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}

	level, err := ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logOut := &switchWriter{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var plogs []log.Logger
	if level <= slog.LevelDebug {
		plogs = append(plogs, log.NewSlogAdapter(logger))
	}
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer func() {
			if n := fl.Errors(); n > 0 {
				logger.Warn("protocol log dropped events", "count", n)
			}
			fl.Close()
		}()
		plogs = append(plogs, fl)
		logger.Info("protocol logging enabled", "path", cfg.ProtocolLog)
	}

	registry := prometheus.NewRegistry()
	svcCfg := cfg.Service
	svcCfg.Logger = logger
	svcCfg.Registerer = registry
	svcCfg.HistoryReporter = store.Reporter()
	if len(plogs) > 0 {
		svcCfg.ProtocolLogger = log.NewMultiLogger(plogs...)
	}

	sim := podsim.New(cfg.SimConfig())
	svc, err := service.New(sim, store, svcCfg)
	switch {
	case errors.Is(err, service.ErrMalformedPersistedState):
		logger.Warn("discarded malformed state, pair a new pod", "error", err)
	case err != nil:
		return err
	}
	defer svc.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	logger.Info("engine started", "identity", svc.Identity().String(), "session_id", svc.SessionID())

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr, registry, logger)
		})
	}

	if opts.NonInteractive {
		fmt.Fprintln(cmd.OutOrStdout(), "Engine running. Press Ctrl-C to stop.")
		<-ctx.Done()
	} else {
		shell, err := interactive.New(svc, sim)
		if err != nil {
			return err
		}
		logOut.Set(shell.Stderr())
		shell.Run(ctx, cancel)
		logOut.Set(os.Stderr)
	}

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("engine stopped")
	return nil
}

// serveMetrics serves /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// switchWriter lets log output move to the shell once it owns the terminal.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
