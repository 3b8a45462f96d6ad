package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/drewbeer/polaris-gslb/internal/config"
	"github.com/drewbeer/polaris-gslb/internal/httpapi"
	"github.com/drewbeer/polaris-gslb/internal/logging"
	"github.com/drewbeer/polaris-gslb/internal/report"
	"github.com/drewbeer/polaris-gslb/internal/scheduler"
	"github.com/drewbeer/polaris-gslb/internal/state"
)

// httpDrain bounds the HTTP server drain during shutdown.
const httpDrain = 5 * time.Second

var shutdownGrace time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the health-check daemon",
	Long: `Run starts one probe loop per configured monitor plus the HTTP API
and blocks until SIGINT or SIGTERM. The first signal begins a graceful
stop that lets in-flight probes finish and report; probes still running
after the grace period, or a second signal, abandon the run.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		return runDaemon(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().DurationVar(&shutdownGrace, "grace", 10*time.Second, "how long a graceful stop waits for in-flight probes")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(parent context.Context, cfg config.Config) error {
	logger, err := logging.NewLogger(cfg.LogDir)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	runID := uuid.NewString()
	log := logger.With(zap.String("run_id", runID))

	monitors, merr := cfg.Monitors()
	for _, e := range multierr.Errors(merr) {
		log.Error("monitor_config_rejected", zap.Error(e))
	}
	if len(monitors) == 0 {
		return fmt.Errorf("no usable monitors: %w", merr)
	}

	table := state.New(runID, monitors)
	ring := report.NewRing(report.DefaultRingSize)
	sink := report.Multi{report.NewLogger(log), table, ring}

	sched, serr := scheduler.New(log, sink, monitors,
		scheduler.WithDispersion(cfg.Dispersion()),
		scheduler.WithBackoff(cfg.Backoff()),
		scheduler.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	)
	if sched.Len() == 0 {
		return fmt.Errorf("no monitor could be scheduled: %w", serr)
	}

	api := httpapi.NewServer(log, table, ring, sched, cfg.AdminKeys)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Probe loops run on their own cancel so a graceful stop can drain
	// them first and only force-cancel after the grace period.
	probeCtx, force := context.WithCancel(context.Background())
	defer force()

	grp, groupCtx := errgroup.WithContext(ctx)

	schedDone := make(chan struct{})
	grp.Go(func() error {
		defer close(schedDone)
		if err := sched.Run(probeCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	grp.Go(func() error {
		log.Info("api_listen", zap.String("addr", cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		<-groupCtx.Done()
		// Restore the default signal disposition so a second SIGINT or
		// SIGTERM kills the process instead of waiting out the grace.
		stop()

		drainCtx, cancel := context.WithTimeout(context.Background(), httpDrain)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			log.Warn("api_shutdown_error", zap.Error(err))
		}

		sched.Shutdown()
		select {
		case <-schedDone:
		case <-time.After(shutdownGrace):
			log.Warn("shutdown_grace_expired", zap.Duration("grace", shutdownGrace))
			force()
		}
		return nil
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("daemon_failed", zap.Error(err))
		return err
	}
	log.Info("daemon_stopped")
	return nil
}
