package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/drewbeer/polaris-gslb/internal/domain"
	"github.com/drewbeer/polaris-gslb/internal/logging"
	"github.com/drewbeer/polaris-gslb/internal/report"
	"github.com/drewbeer/polaris-gslb/internal/scheduler"
	"github.com/drewbeer/polaris-gslb/internal/state"
)

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every monitor once and exit",
	Long: `Check runs a single probe round over the configured monitors and
prints one line per verdict. The exit status is 0 when every monitor came
back healthy, 1 when any came back unhealthy or could not be probed, and
2 when the configuration could not be loaded at all.`,
	Run: func(cmd *cobra.Command, _ []string) {
		os.Exit(runCheck(cmd.Context(), cmd))
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print verdicts as JSON")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(parent context.Context, cmd *cobra.Command) int {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "✖", err)
		return 2
	}

	log := logging.NewConsole(verbose)
	defer log.Sync()

	monitors, merr := cfg.Monitors()
	for _, e := range multierr.Errors(merr) {
		fmt.Fprintln(os.Stderr, "✖", e)
	}
	if len(monitors) == 0 {
		fmt.Fprintln(os.Stderr, "✖ no usable monitors")
		return 2
	}

	table := state.New(uuid.NewString(), monitors)
	sink := report.Multi{report.NewLogger(log), table}

	// Dispersion would only delay a one-shot round; probes start at once.
	sched, serr := scheduler.New(log, sink, monitors,
		scheduler.WithDispersion(0),
		scheduler.WithBackoff(cfg.Backoff()),
		scheduler.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	)
	if sched.Len() == 0 {
		fmt.Fprintln(os.Stderr, "✖ no monitor could be probed:", serr)
		return 2
	}
	rejected := len(monitors) - sched.Len()

	verdicts := sched.RunOnce(ctx)

	if checkJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(verdicts); err != nil {
			fmt.Fprintln(os.Stderr, "✖", err)
			return 2
		}
	} else {
		printVerdicts(verdicts)
	}

	exit := 0
	for _, v := range verdicts {
		if !v.Healthy {
			exit = 1
		}
	}
	if merr != nil || rejected > 0 {
		exit = 1
	}
	return exit
}

func printVerdicts(verdicts []domain.Verdict) {
	nameW, targetW := 0, 0
	for _, v := range verdicts {
		nameW = max(nameW, len(v.Monitor))
		targetW = max(targetW, len(v.Target))
	}
	for _, v := range verdicts {
		mark, out := "✔", os.Stdout
		if !v.Healthy {
			mark, out = "✖", os.Stderr
		}
		fmt.Fprintf(out, "%s %-*s %-*s attempts=%d elapsed=%s %s\n",
			mark, nameW, v.Monitor, targetW, v.Target, v.Attempts,
			v.Last.Elapsed.Round(time.Millisecond), v.Last.Message)
	}
}
