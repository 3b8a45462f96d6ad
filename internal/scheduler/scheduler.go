package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/drewbeer/polaris-gslb/internal/domain"
	"github.com/drewbeer/polaris-gslb/internal/probe"
	"github.com/drewbeer/polaris-gslb/internal/report"
)

// ErrUnknownMonitor is returned by Kick for names that were never scheduled.
var ErrUnknownMonitor = errors.New("unknown monitor")

// Per-monitor run states. A monitor moves idle -> running -> idle until
// shutdown parks it at stopped.
const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

func stateName(s int32) string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	default:
		return "stopped"
	}
}

type entry struct {
	mon    domain.Monitor
	prober probe.Prober
	state  atomic.Int32
	kick   chan struct{}
}

// Scheduler runs one probe loop per monitor. A loop fires on its interval,
// re-armed from the completion of the previous run, or on a manual kick. A
// trigger that lands while the monitor is mid-run is skipped and logged,
// never queued.
type Scheduler struct {
	log      *zap.Logger
	reporter report.Reporter

	entries []*entry
	byName  map[string]*entry

	dispersion time.Duration
	backoff    time.Duration
	limiter    *rate.Limiter

	quit     chan struct{}
	stopOnce sync.Once
}

type Option func(*Scheduler)

// WithDispersion spreads first runs over a random delay inside the window,
// so a restart does not slam every target at the same instant. Zero (the
// default) disables the jitter; each monitor then waits one full interval
// before its first run.
func WithDispersion(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.dispersion = d
		}
	}
}

// WithBackoff sets the pause between retry attempts within one run.
func WithBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// WithRateLimit caps probe runs per second across all monitors. Zero or
// negative disables the cap.
func WithRateLimit(runsPerSecond float64, burst int) Option {
	return func(s *Scheduler) {
		if runsPerSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(runsPerSecond), burst)
	}
}

// New builds one loop per monitor. A monitor whose prober cannot be built is
// rejected on its own: it is reported once as unhealthy, the others keep
// working, and the folded construction errors go back to the caller.
func New(log *zap.Logger, rep report.Reporter, monitors []domain.Monitor, opts ...Option) (*Scheduler, error) {
	return newScheduler(log, rep, monitors, probe.New, opts...)
}

func newScheduler(log *zap.Logger, rep report.Reporter, monitors []domain.Monitor,
	build func(domain.Monitor) (probe.Prober, error), opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		log:      log,
		reporter: rep,
		byName:   make(map[string]*entry, len(monitors)),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	var errs error
	for _, m := range monitors {
		if _, dup := s.byName[m.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("monitor %q: duplicate name", m.Name))
			continue
		}
		p, err := build(m)
		if err != nil {
			errs = multierr.Append(errs, err)
			s.log.Error("monitor_rejected", zap.String("monitor", m.Name), zap.Error(err))
			s.report(domain.Verdict{
				Monitor:   m.Name,
				Target:    m.Target,
				Last:      domain.Outcome{ExitCode: -1, Message: err.Error(), Err: err},
				CheckedAt: time.Now(),
			})
			continue
		}
		e := &entry{mon: m, prober: p, kick: make(chan struct{}, 1)}
		s.entries = append(s.entries, e)
		s.byName[m.Name] = e
	}
	return s, errs
}

// Run blocks until every monitor loop has stopped, either because ctx was
// cancelled (forced, abandons in-flight work) or because Shutdown was called
// (graceful, lets running attempts finish and report).
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler_started",
		zap.Int("monitors", len(s.entries)),
		zap.Duration("dispersion", s.dispersion))

	var wg sync.WaitGroup
	for _, e := range s.entries {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runMonitor(ctx, e)
		}()
	}
	wg.Wait()

	s.log.Info("scheduler_stopped")
	return ctx.Err()
}

func (s *Scheduler) runMonitor(ctx context.Context, e *entry) {
	defer e.state.Store(stateStopped)

	// The first run waits a full interval unless a dispersion window pulls
	// it earlier by a random amount.
	delay := e.mon.Interval
	if s.dispersion > 0 {
		delay = time.Duration(rand.Int63n(int64(s.dispersion)))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	log := s.log.With(zap.String("monitor", e.mon.Name), zap.String("target", e.mon.Target))
	log.Info("monitor_armed",
		zap.Duration("first_delay", delay),
		zap.Duration("interval", e.mon.Interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("monitor_stopped", zap.String("cause", "cancelled"))
			return
		case <-s.quit:
			log.Info("monitor_stopped", zap.String("cause", "shutdown"))
			return
		case <-timer.C:
			s.execute(ctx, e, log, "interval")
		case <-e.kick:
			s.execute(ctx, e, log, "kick")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		// the next interval counts from completion, not from the last fire
		timer.Reset(e.mon.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, e *entry, log *zap.Logger, trigger string) {
	// The loop select can pick a ready timer over a closed quit channel; no
	// new run may start once shutdown has begun.
	select {
	case <-s.quit:
		return
	case <-ctx.Done():
		return
	default:
	}

	if !e.state.CompareAndSwap(stateIdle, stateRunning) {
		log.Info("run_skipped",
			zap.String("trigger", trigger),
			zap.String("state", stateName(e.state.Load())))
		return
	}
	defer e.state.CompareAndSwap(stateRunning, stateIdle)

	if s.limiter != nil {
		if err := s.waitLimiter(ctx); err != nil {
			return
		}
	}

	r := &probe.Retrier{Monitor: e.mon, Prober: e.prober, Backoff: s.backoff, Quit: s.quit}
	v := r.Run(ctx)
	if ctx.Err() != nil {
		log.Debug("verdict_discarded", zap.String("cause", "cancelled"))
		return
	}
	s.report(v)

	// a kick that landed during this run is dropped, not queued
	select {
	case <-e.kick:
		log.Info("run_skipped", zap.String("trigger", "kick"), zap.String("state", "running"))
	default:
	}

	log.Debug("run_finished",
		zap.String("trigger", trigger),
		zap.Bool("healthy", v.Healthy),
		zap.Int("attempts", v.Attempts),
		zap.Duration("elapsed", v.Last.Elapsed))
}

// waitLimiter blocks on the shared rate limiter until a slot frees up, ctx
// is cancelled, or shutdown begins.
func (s *Scheduler) waitLimiter(ctx context.Context) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-wctx.Done():
		}
	}()
	return s.limiter.Wait(wctx)
}

func (s *Scheduler) report(v domain.Verdict) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.Report(v); err != nil {
		s.log.Warn("verdict_report_error", zap.String("monitor", v.Monitor), zap.Error(err))
	}
}

// Len reports how many monitors the scheduler is driving.
func (s *Scheduler) Len() int {
	return len(s.entries)
}

// Kick schedules an immediate run for one monitor. It reports false when
// the kick was dropped because the monitor is mid-run or stopped.
func (s *Scheduler) Kick(name string) (bool, error) {
	e, ok := s.byName[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownMonitor, name)
	}
	if st := e.state.Load(); st != stateIdle {
		s.log.Info("kick_skipped",
			zap.String("monitor", name),
			zap.String("state", stateName(st)))
		return false, nil
	}
	select {
	case e.kick <- struct{}{}:
	default:
		// a run is already pending, nothing to add
	}
	return true, nil
}

// Shutdown asks every loop to stop once its current attempt finishes. Safe
// to call more than once.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.log.Info("scheduler_shutdown")
		close(s.quit)
	})
}

// RunOnce probes every monitor once, concurrently, and returns the verdicts
// in construction order. The reporter sees them exactly like scheduled runs.
func (s *Scheduler) RunOnce(ctx context.Context) []domain.Verdict {
	out := make([]domain.Verdict, len(s.entries))
	var wg sync.WaitGroup
	for i, e := range s.entries {
		i, e := i, e
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = s.runOne(ctx, e)
		}()
	}
	wg.Wait()
	return out
}

func (s *Scheduler) runOne(ctx context.Context, e *entry) domain.Verdict {
	if s.limiter != nil {
		if err := s.waitLimiter(ctx); err != nil {
			return domain.Verdict{
				Monitor:   e.mon.Name,
				Target:    e.mon.Target,
				Last:      domain.Outcome{ExitCode: -1, Message: "cancelled before the probe ran"},
				CheckedAt: time.Now(),
			}
		}
	}
	r := &probe.Retrier{Monitor: e.mon, Prober: e.prober, Backoff: s.backoff, Quit: s.quit}
	v := r.Run(ctx)
	if ctx.Err() == nil {
		s.report(v)
	}
	return v
}
