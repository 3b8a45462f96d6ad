package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/drewbeer/polaris-gslb/internal/domain"
	"github.com/drewbeer/polaris-gslb/internal/probe"
)

// --- fakes ---

type fakeProber struct {
	mu      sync.Mutex
	calls   int
	healthy bool
}

func (f *fakeProber) Probe(ctx context.Context) domain.Outcome {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return domain.Outcome{Healthy: f.healthy, Message: "fake"}
}

func (f *fakeProber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// blockingProber parks until the test releases it.
type blockingProber struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingProber() *blockingProber {
	return &blockingProber{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (p *blockingProber) Probe(ctx context.Context) domain.Outcome {
	p.started <- struct{}{}
	select {
	case <-p.release:
		return domain.Outcome{Healthy: true, Message: "released"}
	case <-ctx.Done():
		return domain.Outcome{Message: "cancelled"}
	}
}

type captureReporter struct {
	mu  sync.Mutex
	got []domain.Verdict
}

func (c *captureReporter) Report(v domain.Verdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, v)
	return nil
}

func (c *captureReporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *captureReporter) all() []domain.Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Verdict, len(c.got))
	copy(out, c.got)
	return out
}

// waitFor polls until the reporter has seen n verdicts or the deadline hits.
func (c *captureReporter) waitFor(t *testing.T, n int, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if c.count() >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("want %d verdicts within %v, got %d", n, within, c.count())
}

func testMonitor(name string, interval time.Duration) domain.Monitor {
	return domain.Monitor{
		Name:     name,
		Target:   "10.9.9.9",
		Type:     domain.TypeTCP,
		Interval: interval,
		Timeout:  5 * time.Second,
		TCP:      &domain.TCPParams{Port: 9},
	}
}

func buildWith(p probe.Prober) func(domain.Monitor) (probe.Prober, error) {
	return func(domain.Monitor) (probe.Prober, error) { return p, nil }
}

// --- tests ---

func TestScheduler_PeriodicRuns(t *testing.T) {
	f := &fakeProber{healthy: true}
	rep := &captureReporter{}
	s, err := newScheduler(zap.NewNop(), rep,
		[]domain.Monitor{testMonitor("web", 20*time.Millisecond)},
		buildWith(f), WithDispersion(0))
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	rep.waitFor(t, 3, 3*time.Second)
	cancel()
	<-done

	for _, v := range rep.all() {
		if v.Monitor != "web" || !v.Healthy || v.Attempts != 1 {
			t.Fatalf("unexpected verdict: %+v", v)
		}
	}
	if f.count() < 3 {
		t.Fatalf("want at least 3 probe runs, got %d", f.count())
	}
}

func TestScheduler_FirstRunWaitsOneInterval(t *testing.T) {
	f := &fakeProber{healthy: true}
	rep := &captureReporter{}
	s, err := newScheduler(zap.NewNop(), rep,
		[]domain.Monitor{testMonitor("web", 250*time.Millisecond)},
		buildWith(f), WithDispersion(0))
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	if got := rep.count(); got != 0 {
		t.Fatalf("no run may start before the first interval elapses, got %d", got)
	}
	rep.waitFor(t, 1, 2*time.Second)
	cancel()
	<-done
}

func TestScheduler_KickWhileRunningIsSkipped(t *testing.T) {
	p := newBlockingProber()
	rep := &captureReporter{}
	s, err := newScheduler(zap.NewNop(), rep,
		[]domain.Monitor{testMonitor("slow", time.Hour)},
		buildWith(p), WithDispersion(time.Millisecond))
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-p.started // the dispersed first run is now in flight

	ok, err := s.Kick("slow")
	if err != nil {
		t.Fatalf("kick: %v", err)
	}
	if ok {
		t.Fatalf("kick during a run must be skipped, not queued")
	}

	close(p.release)
	rep.waitFor(t, 1, 2*time.Second)
	cancel()
	<-done

	if got := rep.count(); got != 1 {
		t.Fatalf("the skipped kick must not produce a second run, got %d verdicts", got)
	}
}

func TestScheduler_KickIdleTriggersRun(t *testing.T) {
	f := &fakeProber{healthy: true}
	rep := &captureReporter{}
	s, err := newScheduler(zap.NewNop(), rep,
		[]domain.Monitor{testMonitor("web", time.Hour)},
		buildWith(f), WithDispersion(time.Millisecond))
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	rep.waitFor(t, 1, 2*time.Second) // dispersed first run

	// the first run may still be winding down, so retry until idle
	var ok bool
	deadline := time.Now().Add(2 * time.Second)
	for !ok && time.Now().Before(deadline) {
		ok, err = s.Kick("web")
		if err != nil {
			t.Fatalf("kick: %v", err)
		}
		if !ok {
			time.Sleep(2 * time.Millisecond)
		}
	}
	if !ok {
		t.Fatalf("kick on an idle monitor should be accepted")
	}
	rep.waitFor(t, 2, 2*time.Second)

	cancel()
	<-done
}

func TestScheduler_KickUnknownMonitor(t *testing.T) {
	s, err := newScheduler(zap.NewNop(), &captureReporter{}, nil, buildWith(&fakeProber{}))
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}
	if _, err := s.Kick("ghost"); !errors.Is(err, ErrUnknownMonitor) {
		t.Fatalf("want ErrUnknownMonitor, got %v", err)
	}
}

func TestScheduler_GracefulShutdownFinishesAttempt(t *testing.T) {
	p := newBlockingProber()
	rep := &captureReporter{}
	s, err := newScheduler(zap.NewNop(), rep,
		[]domain.Monitor{testMonitor("slow", time.Hour)},
		buildWith(p), WithDispersion(time.Millisecond))
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	<-p.started
	s.Shutdown()
	close(p.release) // the in-flight attempt now completes

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("graceful stop should not surface an error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduler did not stop after shutdown")
	}

	if rep.count() != 1 {
		t.Fatalf("the finished attempt must still be reported, got %d", rep.count())
	}
	if v := rep.all()[0]; !v.Healthy {
		t.Fatalf("want the completed verdict, got %+v", v)
	}
}

func TestScheduler_ForcedCancelAbandonsRun(t *testing.T) {
	p := newBlockingProber()
	rep := &captureReporter{}
	s, err := newScheduler(zap.NewNop(), rep,
		[]domain.Monitor{testMonitor("slow", time.Hour)},
		buildWith(p), WithDispersion(time.Millisecond))
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-p.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled from a forced stop, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduler did not stop after cancel")
	}

	if rep.count() != 0 {
		t.Fatalf("abandoned runs must not report, got %d verdicts", rep.count())
	}
}

func TestScheduler_RejectedMonitorReportedOnce(t *testing.T) {
	rep := &captureReporter{}
	build := func(m domain.Monitor) (probe.Prober, error) {
		if m.Name == "bad" {
			return nil, fmt.Errorf("monitor %q: missing params", m.Name)
		}
		return &fakeProber{healthy: true}, nil
	}
	s, err := newScheduler(zap.NewNop(), rep, []domain.Monitor{
		testMonitor("good", time.Hour),
		testMonitor("bad", time.Hour),
	}, build)
	if err == nil {
		t.Fatalf("want a construction error for the bad monitor")
	}

	if rep.count() != 1 {
		t.Fatalf("want exactly one rejection verdict, got %d", rep.count())
	}
	v := rep.all()[0]
	if v.Monitor != "bad" || v.Healthy || v.Attempts != 0 {
		t.Fatalf("unexpected rejection verdict: %+v", v)
	}

	if _, err := s.Kick("bad"); !errors.Is(err, ErrUnknownMonitor) {
		t.Fatalf("rejected monitor must not be scheduled, got %v", err)
	}
	if _, err := s.Kick("good"); err != nil {
		t.Fatalf("healthy sibling must stay scheduled, got %v", err)
	}
}

func TestScheduler_DuplicateNamesRejected(t *testing.T) {
	_, err := newScheduler(zap.NewNop(), &captureReporter{}, []domain.Monitor{
		testMonitor("dup", time.Hour),
		testMonitor("dup", time.Hour),
	}, buildWith(&fakeProber{}))
	if err == nil {
		t.Fatalf("want duplicate name error")
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	rep := &captureReporter{}
	build := func(m domain.Monitor) (probe.Prober, error) {
		return &fakeProber{healthy: m.Name == "up"}, nil
	}
	s, err := newScheduler(zap.NewNop(), rep, []domain.Monitor{
		testMonitor("up", time.Hour),
		testMonitor("down", time.Hour),
	}, build, WithRateLimit(1000, 10))
	if err != nil {
		t.Fatalf("newScheduler: %v", err)
	}

	vs := s.RunOnce(context.Background())
	if len(vs) != 2 {
		t.Fatalf("want one verdict per monitor, got %d", len(vs))
	}
	if vs[0].Monitor != "up" || !vs[0].Healthy {
		t.Fatalf("want ordered healthy verdict first, got %+v", vs[0])
	}
	if vs[1].Monitor != "down" || vs[1].Healthy {
		t.Fatalf("want unhealthy verdict second, got %+v", vs[1])
	}
	if rep.count() != 2 {
		t.Fatalf("one-shot runs must report too, got %d", rep.count())
	}
}
