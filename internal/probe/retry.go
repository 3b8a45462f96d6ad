package probe

import (
	"context"
	"time"

	"github.com/drewbeer/polaris-gslb/internal/domain"
)

const (
	// DefaultBackoff separates consecutive attempts against the same target.
	DefaultBackoff = 300 * time.Millisecond

	minBackoff = 5 * time.Millisecond
)

// Retrier runs a prober up to Retries+1 times and folds the series into a
// single verdict. The first healthy outcome ends the series; otherwise the
// verdict carries the last outcome observed.
type Retrier struct {
	Monitor domain.Monitor
	Prober  Prober
	Backoff time.Duration

	// Quit stops the series between attempts without cutting off the
	// attempt in flight. Cancelling ctx aborts the attempt itself.
	Quit <-chan struct{}
}

// Run executes the attempt series. Each attempt gets its own deadline from
// the monitor's timeout, so one slow attempt cannot eat the next one's
// budget.
func (r *Retrier) Run(ctx context.Context) domain.Verdict {
	backoff := r.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	} else if backoff < minBackoff {
		backoff = minBackoff
	}

	attempts := r.Monitor.Attempts()
	var last domain.Outcome
	made := 0
	for i := 0; i < attempts; i++ {
		last = r.attempt(ctx)
		made++
		if last.Healthy || i == attempts-1 {
			break
		}
		if !r.wait(ctx, backoff) {
			break
		}
	}

	return domain.Verdict{
		Monitor:   r.Monitor.Name,
		Target:    r.Monitor.Target,
		Healthy:   last.Healthy,
		Attempts:  made,
		Last:      last,
		CheckedAt: time.Now(),
	}
}

func (r *Retrier) attempt(ctx context.Context) domain.Outcome {
	if d := r.Monitor.Timeout; d > 0 {
		actx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return r.Prober.Probe(actx)
	}
	return r.Prober.Probe(ctx)
}

// wait sleeps for the backoff and reports whether the series should go on.
func (r *Retrier) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.Quit:
		return false
	case <-t.C:
		return true
	}
}
