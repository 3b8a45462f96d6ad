package report

import (
	"sync"

	"github.com/drewbeer/polaris-gslb/internal/domain"
)

// DefaultRingSize holds roughly the last few minutes of verdicts for a
// normal fleet without growing without bound.
const DefaultRingSize = 1024

// Ring keeps the most recent verdicts in memory for the status API. When
// full it overwrites the oldest entry; Report never blocks and never fails.
type Ring struct {
	mu        sync.Mutex
	buf       []domain.Verdict
	next      int
	size      int
	overwrote uint64
}

var _ Reporter = (*Ring)(nil)

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultRingSize
	}
	return &Ring{buf: make([]domain.Verdict, capacity)}
}

func (r *Ring) Report(v domain.Verdict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == len(r.buf) {
		r.overwrote++
	} else {
		r.size++
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	return nil
}

// Recent returns up to n verdicts, newest first. n <= 0 means all held.
func (r *Ring) Recent(n int) []domain.Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]domain.Verdict, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + 2*len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Overwrote reports how many verdicts have been pushed out of the ring.
func (r *Ring) Overwrote() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overwrote
}
