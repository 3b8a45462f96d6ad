package state

import (
	"sort"
	"sync"
	"time"

	"github.com/drewbeer/polaris-gslb/internal/domain"
	"github.com/drewbeer/polaris-gslb/internal/report"
)

// MonitorStatus is the latest known standing of one monitor.
type MonitorStatus struct {
	Monitor string `json:"monitor"`
	Target  string `json:"target"`
	// Healthy is nil until the first verdict lands.
	Healthy     *bool         `json:"healthy"`
	Attempts    int           `json:"attempts,omitempty"`
	Message     string        `json:"message,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Checks      uint64        `json:"checks"`
	Transitions uint64        `json:"transitions"`
	CheckedAt   time.Time     `json:"checked_at"`
	LastChange  time.Time     `json:"last_change"`
}

// Snapshot is a point-in-time copy of the whole table.
type Snapshot struct {
	RunID     string          `json:"run_id"`
	Since     time.Time       `json:"since"`
	Now       time.Time       `json:"now"`
	Healthy   int             `json:"healthy_count"`
	Unhealthy int             `json:"unhealthy_count"`
	Pending   int             `json:"pending_count"`
	Monitors  []MonitorStatus `json:"monitors"`
}

// Table tracks the current standing of every configured monitor. It doubles
// as a verdict sink so the scheduler feeds it like any other reporter.
type Table struct {
	mu    sync.RWMutex
	runID string
	since time.Time
	rows  map[string]*MonitorStatus
}

var _ report.Reporter = (*Table)(nil)

// New seeds one pending row per monitor, so the table lists every monitor
// from the start rather than only the ones that have completed a check.
func New(runID string, monitors []domain.Monitor) *Table {
	t := &Table{
		runID: runID,
		since: time.Now().UTC(),
		rows:  make(map[string]*MonitorStatus, len(monitors)),
	}
	for _, m := range monitors {
		t.rows[m.Name] = &MonitorStatus{Monitor: m.Name, Target: m.Target}
	}
	return t
}

func (t *Table) Report(v domain.Verdict) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	row := t.rows[v.Monitor]
	if row == nil {
		row = &MonitorStatus{Monitor: v.Monitor, Target: v.Target}
		t.rows[v.Monitor] = row
	}

	changed := row.Healthy == nil || *row.Healthy != v.Healthy
	h := v.Healthy
	row.Healthy = &h
	row.Attempts = v.Attempts
	row.Message = v.Last.Message
	row.Elapsed = v.Last.Elapsed
	row.Checks++
	row.CheckedAt = v.CheckedAt
	if changed {
		row.Transitions++
		row.LastChange = v.CheckedAt
	}
	return nil
}

// Status returns the row for one monitor.
func (t *Table) Status(name string) (MonitorStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[name]
	if !ok {
		return MonitorStatus{}, false
	}
	return *row, true
}

// Snapshot copies the table, monitors sorted by name.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		RunID:    t.runID,
		Since:    t.since,
		Now:      time.Now().UTC(),
		Monitors: make([]MonitorStatus, 0, len(t.rows)),
	}
	for _, row := range t.rows {
		switch {
		case row.Healthy == nil:
			s.Pending++
		case *row.Healthy:
			s.Healthy++
		default:
			s.Unhealthy++
		}
		s.Monitors = append(s.Monitors, *row)
	}
	sort.Slice(s.Monitors, func(i, j int) bool {
		return s.Monitors[i].Monitor < s.Monitors[j].Monitor
	})
	return s
}

// Converged reports whether every monitor has produced at least one verdict.
func (t *Table) Converged() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, row := range t.rows {
		if row.Healthy == nil {
			return false
		}
	}
	return true
}
