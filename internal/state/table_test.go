package state

import (
	"testing"
	"time"

	"github.com/drewbeer/polaris-gslb/internal/domain"
)

func testMonitors() []domain.Monitor {
	return []domain.Monitor{
		{Name: "web", Target: "10.0.0.1", Type: domain.TypeHTTP},
		{Name: "db", Target: "10.0.0.2", Type: domain.TypeTCP},
	}
}

func verdict(name string, healthy bool, at time.Time) domain.Verdict {
	return domain.Verdict{
		Monitor:   name,
		Target:    "10.0.0.9",
		Healthy:   healthy,
		Attempts:  2,
		Last:      domain.Outcome{Healthy: healthy, Message: "detail"},
		CheckedAt: at,
	}
}

func TestTable_SeedsPendingRows(t *testing.T) {
	tbl := New("run-1", testMonitors())

	s := tbl.Snapshot()
	if s.RunID != "run-1" {
		t.Fatalf("want run id kept, got %q", s.RunID)
	}
	if len(s.Monitors) != 2 {
		t.Fatalf("want 2 rows before any verdict, got %d", len(s.Monitors))
	}
	if s.Pending != 2 || s.Healthy != 0 || s.Unhealthy != 0 {
		t.Fatalf("want all rows pending, got %+v", s)
	}
	// sorted by name: db before web
	if s.Monitors[0].Monitor != "db" || s.Monitors[1].Monitor != "web" {
		t.Fatalf("want name order, got %+v", s.Monitors)
	}
	if s.Monitors[0].Healthy != nil {
		t.Fatalf("pending row should have nil health, got %+v", s.Monitors[0])
	}
	if tbl.Converged() {
		t.Fatalf("table should not be converged before verdicts")
	}
}

func TestTable_TransitionsCountChangesOnly(t *testing.T) {
	tbl := New("run-1", testMonitors())
	now := time.Now()

	tbl.Report(verdict("web", true, now))
	tbl.Report(verdict("web", true, now.Add(time.Second)))
	tbl.Report(verdict("web", false, now.Add(2*time.Second)))
	tbl.Report(verdict("web", false, now.Add(3*time.Second)))

	row, ok := tbl.Status("web")
	if !ok {
		t.Fatalf("row missing")
	}
	if row.Checks != 4 {
		t.Fatalf("want 4 checks, got %d", row.Checks)
	}
	// pending->healthy and healthy->unhealthy
	if row.Transitions != 2 {
		t.Fatalf("want 2 transitions, got %d", row.Transitions)
	}
	if !row.LastChange.Equal(now.Add(2 * time.Second)) {
		t.Fatalf("last change should stick to the flip, got %v", row.LastChange)
	}
	if row.Healthy == nil || *row.Healthy {
		t.Fatalf("want unhealthy row, got %+v", row)
	}
}

func TestTable_ConvergedAfterAllReport(t *testing.T) {
	tbl := New("run-1", testMonitors())
	now := time.Now()

	tbl.Report(verdict("web", true, now))
	if tbl.Converged() {
		t.Fatalf("one verdict should not converge a two-monitor table")
	}
	tbl.Report(verdict("db", false, now))
	if !tbl.Converged() {
		t.Fatalf("want converged after every monitor reported")
	}

	s := tbl.Snapshot()
	if s.Healthy != 1 || s.Unhealthy != 1 || s.Pending != 0 {
		t.Fatalf("want 1/1/0 counts, got %+v", s)
	}
}

func TestTable_SnapshotIsACopy(t *testing.T) {
	tbl := New("run-1", testMonitors())
	now := time.Now()
	tbl.Report(verdict("web", true, now))

	s := tbl.Snapshot()
	tbl.Report(verdict("web", false, now.Add(time.Second)))

	for _, row := range s.Monitors {
		if row.Monitor == "web" && (row.Healthy == nil || !*row.Healthy) {
			t.Fatalf("snapshot mutated by a later report: %+v", row)
		}
	}
}

func TestTable_UnknownMonitorGetsARow(t *testing.T) {
	tbl := New("run-1", nil)
	tbl.Report(verdict("late", true, time.Now()))

	if _, ok := tbl.Status("late"); !ok {
		t.Fatalf("verdict for an unseeded monitor should create its row")
	}
}
