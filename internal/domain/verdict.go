package domain

import "time"

// Outcome is the raw result of a single probe attempt. It exists only long
// enough to be folded into a Verdict.
type Outcome struct {
	Healthy bool `json:"healthy"`
	// Output holds what the probe read: the response bytes for network
	// probes, stdout for scripts. Truncated by the prober.
	Output string `json:"output,omitempty"`
	// ExitCode is the script exit status; -1 for network probes.
	ExitCode int           `json:"exit_code"`
	Elapsed  time.Duration `json:"elapsed"`
	Message  string        `json:"message,omitempty"`
	// Err classifies the failure (probe.ErrConnect, probe.ErrTimeout, ...).
	// Nil when healthy.
	Err error `json:"-"`
}

// Verdict is the folded result of one scheduled tick: up to retries+1
// attempts collapsed into a single healthy/unhealthy call.
type Verdict struct {
	Monitor   string    `json:"monitor"`
	Target    string    `json:"target"`
	Healthy   bool      `json:"healthy"`
	Attempts  int       `json:"attempts"`
	Last      Outcome   `json:"last"`
	CheckedAt time.Time `json:"checked_at"`
}
