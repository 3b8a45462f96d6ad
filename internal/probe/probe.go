package probe

import (
	"context"
	"fmt"

	"github.com/drewbeer/polaris-gslb/internal/domain"
)

// Output caps. Probers store at most maxOutputBytes of what they read and
// quote at most msgQuoteBytes of it in failure messages.
const (
	maxOutputBytes = 4096
	msgQuoteBytes  = 512
)

// Prober runs one probe attempt against the target bound at construction.
// The per-attempt timeout arrives as the context deadline; implementations
// must also abort on plain cancellation so a forced shutdown is observable
// mid-attempt. A Prober holds no mutable state across attempts.
type Prober interface {
	Probe(ctx context.Context) domain.Outcome
}

// New builds the Prober for a monitor. Dispatch over the monitor type is
// closed; an unknown type is a construction error, fatal for that monitor
// only.
func New(m domain.Monitor) (Prober, error) {
	switch m.Type {
	case domain.TypeTCP:
		if m.TCP == nil {
			return nil, fmt.Errorf("monitor %q: missing tcp params", m.Name)
		}
		return newTCPProber(m), nil
	case domain.TypeHTTP:
		if m.HTTP == nil {
			return nil, fmt.Errorf("monitor %q: missing http params", m.Name)
		}
		return newHTTPProber(m), nil
	case domain.TypeExternalScript:
		if m.Script == nil {
			return nil, fmt.Errorf("monitor %q: missing script params", m.Name)
		}
		return newScriptProber(m), nil
	default:
		return nil, fmt.Errorf("monitor %q: unsupported monitor type %q", m.Name, m.Type)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clip(s string) string {
	return truncate(s, msgQuoteBytes)
}
