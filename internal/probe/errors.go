package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Failure classes. Probers wrap these with %w so callers can classify an
// Outcome.Err via errors.Is.
var (
	ErrConnect        = errors.New("connect failed")
	ErrTLS            = errors.New("tls handshake failed")
	ErrTimeout        = errors.New("probe timed out")
	ErrScriptNotFound = errors.New("script not found")
	ErrScriptExec     = errors.New("script failed")
	ErrNoMatch        = errors.New("output did not match")
	ErrBadStatus      = errors.New("unexpected http status")
)

// classifyNetErr sorts a dial/read/write error into the taxonomy. Timeouts
// (from the context deadline or a socket deadline) become ErrTimeout;
// resolution failures keep their net.DNSError text so the operator can tell
// NXDOMAIN from a refused connect.
func classifyNetErr(ctx context.Context, err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	var derr *net.DNSError
	if errors.As(err, &derr) {
		return fmt.Errorf("%w: %s: dns: %v", ErrConnect, op, derr)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnect, op, err)
}
