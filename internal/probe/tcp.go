package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/drewbeer/polaris-gslb/internal/domain"
)

// recvBufSize is the chunk size for the response-matching read loop.
const recvBufSize = 8192

// maxResponseBytes bounds how much response the matching loop accumulates
// before declaring a miss.
const maxResponseBytes = 1 << 20

// tcpProber opens a TCP connection to target:port, optionally wraps it in
// TLS, optionally writes a configured string, and, when a pattern is set,
// reads until the response matches. One timeout budget (the attempt context
// deadline) covers connect, handshake, write and every read.
type tcpProber struct {
	target  string
	params  domain.TCPParams
	matchRE *regexp.Regexp
}

func newTCPProber(m domain.Monitor) *tcpProber {
	return &tcpProber{target: m.Target, params: *m.TCP, matchRE: m.MatchRE}
}

func (p *tcpProber) Probe(ctx context.Context) domain.Outcome {
	start := time.Now()
	fail := func(err error, output string) domain.Outcome {
		return domain.Outcome{
			Output:   output,
			ExitCode: -1,
			Elapsed:  time.Since(start),
			Err:      err,
			Message:  err.Error(),
		}
	}

	addr := net.JoinHostPort(p.target, strconv.Itoa(int(p.params.Port)))
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fail(classifyNetErr(ctx, err, "connect"), "")
	}
	defer raw.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(dl)
	}
	// A forced shutdown cancels the context without tripping the deadline;
	// poison the socket so any in-flight read returns.
	stopAbort := context.AfterFunc(ctx, func() { _ = raw.SetDeadline(time.Unix(1, 0)) })
	defer stopAbort()

	conn := raw
	if p.params.UseTLS {
		tconn := tls.Client(raw, &tls.Config{
			ServerName:         p.target,
			InsecureSkipVerify: !p.params.VerifyTLS,
		})
		if err := tconn.HandshakeContext(ctx); err != nil {
			if cls := classifyNetErr(ctx, err, "tls handshake"); errors.Is(cls, ErrTimeout) {
				return fail(cls, "")
			}
			return fail(fmt.Errorf("%w: %v", ErrTLS, err), "")
		}
		conn = tconn
	}

	if p.params.SendString != "" {
		if _, err := io.WriteString(conn, p.params.SendString); err != nil {
			return fail(classifyNetErr(ctx, err, "write"), "")
		}
	}

	if p.matchRE == nil {
		return domain.Outcome{
			Healthy:  true,
			ExitCode: -1,
			Elapsed:  time.Since(start),
			Message:  "connected",
		}
	}

	// Read until the pattern matches, the peer closes, or the deadline hits.
	// The pattern is re-searched after every chunk since a match may span
	// reads.
	var resp strings.Builder
	buf := make([]byte, recvBufSize)
	for {
		n, rerr := conn.Read(buf)
		if n > 0 {
			resp.Write(buf[:n])
			if p.matchRE.MatchString(resp.String()) {
				return domain.Outcome{
					Healthy:  true,
					Output:   truncate(resp.String(), maxOutputBytes),
					ExitCode: -1,
					Elapsed:  time.Since(start),
					Message:  "matched",
				}
			}
			if resp.Len() > maxResponseBytes {
				err := fmt.Errorf("%w: no match in first %d bytes of response", ErrNoMatch, resp.Len())
				return fail(err, truncate(resp.String(), maxOutputBytes))
			}
		}
		if rerr != nil {
			out := truncate(resp.String(), maxOutputBytes)
			switch {
			case errors.Is(rerr, io.EOF) && resp.Len() == 0:
				return fail(fmt.Errorf("%w: peer closed the connection, no data received", ErrNoMatch), out)
			case errors.Is(rerr, io.EOF):
				return fail(fmt.Errorf("%w: peer closed the connection, response(up to %d chars): %s",
					ErrNoMatch, msgQuoteBytes, clip(resp.String())), out)
			default:
				cls := classifyNetErr(ctx, rerr, "read")
				if errors.Is(cls, ErrTimeout) && resp.Len() > 0 {
					cls = fmt.Errorf("%w: no match before deadline, response(up to %d chars): %s",
						ErrTimeout, msgQuoteBytes, clip(resp.String()))
				}
				return fail(cls, out)
			}
		}
	}
}
