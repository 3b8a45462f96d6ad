package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/drewbeer/polaris-gslb/internal/domain"
)

// maxBodyBytes caps how much of a response body is read for matching.
const maxBodyBytes = 1 << 20

// httpProber issues one HTTP(S) request per attempt. Healthy means the
// status is acceptable, the optional pattern matches the body, and the
// optional JSON assertion holds. The attempt context carries the deadline,
// so the client itself has no timeout.
type httpProber struct {
	target  string
	params  domain.HTTPParams
	matchRE *regexp.Regexp
	client  *http.Client
}

func newHTTPProber(m domain.Monitor) *httpProber {
	return &httpProber{
		target:  m.Target,
		params:  *m.HTTP,
		matchRE: m.MatchRE,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !m.HTTP.VerifyTLS},
				Proxy:           http.ProxyFromEnvironment,
			},
		},
	}
}

func (p *httpProber) url() string {
	scheme := "http"
	if p.params.UseTLS {
		scheme = "https"
	}
	host := p.target
	if p.params.Port != 0 {
		host = net.JoinHostPort(p.target, strconv.Itoa(int(p.params.Port)))
	}
	path := p.params.Path
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + host + path
}

func (p *httpProber) Probe(ctx context.Context) domain.Outcome {
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

	method := p.params.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, p.url(), nil)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrConnect, err), "")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fail(classifyHTTPErr(ctx, err), "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fail(classifyNetErr(ctx, err, "read body"), truncate(string(body), maxOutputBytes))
	}
	out := truncate(string(body), maxOutputBytes)

	if !p.statusOK(resp.StatusCode) {
		return fail(fmt.Errorf("%w: got %s", ErrBadStatus, resp.Status), out)
	}
	if p.matchRE != nil && !p.matchRE.Match(body) {
		return fail(fmt.Errorf("%w: pattern %q not found in response body", ErrNoMatch, p.matchRE.String()), out)
	}
	if p.params.JSONPath != "" {
		v := gjson.GetBytes(body, p.params.JSONPath)
		if !v.Exists() {
			return fail(fmt.Errorf("%w: json path %q not present in response", ErrNoMatch, p.params.JSONPath), out)
		}
		if v.String() != p.params.JSONValue {
			return fail(fmt.Errorf("%w: json path %q is %q, want %q",
				ErrNoMatch, p.params.JSONPath, v.String(), p.params.JSONValue), out)
		}
	}

	return domain.Outcome{
		Healthy:  true,
		Output:   out,
		ExitCode: -1,
		Elapsed:  time.Since(start),
		Message:  resp.Status,
	}
}

// statusOK applies the acceptance rule: an exact expected code when pinned,
// otherwise anything that is not an error class (200-399).
func (p *httpProber) statusOK(code int) bool {
	if p.params.ExpectStatus > 0 {
		return code == p.params.ExpectStatus
	}
	return code >= 200 && code < 400
}

// classifyHTTPErr distinguishes certificate and handshake failures from
// plain transport errors so a bad cert reports as a TLS failure, not a
// connect failure.
func classifyHTTPErr(ctx context.Context, err error) error {
	var cvErr *tls.CertificateVerificationError
	if errors.As(err, &cvErr) {
		return fmt.Errorf("%w: %v", ErrTLS, err)
	}
	var rhErr tls.RecordHeaderError
	if errors.As(err, &rhErr) {
		return fmt.Errorf("%w: %v", ErrTLS, err)
	}
	var alert tls.AlertError
	if errors.As(err, &alert) {
		return fmt.Errorf("%w: %v", ErrTLS, err)
	}
	return classifyNetErr(ctx, err, "request")
}
