package domain

import (
	"regexp"
	"time"
)

// MonitorType selects the probe implementation for a monitor. The set is
// closed: config loading rejects anything else.
type MonitorType string

const (
	TypeTCP            MonitorType = "tcp"
	TypeHTTP           MonitorType = "http"
	TypeExternalScript MonitorType = "external_script"
)

// Monitor is one configured health check against one target. It is built and
// validated once by the config loader and never mutated afterwards; each
// scheduler entry owns its Monitor exclusively.
type Monitor struct {
	Name     string        `json:"name"`
	Target   string        `json:"target"` // host or IP the probe runs against
	Type     MonitorType   `json:"type"`
	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"` // per probe attempt
	Retries  int           `json:"retries"` // extra attempts after the first

	// MatchRE optionally validates probe output beyond connectivity or exit
	// status. Compiled case-insensitively at load time.
	MatchRE *regexp.Regexp `json:"-"`

	// Exactly one of these is set, matching Type.
	TCP    *TCPParams    `json:"tcp,omitempty"`
	HTTP   *HTTPParams   `json:"http,omitempty"`
	Script *ScriptParams `json:"script,omitempty"`
}

// Attempts is the per-tick attempt budget: the first try plus retries.
func (m Monitor) Attempts() int {
	if m.Retries < 0 {
		return 1
	}
	return m.Retries + 1
}

type TCPParams struct {
	Port      uint16 `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	VerifyTLS bool   `json:"verify_tls"`
	// SendString is written to the socket after connect (and handshake),
	// before any response is read.
	SendString string `json:"send_string,omitempty"`
}

type HTTPParams struct {
	Port      uint16 `json:"port"` // 0 means the scheme default
	UseTLS    bool   `json:"use_tls"`
	VerifyTLS bool   `json:"verify_tls"`
	Path      string `json:"url_path"`
	Method    string `json:"method,omitempty"`
	// ExpectStatus pins an exact status code; 0 accepts anything in 200-399.
	ExpectStatus int `json:"expect_status,omitempty"`
	// JSONPath/JSONValue assert one field of a JSON response body.
	JSONPath  string `json:"json_path,omitempty"`
	JSONValue string `json:"json_value,omitempty"`
}

type ScriptParams struct {
	Path string   `json:"script_path"`
	Args []string `json:"args,omitempty"` // the target is appended as the final argument
}
