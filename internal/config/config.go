package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/drewbeer/polaris-gslb/internal/domain"
)

const (
	envConfigPath     = "POLARIS_HEALTH_CONFIG"
	DefaultConfigPath = "/etc/polaris/polaris-health.yaml"
)

// ErrConfig marks configuration that cannot be used. Test with errors.Is.
var ErrConfig = errors.New("invalid configuration")

// Bounds carried over from the wire formats this feeds: a match pattern is
// capped so log lines stay readable, a send string so it fits one write.
const (
	maxMatchRELen    = 128
	maxSendStringLen = 256
)

type Config struct {
	LogDir        string   `yaml:"log_dir"`
	Listen        string   `yaml:"listen"`
	DispersionSec int      `yaml:"dispersion_sec"`
	BackoffMS     int      `yaml:"backoff_ms"`
	RateLimit     float64  `yaml:"rate_limit"` // probe runs per second, 0 disables
	RateBurst     int      `yaml:"rate_burst"`
	AdminKeys     []string `yaml:"admin_keys"`

	MonitorStanzas map[string]Stanza `yaml:"monitors"`
}

// Stanza is one monitor as written in the config file. Durations are plain
// integer seconds on the wire.
type Stanza struct {
	Monitor  string `yaml:"monitor"`
	Target   string `yaml:"target"`
	Interval int    `yaml:"interval"`
	Timeout  int    `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	MatchRE  string `yaml:"match_re"`
	Params   Params `yaml:"monitor_params"`
}

type Params struct {
	Port         int      `yaml:"port"`
	UseTLS       bool     `yaml:"use_tls"`
	VerifyTLS    *bool    `yaml:"verify_tls"` // defaults to true
	SendString   string   `yaml:"send_string"`
	ScriptPath   string   `yaml:"script_path"`
	Args         []string `yaml:"args"`
	URLPath      string   `yaml:"url_path"`
	Method       string   `yaml:"method"`
	ExpectStatus int      `yaml:"expect_status"`
	JSONPath     string   `yaml:"json_path"`
	JSONValue    string   `yaml:"json_value"`
}

// Load reads and parses the config file and applies process-level defaults.
// Per-monitor validation happens in Monitors so one bad stanza cannot take
// the whole file down.
func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8080"
	}
	if cfg.DispersionSec < 0 {
		return cfg, fmt.Errorf("%w: dispersion_sec must not be negative", ErrConfig)
	}
	if cfg.BackoffMS < 0 {
		return cfg, fmt.Errorf("%w: backoff_ms must not be negative", ErrConfig)
	}
	if cfg.RateLimit < 0 {
		return cfg, fmt.Errorf("%w: rate_limit must not be negative", ErrConfig)
	}
	if len(cfg.MonitorStanzas) == 0 {
		return cfg, fmt.Errorf("%w: no monitors configured", ErrConfig)
	}
	return cfg, nil
}

// LoadFromEnv loads the path named by POLARIS_HEALTH_CONFIG, falling back
// to the packaged default location.
func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

// Dispersion is the first-run jitter window.
func (c Config) Dispersion() time.Duration {
	return time.Duration(c.DispersionSec) * time.Second
}

// Backoff is the pause between retry attempts; zero means the engine default.
func (c Config) Backoff() time.Duration {
	return time.Duration(c.BackoffMS) * time.Millisecond
}

// Monitors validates every stanza and builds the runnable set, sorted by
// name. Stanzas that fail validation are dropped one by one; their errors
// come back folded together next to the monitors that survived.
func (c Config) Monitors() ([]domain.Monitor, error) {
	names := make([]string, 0, len(c.MonitorStanzas))
	for name := range c.MonitorStanzas {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		out  []domain.Monitor
		errs error
	)
	for _, name := range names {
		m, err := c.MonitorStanzas[name].toMonitor(name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, m)
	}
	return out, errs
}

func (s Stanza) toMonitor(name string) (domain.Monitor, error) {
	fail := func(format string, args ...any) (domain.Monitor, error) {
		detail := fmt.Sprintf(format, args...)
		return domain.Monitor{}, fmt.Errorf("%w: monitor %q: %s", ErrConfig, name, detail)
	}

	if name == "" {
		return fail("empty name")
	}
	if s.Target == "" {
		return fail("target is required")
	}

	interval := s.Interval
	if interval == 0 {
		interval = 10
	}
	if interval < 1 {
		return fail("interval %d must be at least 1 second", s.Interval)
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 5
	}
	if timeout < 1 {
		return fail("timeout %d must be at least 1 second", s.Timeout)
	}
	retries := 2
	if s.Retries != nil {
		retries = *s.Retries
	}
	if retries < 0 {
		return fail("retries %d must not be negative", retries)
	}

	m := domain.Monitor{
		Name:     name,
		Target:   s.Target,
		Interval: time.Duration(interval) * time.Second,
		Timeout:  time.Duration(timeout) * time.Second,
		Retries:  retries,
	}

	if s.MatchRE != "" {
		if len(s.MatchRE) > maxMatchRELen {
			return fail("match_re longer than %d chars", maxMatchRELen)
		}
		re, err := regexp.Compile("(?i)" + s.MatchRE)
		if err != nil {
			return fail("match_re does not compile: %v", err)
		}
		m.MatchRE = re
	}

	verify := true
	if s.Params.VerifyTLS != nil {
		verify = *s.Params.VerifyTLS
	}

	switch s.Monitor {
	case "tcp":
		if s.Params.Port < 1 || s.Params.Port > 65535 {
			return fail("port %d out of range 1-65535", s.Params.Port)
		}
		if len(s.Params.SendString) > maxSendStringLen {
			return fail("send_string longer than %d chars", maxSendStringLen)
		}
		m.Type = domain.TypeTCP
		m.TCP = &domain.TCPParams{
			Port:       uint16(s.Params.Port),
			UseTLS:     s.Params.UseTLS,
			VerifyTLS:  verify,
			SendString: s.Params.SendString,
		}
	case "http":
		if s.Params.Port < 0 || s.Params.Port > 65535 {
			return fail("port %d out of range 0-65535", s.Params.Port)
		}
		if s.Params.ExpectStatus < 0 || s.Params.ExpectStatus > 599 {
			return fail("expect_status %d out of range", s.Params.ExpectStatus)
		}
		m.Type = domain.TypeHTTP
		m.HTTP = &domain.HTTPParams{
			Port:         uint16(s.Params.Port),
			UseTLS:       s.Params.UseTLS,
			VerifyTLS:    verify,
			Path:         s.Params.URLPath,
			Method:       s.Params.Method,
			ExpectStatus: s.Params.ExpectStatus,
			JSONPath:     s.Params.JSONPath,
			JSONValue:    s.Params.JSONValue,
		}
	case "external_script":
		if s.Params.ScriptPath == "" {
			return fail("script_path is required")
		}
		m.Type = domain.TypeExternalScript
		m.Script = &domain.ScriptParams{
			Path: s.Params.ScriptPath,
			Args: s.Params.Args,
		}
	case "":
		return fail("monitor type is required")
	default:
		return fail("unknown monitor type %q", s.Monitor)
	}

	return m, nil
}
