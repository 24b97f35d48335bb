package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Ladtech/sitehub/internal/model"
)

const (
	defaultListen   = ":8080"
	defaultLogLevel = "info"

	envListen   = "SITEHUB_LISTEN"
	envLogLevel = "SITEHUB_LOG_LEVEL"
)

// Load reads the file at path, then applies environment overrides.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates a yaml document. Structural rules of the
// routing tree (routes next to splits, nested routes without rule) are left
// to the assembly, which reports them with the proxy path.
func Parse(b []byte) (*Config, error) {
	var rc rawConfig
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if rc.Proxies == nil {
		return nil, &ConfigError{Key: "proxies"}
	}

	cfg := &Config{
		Listen:     strings.TrimSpace(rc.Listen),
		LogLevel:   strings.ToLower(strings.TrimSpace(rc.LogLevel)),
		CookieName: strings.TrimSpace(rc.CookieName),
		Proto:      strings.ToLower(strings.TrimSpace(rc.Proto)),
		AccessLog:  AccessLog{Enabled: true, Sampling: 1.0},
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	switch cfg.Proto {
	case "":
		cfg.Proto = "http1"
	case "http1", "auto":
	default:
		return nil, fmt.Errorf("proto: unknown proto %q", cfg.Proto)
	}

	var err error
	if cfg.Timeouts.Read, err = duration("timeouts.read", rc.Timeouts.Read); err != nil {
		return nil, err
	}
	if cfg.Timeouts.Write, err = duration("timeouts.write", rc.Timeouts.Write); err != nil {
		return nil, err
	}
	if cfg.Timeouts.Upstream, err = duration("timeouts.upstream", rc.Timeouts.Upstream); err != nil {
		return nil, err
	}

	if rc.AccessLog.Enabled != nil {
		cfg.AccessLog.Enabled = *rc.AccessLog.Enabled
	}
	if s := rc.AccessLog.Sampling; s != nil {
		if *s < 0 || *s > 1 {
			return nil, fmt.Errorf("access_log.sampling: must be between 0 and 1, got %v", *s)
		}
		cfg.AccessLog.Sampling = *s
	}

	for i, rp := range *rc.Proxies {
		p, err := convertProxy(rp)
		if err != nil {
			return nil, fmt.Errorf("proxies[%d]%w", i, err)
		}
		cfg.Proxies = append(cfg.Proxies, p)
	}

	for i, rp := range rc.ReverseProxies {
		where := fmt.Sprintf("reverse_proxies[%d]", i)
		if err := checkURL(strings.TrimSpace(rp.DownstreamURL)); err != nil {
			return nil, fmt.Errorf("%s.downstream_url: %w", where, err)
		}
		if !strings.HasPrefix(rp.Path, "/") {
			return nil, fmt.Errorf("%s.path: must start with '/'", where)
		}
		cfg.ReverseProxies = append(cfg.ReverseProxies, model.ReverseProxy{
			DownstreamURL: strings.TrimSpace(rp.DownstreamURL),
			Path:          rp.Path,
		})
	}
	return cfg, nil
}

// applyEnv overrides listen and log level from the environment.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(envListen); ok && strings.TrimSpace(v) != "" {
		cfg.Listen = strings.TrimSpace(v)
	}
	if v, ok := lookup(envLogLevel); ok && strings.TrimSpace(v) != "" {
		lvl := strings.ToLower(strings.TrimSpace(v))
		if _, err := log.ParseLevel(lvl); err != nil {
			return fmt.Errorf("%s: %w", envLogLevel, err)
		}
		cfg.LogLevel = lvl
	}
	return nil
}

const defaultNotNested = "only allowed next to nested routes or splits"

// Errors returned by the convert functions start with the yaml path of the
// failing element relative to the caller, e.g. ".splits[1]: ...".

func convertProxy(rp rawProxy) (model.Proxy, error) {
	p := model.Proxy{
		Path:       strings.TrimSpace(rp.Path),
		Regex:      rp.Regex,
		URL:        strings.TrimSpace(rp.URL),
		CookiePath: strings.TrimSpace(rp.CookiePath),
	}
	if p.Path == "" {
		return p, fmt.Errorf(".path: is required")
	}
	if p.Regex {
		if _, err := regexp.Compile(p.Path); err != nil {
			return p, fmt.Errorf(".path: %w", err)
		}
	}
	if p.URL != "" {
		if err := checkURL(p.URL); err != nil {
			return p, fmt.Errorf(".url: %w", err)
		}
	}
	if rl := rp.RateLimit; rl != nil {
		if rl.RequestsPerSecond <= 0 {
			return p, fmt.Errorf(".rate_limit.requests_per_second: must be positive")
		}
		burst := rl.Burst
		if burst == 0 {
			burst = int(rl.RequestsPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		if burst < 0 {
			return p, fmt.Errorf(".rate_limit.burst: must not be negative")
		}
		p.RateLimit = &model.RateLimit{RequestsPerSecond: rl.RequestsPerSecond, Burst: burst}
	}

	var err error
	if p.Routes, err = convertRoutes(rp.Routes); err != nil {
		return p, err
	}
	if p.Splits, err = convertSplits(rp.Splits); err != nil {
		return p, err
	}
	return p, nil
}

func convertRoutes(raw []rawRoute) ([]model.Route, error) {
	var out []model.Route
	for i, rr := range raw {
		r := model.Route{
			Label:   strings.TrimSpace(rr.Label),
			URL:     strings.TrimSpace(rr.URL),
			Default: strings.TrimSpace(rr.Default),
		}
		if err := checkTemplates(r.URL, r.Default); err != nil {
			return nil, fmt.Errorf(".routes[%d]%w", i, err)
		}
		if rr.Rule != nil {
			rule := model.Rule{
				Type:  strings.ToLower(strings.TrimSpace(rr.Rule.Type)),
				Key:   strings.TrimSpace(rr.Rule.Key),
				Value: rr.Rule.Value,
				Name:  strings.TrimSpace(rr.Rule.Name),
			}
			if rule.Type == "" {
				return nil, fmt.Errorf(".routes[%d].rule.type: is required", i)
			}
			r.Rule = &rule
		}
		var err error
		if r.Routes, err = convertRoutes(rr.Routes); err != nil {
			return nil, fmt.Errorf(".routes[%d]%w", i, err)
		}
		if r.Splits, err = convertSplits(rr.Splits); err != nil {
			return nil, fmt.Errorf(".routes[%d]%w", i, err)
		}
		if r.Default != "" && !r.Nested() {
			return nil, fmt.Errorf(".routes[%d].default: %s", i, defaultNotNested)
		}
		out = append(out, r)
	}
	return out, nil
}

func convertSplits(raw []rawSplit) ([]model.Split, error) {
	var out []model.Split
	for i, rs := range raw {
		if rs.Percentage < 0 {
			return nil, fmt.Errorf(".splits[%d]: percentage must not be negative, got %d", i, rs.Percentage)
		}
		s := model.Split{
			Percentage: rs.Percentage,
			Label:      strings.TrimSpace(rs.Label),
			URL:        strings.TrimSpace(rs.URL),
			Default:    strings.TrimSpace(rs.Default),
		}
		if err := checkTemplates(s.URL, s.Default); err != nil {
			return nil, fmt.Errorf(".splits[%d]%w", i, err)
		}
		var err error
		if s.Routes, err = convertRoutes(rs.Routes); err != nil {
			return nil, fmt.Errorf(".splits[%d]%w", i, err)
		}
		if s.Splits, err = convertSplits(rs.Splits); err != nil {
			return nil, fmt.Errorf(".splits[%d]%w", i, err)
		}
		if s.Default != "" && !s.Nested() {
			return nil, fmt.Errorf(".splits[%d].default: %s", i, defaultNotNested)
		}
		out = append(out, s)
	}
	return out, nil
}

func checkTemplates(u, def string) error {
	if u != "" {
		if err := checkURL(u); err != nil {
			return fmt.Errorf(".url: %w", err)
		}
	}
	if def != "" {
		if err := checkURL(def); err != nil {
			return fmt.Errorf(".default: %w", err)
		}
	}
	return nil
}

// checkURL accepts absolute http(s) urls; $n placeholders are fine since
// they only appear in the host or path.
func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be http(s) URL with host, got %q", raw)
	}
	return nil
}

func duration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
