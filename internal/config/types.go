package config

import (
	"errors"
	"time"

	"github.com/Ladtech/sitehub/internal/model"
)

// ErrMissingKey is matched by every ConfigError.
var ErrMissingKey = errors.New("missing key")

// ConfigError reports a required top-level key that is absent.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string { return "missing: " + e.Key }
func (e *ConfigError) Unwrap() error { return ErrMissingKey }

type Config struct {
	Listen   string
	LogLevel string
	// CookieName of the sticky cookie; empty means the router default.
	CookieName     string
	Proto          string // "http1" | "auto"
	Timeouts       Timeouts
	AccessLog      AccessLog
	Proxies        []model.Proxy
	ReverseProxies []model.ReverseProxy
}

type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Upstream time.Duration
}

type AccessLog struct {
	Enabled  bool
	Sampling float64 // 0.0 - 1.0
}

// ReverseProxyMap returns the reverse proxies keyed by downstream url.
func (c *Config) ReverseProxyMap() map[string]string {
	out := make(map[string]string, len(c.ReverseProxies))
	for _, rp := range c.ReverseProxies {
		out[rp.DownstreamURL] = rp.Path
	}
	return out
}

type rawConfig struct {
	Listen     string `yaml:"listen"`
	LogLevel   string `yaml:"log_level"`
	CookieName string `yaml:"sitehub_cookie_name"`
	Proto      string `yaml:"proto"`
	Timeouts   struct {
		Read     string `yaml:"read"`
		Write    string `yaml:"write"`
		Upstream string `yaml:"upstream"`
	} `yaml:"timeouts"`
	AccessLog struct {
		Enabled  *bool    `yaml:"enabled"`
		Sampling *float64 `yaml:"sampling"`
	} `yaml:"access_log"`
	Proxies        *[]rawProxy `yaml:"proxies"`
	ReverseProxies []struct {
		DownstreamURL string `yaml:"downstream_url"`
		Path          string `yaml:"path"`
	} `yaml:"reverse_proxies"`
}

type rawProxy struct {
	Path       string `yaml:"path"`
	Regex      bool   `yaml:"regex"`
	URL        string `yaml:"url"`
	CookiePath string `yaml:"cookie_path"`
	RateLimit  *struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Routes []rawRoute `yaml:"routes"`
	Splits []rawSplit `yaml:"splits"`
}

type rawRoute struct {
	Label   string     `yaml:"label"`
	URL     string     `yaml:"url"`
	Rule    *rawRule   `yaml:"rule"`
	Default string     `yaml:"default"`
	Routes  []rawRoute `yaml:"routes"`
	Splits  []rawSplit `yaml:"splits"`
}

type rawSplit struct {
	Percentage int        `yaml:"percentage"`
	Label      string     `yaml:"label"`
	URL        string     `yaml:"url"`
	Default    string     `yaml:"default"`
	Routes     []rawRoute `yaml:"routes"`
	Splits     []rawSplit `yaml:"splits"`
}

type rawRule struct {
	Type  string `yaml:"type"`
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
	Name  string `yaml:"name"`
}
