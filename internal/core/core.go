// Package core turns a loaded configuration into a routing table ready to
// serve.
package core

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/Ladtech/sitehub/internal/config"
	"github.com/Ladtech/sitehub/internal/forward"
	"github.com/Ladtech/sitehub/internal/mapping"
	"github.com/Ladtech/sitehub/internal/metrics"
	"github.com/Ladtech/sitehub/internal/middleware"
	"github.com/Ladtech/sitehub/internal/model"
	"github.com/Ladtech/sitehub/internal/ratelimit"
	"github.com/Ladtech/sitehub/internal/route"
	"github.com/Ladtech/sitehub/internal/router"
	"github.com/Ladtech/sitehub/internal/rules"
)

// Deps are the long-lived collaborators shared by every table built from a
// configuration. Only Transports is required.
type Deps struct {
	Transports   forward.Factory
	Metrics      *metrics.Registry
	Limiter      *ratelimit.Limiter
	AccessLogger log.FieldLogger
	Logger       log.FieldLogger
}

// Build assembles and initialises the routing table described by cfg. Any
// definition error aborts the whole table.
func Build(cfg *config.Config, d Deps) (*router.Table, error) {
	if d.Transports == nil {
		return nil, fmt.Errorf("core: transports are required")
	}
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}

	fw := forward.New(d.Transports, forward.Config{
		Transport:       cfg.Proto,
		UpstreamTimeout: cfg.Timeouts.Upstream,
		ReverseProxies:  cfg.ReverseProxyMap(),
		Logger:          d.Logger,
	})

	t := router.New(d.Metrics)
	limits := make(map[string]ratelimit.Config)
	for i, p := range cfg.Proxies {
		b, err := buildProxy(cfg, p, fw, d, limits)
		if err != nil {
			return nil, fmt.Errorf("proxies[%d]: %w", i, err)
		}
		t.Add(b)
	}
	t.Init()

	// the limiter is shared with the served table, so it only changes once
	// the whole configuration is known to build
	if d.Limiter != nil {
		if err := d.Limiter.Replace(limits); err != nil {
			return nil, err
		}
	}

	d.Logger.WithField("proxies", t.Len()).Info("routing table built")
	return t, nil
}

func buildProxy(cfg *config.Config, p model.Proxy, fw *forward.Forwarder, d Deps, limits map[string]ratelimit.Config) (*route.Builder, error) {
	path := mapping.Literal(p.Path)
	if p.Regex {
		var err error
		if path, err = mapping.Compile(p.Path); err != nil {
			return nil, err
		}
	}

	ms := []route.Middleware{middleware.TransactionID()}
	if cfg.AccessLog.Enabled && d.AccessLogger != nil {
		ms = append(ms, middleware.AccessLog(d.AccessLogger, cfg.AccessLog.Sampling))
	}
	if d.Metrics != nil {
		ms = append(ms, middleware.Metrics(d.Metrics))
	}
	if d.Limiter != nil && p.RateLimit != nil {
		key := path.Key()
		limits[key] = ratelimit.Config{
			RequestsPerSecond: p.RateLimit.RequestsPerSecond,
			Burst:             p.RateLimit.Burst,
		}
		ms = append(ms, middleware.RateLimit(d.Limiter, key))
	}

	return route.New(path, route.Options{
		URL:        p.URL,
		CookieName: cfg.CookieName,
		CookiePath: p.CookiePath,
		Middleware: ms,
		Forward:    fw.Handler,
	}, define(p.Routes, p.Splits, ""))
}

// define returns the function registering a level of the tree, or nil for a
// level with nothing to register.
func define(routes []model.Route, splits []model.Split, def string) func(*route.Builder) error {
	if len(routes) == 0 && len(splits) == 0 && def == "" {
		return nil
	}
	return func(b *route.Builder) error {
		if def != "" {
			b.Default(def)
		}
		for i, r := range routes {
			var rule rules.Rule
			if r.Rule != nil {
				var err error
				rule, err = rules.FromConfig(rules.Config{
					Name:  r.Rule.Name,
					Type:  r.Rule.Type,
					Key:   r.Rule.Key,
					Value: r.Rule.Value,
				})
				if err != nil {
					return fmt.Errorf("routes[%d]: %w", i, err)
				}
			}
			if err := b.Route(r.URL, r.Label, rule, nestedOf(r.Nested(), r.Routes, r.Splits, r.Default)); err != nil {
				return fmt.Errorf("routes[%d]: %w", i, err)
			}
		}
		for i, s := range splits {
			if err := b.Split(s.Percentage, s.URL, s.Label, nestedOf(s.Nested(), s.Routes, s.Splits, s.Default)); err != nil {
				return fmt.Errorf("splits[%d]: %w", i, err)
			}
		}
		return nil
	}
}

func nestedOf(nested bool, routes []model.Route, splits []model.Split, def string) func(*route.Builder) error {
	if !nested {
		return nil
	}
	return define(routes, splits, def)
}
