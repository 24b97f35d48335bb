package route

import (
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/Ladtech/sitehub/internal/mapping"
	"github.com/Ladtech/sitehub/internal/rules"
)

const (
	// DefaultCookieName carries the id of the endpoint a client was routed to.
	DefaultCookieName = "sitehub.recorded_route"

	defaultLabel = "default"
	fullSplit    = 100
)

// Options configure a Builder. Nested builders inherit them, except URL.
type Options struct {
	// URL, when set, becomes the default endpoint.
	URL        string
	CookieName string
	CookiePath string
	Middleware []Middleware
	Forward    HandlerFactory
}

type kind int

const (
	kindNone kind = iota
	kindRoutes
	kindSplits
)

// Builder assembles one level of a routing tree: either routes or splits,
// plus an optional default. Nested levels are Subtree endpoints holding
// their own Builder. A Builder is only mutated before Build; afterwards it
// is safe for concurrent Resolve calls.
type Builder struct {
	id          string
	path        mapping.Path
	opts        Options
	nested      bool
	kind        kind
	routes      *RouteCollection
	splits      *SplitCollection
	defaultLeaf *Leaf
	built       bool
	// labels are shared by every level of one tree so a sticky id names a
	// single leaf.
	labels map[string]struct{}
}

// New creates a builder for path. define registers routes or splits on it;
// a builder without define needs opts.URL. The result must be Valid.
func New(path mapping.Path, opts Options, define func(*Builder) error) (*Builder, error) {
	if define == nil && opts.URL == "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, path, invalidSplitMsg)
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.CookiePath == "" {
		opts.CookiePath = "/"
		if !path.IsRegexp() && path.String() != "" {
			opts.CookiePath = path.String()
		}
	}

	b := &Builder{
		id:     newID(),
		path:   path,
		opts:   opts,
		labels: map[string]struct{}{defaultLabel: {}},
	}
	if opts.URL != "" {
		b.Default(opts.URL)
	}
	if err := b.define(define); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

func (b *Builder) define(fn func(*Builder) error) error {
	if fn != nil {
		if err := fn(b); err != nil {
			return err
		}
	}
	if !b.Valid() {
		return fmt.Errorf("%w: no default and no valid routes or splits", ErrInvalidDefinition)
	}
	if b.kind == kindSplits && b.splits.Total() != fullSplit {
		log.Warnf("%s: split percentages add up to %d, not %d", b.path, b.splits.Total(), fullSplit)
	}
	return nil
}

func (b *Builder) ID() string               { return b.id }
func (b *Builder) Path() mapping.Path       { return b.path }
func (b *Builder) CookieName() string       { return b.opts.CookieName }
func (b *Builder) CookiePath() string       { return b.opts.CookiePath }
func (b *Builder) DefaultLeaf() *Leaf       { return b.defaultLeaf }
func (b *Builder) Built() bool              { return b.built }
func (b *Builder) Routes() *RouteCollection { return b.routes }
func (b *Builder) Splits() *SplitCollection { return b.splits }

// Endpoints is the active collection, nil while nothing is registered.
func (b *Builder) Endpoints() Resolver {
	if c := b.active(); c != nil {
		return c
	}
	return nil
}

func (b *Builder) active() collection {
	switch b.kind {
	case kindRoutes:
		return b.routes
	case kindSplits:
		return b.splits
	}
	return nil
}

// claim fixes the kind of this level on first use.
func (b *Builder) claim(k kind) error {
	if b.built {
		return fmt.Errorf("%w: builder already built", ErrInvalidDefinition)
	}
	if b.kind != kindNone && b.kind != k {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, routesWithSplitsMsg)
	}
	if b.kind == kindNone {
		b.kind = k
		b.routes = NewRouteCollection()
		b.splits = NewSplitCollection()
	}
	return nil
}

// Route registers an endpoint selected by rule. With nested, the endpoint is
// a further level of routing and rule is mandatory; url and label are then
// ignored.
func (b *Builder) Route(url, label string, rule rules.Rule, nested func(*Builder) error) error {
	if nested != nil && rule == nil {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, invalidRouteDefMsg)
	}
	if nested == nil && url == "" {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, invalidSplitMsg)
	}
	if err := b.claim(kindRoutes); err != nil {
		return err
	}

	if nested != nil {
		b.warnIgnored(url, label)
		sub, err := b.subtree(rule, nested)
		if err != nil {
			return err
		}
		b.routes.Add(sub)
		return nil
	}

	l, err := b.newLeaf(label, url, rule)
	if err != nil {
		return err
	}
	b.routes.Add(l)
	return nil
}

// Split registers an endpoint receiving percentage of the traffic that is
// not pinned by a sticky id.
func (b *Builder) Split(percentage int, url, label string, nested func(*Builder) error) error {
	if nested == nil && url == "" {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, invalidSplitMsg)
	}
	if err := b.claim(kindSplits); err != nil {
		return err
	}

	var e Endpoint
	if nested != nil {
		b.warnIgnored(url, label)
		sub, err := b.subtree(nil, nested)
		if err != nil {
			return err
		}
		e = sub
	} else {
		l, err := b.newLeaf(label, url, nil)
		if err != nil {
			return err
		}
		e = l
	}
	return b.splits.Add(e, percentage)
}

// Default sets the endpoint used when nothing else resolves.
func (b *Builder) Default(url string) {
	id := defaultLabel
	if b.nested {
		id = newID()
	}
	b.defaultLeaf = &Leaf{id: id, url: url, path: b.path}
}

// Valid reports whether the builder can resolve anything at all.
func (b *Builder) Valid() bool {
	if b.defaultLeaf != nil {
		return true
	}
	if c := b.active(); c != nil {
		return c.Valid()
	}
	return false
}

func (b *Builder) warnIgnored(url, label string) {
	if url != "" || label != "" {
		log.WithFields(log.Fields{"path": b.path.String(), "url": url, "label": label}).Warn(ignoringURLLabelMsg)
	}
}

func (b *Builder) newLeaf(label, url string, rule rules.Rule) (*Leaf, error) {
	id := label
	if id == "" {
		id = newID()
	} else if _, taken := b.labels[id]; taken {
		return nil, fmt.Errorf("%w: duplicate endpoint label %q", ErrInvalidDefinition, label)
	}
	b.labels[id] = struct{}{}
	return &Leaf{id: id, url: url, path: b.path, rule: rule}, nil
}

func (b *Builder) subtree(rule rules.Rule, define func(*Builder) error) (*Subtree, error) {
	opts := b.opts
	opts.URL = ""
	child := &Builder{id: newID(), path: b.path, opts: opts, nested: true, labels: b.labels}
	if err := child.define(define); err != nil {
		return nil, err
	}
	return &Subtree{id: child.id, rule: rule, builder: child}, nil
}

// Build attaches the forward handler to every leaf of the tree, wrapped in
// the middleware pipeline, keeping ids and rules. Only the first call has
// an effect.
func (b *Builder) Build() *Builder {
	if b.built {
		return b
	}
	b.built = true

	if c := b.active(); c != nil {
		c.Transform(func(e Endpoint) Endpoint {
			switch e := e.(type) {
			case *Leaf:
				return b.finalize(e)
			case *Subtree:
				e.builder.Build()
			}
			return e
		})
	}
	if b.defaultLeaf != nil {
		b.defaultLeaf = b.finalize(b.defaultLeaf)
	}
	return b
}

func (b *Builder) finalize(l *Leaf) *Leaf {
	var h http.Handler = unbuilt
	if b.opts.Forward != nil {
		h = b.opts.Forward(l)
	}
	if len(b.opts.Middleware) > 0 {
		h = Chain(b.opts.Middleware...)(h)
	}
	return l.withHandler(h)
}

var unbuilt = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
})

// Resolve walks the tree: sticky id, then rules or weights, then nested
// levels, then the default. The result is a *Leaf or nil.
func (b *Builder) Resolve(id string, r *http.Request) Endpoint {
	var ep Endpoint
	if c := b.active(); c != nil {
		ep = c.Resolve(id, r)
	}
	if sub, ok := ep.(*Subtree); ok {
		ep = sub.builder.Resolve(id, r)
	}
	if ep == nil && b.defaultLeaf != nil {
		return b.defaultLeaf
	}
	return ep
}
