package route

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Ladtech/sitehub/internal/mapping"
	"github.com/Ladtech/sitehub/internal/rules"
)

// Endpoint is either a *Leaf or a *Subtree.
type Endpoint interface {
	ID() string
	Rule() rules.Rule
	// owns reports whether id names this endpoint or anything below it.
	owns(id string) bool
}

// Leaf is a terminal downstream target.
type Leaf struct {
	id      string
	url     string
	path    mapping.Path
	rule    rules.Rule
	handler http.Handler
}

var _ http.Handler = (*Leaf)(nil)

func (l *Leaf) ID() string            { return l.id }
func (l *Leaf) URL() string           { return l.url }
func (l *Leaf) Path() mapping.Path    { return l.path }
func (l *Leaf) Rule() rules.Rule      { return l.rule }
func (l *Leaf) Handler() http.Handler { return l.handler }
func (l *Leaf) owns(id string) bool   { return id == l.id }

func (l *Leaf) withHandler(h http.Handler) *Leaf {
	c := *l
	c.handler = h
	return &c
}

// Mapping returns the request mapping of r onto this leaf.
func (l *Leaf) Mapping(r *http.Request) *mapping.RequestMapping {
	return mapping.New(SourceURL(r), l.url, l.path)
}

// ServeHTTP answers 503 for a leaf whose tree was never built.
func (l *Leaf) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if l.handler == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	l.handler.ServeHTTP(w, r)
}

// Subtree is an endpoint whose target is another level of routing.
type Subtree struct {
	id      string
	rule    rules.Rule
	builder *Builder
}

func (s *Subtree) ID() string        { return s.id }
func (s *Subtree) Rule() rules.Rule  { return s.rule }
func (s *Subtree) Builder() *Builder { return s.builder }

func (s *Subtree) owns(id string) bool {
	if id == s.id {
		return true
	}
	b := s.builder
	if b.defaultLeaf != nil && b.defaultLeaf.owns(id) {
		return true
	}
	c := b.active()
	return c != nil && c.Lookup(id) != nil
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SourceURL reconstructs the absolute inbound URL, query string included.
func SourceURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	u := *r.URL
	u.Scheme = scheme
	u.Host = r.Host
	return u.String()
}
