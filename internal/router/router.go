package router

import (
	"io"
	"net/http"
	"sync/atomic"

	"github.com/Ladtech/sitehub/internal/metrics"
	"github.com/Ladtech/sitehub/internal/route"
)

const notFoundBody = "page not found"

type notFoundHandler struct{}

func (notFoundHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, notFoundBody)
}

// NotFound answers every request the table cannot route.
var NotFound http.Handler = notFoundHandler{}

// Table maps inbound paths to proxy builders. Paths are tried in
// registration order; the first literal equal to, or regexp matching, the
// request path wins.
type Table struct {
	proxies []*route.Builder
	metrics *metrics.Registry
}

func New(m *metrics.Registry) *Table {
	return &Table{metrics: m}
}

// Add registers b under its path. A builder registered under the same path
// replaces the previous one in place.
func (t *Table) Add(b *route.Builder) {
	key := b.Path().Key()
	for i, p := range t.proxies {
		if p.Path().Key() == key {
			t.proxies[i] = b
			return
		}
	}
	t.proxies = append(t.proxies, b)
}

func (t *Table) Len() int { return len(t.proxies) }

// Init builds every registered proxy. The table must not change afterwards.
func (t *Table) Init() *Table {
	for _, p := range t.proxies {
		p.Build()
	}
	return t
}

func (t *Table) Match(path string) *route.Builder {
	for _, p := range t.proxies {
		if _, ok := p.Path().Match(path); ok {
			return p
		}
	}
	return nil
}

var _ http.Handler = (*Table)(nil)

func (t *Table) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b := t.Match(r.URL.Path)
	if b == nil {
		t.observe("", "not_found")
		NotFound.ServeHTTP(w, r)
		return
	}

	proxy := b.Path().String()
	leaf, _ := b.Resolve(stickyID(r, b.CookieName()), r).(*route.Leaf)
	if leaf == nil {
		t.observe(proxy, "unresolved")
		NotFound.ServeHTTP(w, r)
		return
	}
	t.observe(proxy, "resolved")

	r = r.WithContext(route.NewContext(r.Context(), route.Resolved{
		Proxy:      proxy,
		Leaf:       leaf,
		CookieName: b.CookieName(),
		CookiePath: b.CookiePath(),
	}))
	leaf.ServeHTTP(w, r)
}

func (t *Table) observe(proxy, outcome string) {
	if t.metrics != nil {
		t.metrics.IncResolution(proxy, outcome)
	}
}

func stickyID(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Holder serves whichever table was stored last, so a reloaded tree can be
// swapped in without touching the one in use.
type Holder struct {
	current atomic.Pointer[Table]
}

func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.Store(t)
	return h
}

func (h *Holder) Store(t *Table) { h.current.Store(t) }

func (h *Holder) Load() *Table { return h.current.Load() }

func (h *Holder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := h.Load()
	if t == nil {
		NotFound.ServeHTTP(w, r)
		return
	}
	t.ServeHTTP(w, r)
}
