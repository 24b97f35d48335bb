package route

import "net/http"

// Resolver picks exactly one endpoint for a request, or nil. id is the
// sticky endpoint id presented by the client, empty when there is none.
type Resolver interface {
	Resolve(id string, r *http.Request) Endpoint
}

type collection interface {
	Resolver
	Lookup(id string) Endpoint
	Transform(fn func(Endpoint) Endpoint)
	Valid() bool
	Len() int
}

var (
	_ collection = (*RouteCollection)(nil)
	_ collection = (*SplitCollection)(nil)
	_ Resolver   = (*Builder)(nil)
)

// RouteCollection resolves by rule, in registration order.
type RouteCollection struct {
	endpoints []Endpoint
}

func NewRouteCollection() *RouteCollection { return &RouteCollection{} }

func (c *RouteCollection) Add(e Endpoint) { c.endpoints = append(c.endpoints, e) }

func (c *RouteCollection) Len() int { return len(c.endpoints) }

func (c *RouteCollection) Valid() bool { return len(c.endpoints) > 0 }

// Lookup finds the endpoint that is, or contains, id.
func (c *RouteCollection) Lookup(id string) Endpoint {
	if id == "" {
		return nil
	}
	for _, e := range c.endpoints {
		if e.owns(id) {
			return e
		}
	}
	return nil
}

// Resolve honours a sticky id before evaluating rules. An endpoint without a
// rule matches any request.
func (c *RouteCollection) Resolve(id string, r *http.Request) Endpoint {
	if e := c.Lookup(id); e != nil {
		return e
	}
	for _, e := range c.endpoints {
		if rule := e.Rule(); rule == nil || rule.Match(r) {
			return e
		}
	}
	return nil
}

func (c *RouteCollection) Transform(fn func(Endpoint) Endpoint) {
	for i, e := range c.endpoints {
		c.endpoints[i] = fn(e)
	}
}
