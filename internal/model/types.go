package model

// Proxy is one mapped path and the routing tree behind it.
type Proxy struct {
	Path       string
	Regex      bool   // Path is a regular expression
	URL        string // default endpoint, optional when routes or splits exist
	CookiePath string // path of the sticky cookie; empty means derived from Path
	RateLimit  *RateLimit
	Routes     []Route // mutually exclusive with Splits
	Splits     []Split
}

// Route is a rule-selected endpoint. With nested routes or splits it is a
// subtree and URL and Label are ignored.
type Route struct {
	Label   string
	URL     string
	Rule    *Rule
	Default string // default endpoint of the nested level
	Routes  []Route
	Splits  []Split
}

// Split is a weighted endpoint, or a weighted subtree when nested routes or
// splits exist.
type Split struct {
	Percentage int
	Label      string
	URL        string
	Default    string
	Routes     []Route
	Splits     []Split
}

// Nested reports whether the route is a subtree.
func (r Route) Nested() bool { return len(r.Routes) > 0 || len(r.Splits) > 0 }

func (s Split) Nested() bool { return len(s.Routes) > 0 || len(s.Splits) > 0 }

// Rule selects a route. Type is one of header, cookie, query, method, host,
// path or always.
type Rule struct {
	Type  string
	Key   string
	Value string
	Name  string
}

type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// ReverseProxy maps redirects to DownstreamURL back onto Path.
type ReverseProxy struct {
	DownstreamURL string
	Path          string
}
