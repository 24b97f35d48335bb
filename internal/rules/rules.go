/*
Package rules implements the named request predicates used to pick one of
several routes registered at the same level.

A rule is evaluated against the inbound request. Routes are tried in the
order they were registered and the first route whose rule matches wins.

Rules can be written in code with New, or built from configuration with
FromConfig:

	rule: {type: header, key: X-Beta, value: "^on$"}
	rule: {type: cookie, key: group, value: "^a$"}
	rule: {type: method, value: "GET,HEAD"}
*/
package rules

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var ErrInvalidRule = errors.New("invalid rule")

type Rule interface {
	Name() string
	Match(r *http.Request) bool
}

type funcRule struct {
	name string
	fn   func(*http.Request) bool
}

func (f *funcRule) Name() string               { return f.name }
func (f *funcRule) Match(r *http.Request) bool { return f.fn(r) }

// New wraps a plain function.
func New(name string, fn func(*http.Request) bool) Rule {
	return &funcRule{name: name, fn: fn}
}

type (
	headerRule struct {
		name     string
		key      string
		valueExp *regexp.Regexp
	}

	cookieRule struct {
		name     string
		key      string
		valueExp *regexp.Regexp
	}

	queryRule struct {
		name     string
		key      string
		valueExp *regexp.Regexp
	}

	methodRule struct {
		name    string
		methods map[string]struct{}
	}

	hostRule struct {
		name string
		exp  *regexp.Regexp
	}

	pathRule struct {
		name string
		exp  *regexp.Regexp
	}
)

func compile(kind, expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidRule, kind, expr, err)
	}
	return re, nil
}

// Header matches when the named header is present with a value matching expr.
func Header(key, expr string) (Rule, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: header name is required", ErrInvalidRule)
	}
	re, err := compile("header", expr)
	if err != nil {
		return nil, err
	}
	return &headerRule{name: "Header(" + key + ")", key: key, valueExp: re}, nil
}

func (h *headerRule) Name() string { return h.name }

func (h *headerRule) Match(r *http.Request) bool {
	for _, v := range r.Header.Values(h.key) {
		if h.valueExp.MatchString(v) {
			return true
		}
	}
	return false
}

// Cookie matches when the named request cookie has a value matching expr.
func Cookie(key, expr string) (Rule, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: cookie name is required", ErrInvalidRule)
	}
	re, err := compile("cookie", expr)
	if err != nil {
		return nil, err
	}
	return &cookieRule{name: "Cookie(" + key + ")", key: key, valueExp: re}, nil
}

func (c *cookieRule) Name() string { return c.name }

func (c *cookieRule) Match(r *http.Request) bool {
	ck, err := r.Cookie(c.key)
	if err != nil {
		return false
	}
	return c.valueExp.MatchString(ck.Value)
}

// Query matches a query parameter value.
func Query(key, expr string) (Rule, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: query key is required", ErrInvalidRule)
	}
	re, err := compile("query", expr)
	if err != nil {
		return nil, err
	}
	return &queryRule{name: "Query(" + key + ")", key: key, valueExp: re}, nil
}

func (q *queryRule) Name() string { return q.name }

func (q *queryRule) Match(r *http.Request) bool {
	vs, ok := r.URL.Query()[q.key]
	if !ok {
		return false
	}
	for _, v := range vs {
		if q.valueExp.MatchString(v) {
			return true
		}
	}
	return false
}

// Method matches any of the given HTTP methods, case-insensitively.
func Method(methods ...string) (Rule, error) {
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: at least one method is required", ErrInvalidRule)
	}
	m := make(map[string]struct{}, len(methods))
	for _, s := range methods {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			return nil, fmt.Errorf("%w: empty method", ErrInvalidRule)
		}
		m[s] = struct{}{}
	}
	return &methodRule{name: "Method(" + strings.Join(methods, ",") + ")", methods: m}, nil
}

func (m *methodRule) Name() string { return m.name }

func (m *methodRule) Match(r *http.Request) bool {
	_, ok := m.methods[r.Method]
	return ok
}

// Host matches the request host, port stripped.
func Host(expr string) (Rule, error) {
	re, err := compile("host", expr)
	if err != nil {
		return nil, err
	}
	return &hostRule{name: "Host(" + expr + ")", exp: re}, nil
}

func (h *hostRule) Name() string { return h.name }

func (h *hostRule) Match(r *http.Request) bool {
	host := r.Host
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	return h.exp.MatchString(host)
}

func Path(expr string) (Rule, error) {
	re, err := compile("path", expr)
	if err != nil {
		return nil, err
	}
	return &pathRule{name: "Path(" + expr + ")", exp: re}, nil
}

func (p *pathRule) Name() string { return p.name }

func (p *pathRule) Match(r *http.Request) bool { return p.exp.MatchString(r.URL.Path) }

// Always matches every request.
func Always() Rule {
	return New("Always", func(*http.Request) bool { return true })
}
