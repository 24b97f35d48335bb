// Package mapping computes the downstream URL for an inbound request from a
// mapped path and a mapped URL template. Templates may refer to regexp
// captures of the mapped path as $1, $2, ...
package mapping

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// RequestMapping lives for one request. ComputedURI and Host are evaluated
// once and cached.
type RequestMapping struct {
	sourceURL  string
	mappedURL  string
	mappedPath Path

	uriOnce sync.Once
	uri     *url.URL
	uriErr  error

	hostOnce sync.Once
	host     string
}

func New(sourceURL, mappedURL string, mappedPath Path) *RequestMapping {
	return &RequestMapping{
		sourceURL:  sourceURL,
		mappedURL:  strings.Clone(mappedURL),
		mappedPath: mappedPath,
	}
}

func (m *RequestMapping) SourceURL() string { return m.sourceURL }
func (m *RequestMapping) MappedURL() string { return m.mappedURL }
func (m *RequestMapping) MappedPath() Path  { return m.mappedPath }

// ComputedURI substitutes capture groups into the template and carries the
// source query string over to the result.
func (m *RequestMapping) ComputedURI() (*url.URL, error) {
	m.uriOnce.Do(func() {
		m.uri, m.uriErr = m.compute()
	})
	if m.uriErr != nil {
		return nil, m.uriErr
	}
	u := *m.uri
	return &u, nil
}

// Host is the hostname of the source URL, not of the downstream one.
func (m *RequestMapping) Host() string {
	m.hostOnce.Do(func() {
		if u, err := url.Parse(m.sourceURL); err == nil {
			m.host = u.Hostname()
		}
	})
	return m.host
}

func (m *RequestMapping) compute() (*url.URL, error) {
	src, err := url.Parse(m.sourceURL)
	if err != nil {
		return nil, fmt.Errorf("source url: %w", err)
	}

	target := m.mappedURL
	if m.mappedPath.IsRegexp() {
		if captures, ok := m.mappedPath.Match(src.Path); ok {
			target = substitute(target, captures)
		}
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("mapped url %q: %w", target, err)
	}
	if src.RawQuery != "" {
		if u.RawQuery == "" {
			u.RawQuery = src.RawQuery
		} else {
			u.RawQuery = u.RawQuery + "&" + src.RawQuery
		}
	}
	return u, nil
}

// substitute replaces $n placeholders, highest n first so $1 never consumes
// the prefix of $10.
func substitute(template string, captures []string) string {
	for i := len(captures); i >= 1; i-- {
		template = strings.ReplaceAll(template, "$"+strconv.Itoa(i), captures[i-1])
	}
	return template
}
