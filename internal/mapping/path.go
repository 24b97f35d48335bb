package mapping

import (
	"fmt"
	"regexp"
)

// Path is the inbound path pattern a proxy is registered against: either a
// literal compared by equality or an unanchored regular expression.
type Path struct {
	literal string
	re      *regexp.Regexp
}

func Literal(s string) Path { return Path{literal: s} }

func Regexp(re *regexp.Regexp) Path { return Path{re: re} }

// Compile builds a regexp Path from expr.
func Compile(expr string) (Path, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Path{}, fmt.Errorf("path %q: %w", expr, err)
	}
	return Regexp(re), nil
}

func (p Path) IsRegexp() bool { return p.re != nil }

// Match reports whether path matches. For a regexp the returned slice holds
// the capture groups, without the full match.
func (p Path) Match(path string) ([]string, bool) {
	if p.re == nil {
		return nil, path == p.literal
	}
	m := p.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	return m[1:], true
}

func (p Path) String() string {
	if p.re != nil {
		return p.re.String()
	}
	return p.literal
}

// Key distinguishes a literal from a regexp with the same source text.
func (p Path) Key() string {
	if p.re != nil {
		return "re:" + p.re.String()
	}
	return "lit:" + p.literal
}
