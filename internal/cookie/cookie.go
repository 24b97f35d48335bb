// Package cookie is a structural model of a single cookie header value:
// a name/value pair followed by attributes (Path=/) and flags (Secure).
// Attribute values are not validated.
package cookie

import (
	"errors"
	"strings"
)

const (
	separator          = ";"
	separatorWithSpace = "; "
	equals             = "="
)

var ErrEmpty = errors.New("cookie: empty header value")

// Entry is either an Attribute or a Flag.
type Entry interface {
	Key() string
	String() string
}

type Attribute struct {
	Name  string
	Value string
}

func (a Attribute) Key() string    { return a.Name }
func (a Attribute) String() string { return a.Name + equals + a.Value }

type Flag struct {
	Name string
}

func (f Flag) Key() string    { return f.Name }
func (f Flag) String() string { return f.Name }

// Cookie is immutable once parsed.
type Cookie struct {
	name     string
	value    string
	hasValue bool
	entries  []Entry
}

// New builds a cookie with a value.
func New(name, value string, entries ...Entry) *Cookie {
	return &Cookie{name: name, value: value, hasValue: true, entries: append([]Entry(nil), entries...)}
}

// Parse splits a header value on ';'. The first segment is always taken as
// the name/value pair; without '=' the cookie has a name and no value.
func Parse(header string) (*Cookie, error) {
	if strings.TrimSpace(header) == "" {
		return nil, ErrEmpty
	}

	segments := strings.Split(header, separator)
	c := &Cookie{}
	for i, s := range segments {
		e := parseEntry(s)
		if i == 0 {
			c.name = e.Key()
			if a, ok := e.(Attribute); ok {
				c.value = a.Value
				c.hasValue = true
			}
			continue
		}
		if e.Key() == "" {
			// trailing or doubled separators
			continue
		}
		c.entries = append(c.entries, e)
	}
	return c, nil
}

func parseEntry(s string) Entry {
	s = strings.TrimSpace(s)
	name, value, found := strings.Cut(s, equals)
	if !found {
		return Flag{Name: s}
	}
	return Attribute{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}
}

func (c *Cookie) Name() string { return c.name }

// Value reports the cookie value and whether the first segment carried one.
func (c *Cookie) Value() (string, bool) { return c.value, c.hasValue }

// Entries returns a copy of the attributes and flags in their original order.
func (c *Cookie) Entries() []Entry { return append([]Entry(nil), c.entries...) }

// Find looks up an attribute or flag by name, ignoring case.
func (c *Cookie) Find(name string) (Entry, bool) {
	for _, e := range c.entries {
		if strings.EqualFold(e.Key(), name) {
			return e, true
		}
	}
	return nil, false
}

// With returns a copy of c where the attribute of the same name is replaced,
// or appended when c has none.
func (c *Cookie) With(a Attribute) *Cookie {
	out := &Cookie{name: c.name, value: c.value, hasValue: c.hasValue}
	replaced := false
	for _, e := range c.entries {
		if !replaced && strings.EqualFold(e.Key(), a.Name) {
			out.entries = append(out.entries, a)
			replaced = true
			continue
		}
		out.entries = append(out.entries, e)
	}
	if !replaced {
		out.entries = append(out.entries, a)
	}
	return out
}

func (c *Cookie) String() string {
	parts := make([]string, 0, len(c.entries)+1)
	if c.hasValue {
		parts = append(parts, c.name+equals+c.value)
	} else {
		parts = append(parts, c.name)
	}
	for _, e := range c.entries {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, separatorWithSpace)
}
