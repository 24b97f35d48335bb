package rules

import (
	"fmt"
	"strings"
)

// Config is the configuration form of a rule.
type Config struct {
	// Name overrides the generated rule name, used in logs.
	Name  string
	Type  string
	Key   string
	Value string
}

// FromConfig builds a rule of the given type. Method rules take a comma
// separated list in Value.
func FromConfig(s Config) (Rule, error) {
	var (
		r   Rule
		err error
	)
	switch strings.ToLower(strings.TrimSpace(s.Type)) {
	case "header":
		r, err = Header(s.Key, s.Value)
	case "cookie":
		r, err = Cookie(s.Key, s.Value)
	case "query":
		r, err = Query(s.Key, s.Value)
	case "method":
		r, err = Method(strings.Split(s.Value, ",")...)
	case "host":
		r, err = Host(s.Value)
	case "path":
		r, err = Path(s.Value)
	case "always":
		r = Always()
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRule, s.Type)
	}
	if err != nil {
		return nil, err
	}
	if s.Name != "" {
		return &named{Rule: r, name: s.Name}, nil
	}
	return r, nil
}

type named struct {
	Rule
	name string
}

func (n *named) Name() string { return n.name }
