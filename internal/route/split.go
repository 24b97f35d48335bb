package route

import (
	"fmt"
	"net/http"

	"github.com/Ladtech/sitehub/internal/lb"
)

type split struct {
	endpoint Endpoint
	weight   int
}

// SplitCollection resolves by weighted random choice.
type SplitCollection struct {
	splits []split
	picker lb.Picker
	total  int
}

func NewSplitCollection() *SplitCollection { return &SplitCollection{} }

// Add registers e with a percentage weight.
func (c *SplitCollection) Add(e Endpoint, weight int) error {
	if weight < 0 {
		return fmt.Errorf("%w: negative split percentage %d", ErrInvalidDefinition, weight)
	}
	c.splits = append(c.splits, split{endpoint: e, weight: weight})
	c.total += weight
	c.resetPicker()
	return nil
}

func (c *SplitCollection) resetPicker() {
	weights := make([]int, len(c.splits))
	for i, s := range c.splits {
		weights[i] = s.weight
	}
	c.picker = lb.NewWeightedRandom(weights)
}

func (c *SplitCollection) Len() int { return len(c.splits) }

// Total is the sum of all weights.
func (c *SplitCollection) Total() int { return c.total }

// Valid requires at least one endpoint with a positive weight.
func (c *SplitCollection) Valid() bool { return c.total > 0 }

func (c *SplitCollection) Lookup(id string) Endpoint {
	if id == "" {
		return nil
	}
	for _, s := range c.splits {
		if s.endpoint.owns(id) {
			return s.endpoint
		}
	}
	return nil
}

// Resolve returns the endpoint a sticky id points at, whatever the weights,
// and otherwise draws one.
func (c *SplitCollection) Resolve(id string, _ *http.Request) Endpoint {
	if e := c.Lookup(id); e != nil {
		return e
	}
	if c.picker == nil {
		return nil
	}
	i := c.picker.Pick()
	if i < 0 {
		return nil
	}
	return c.splits[i].endpoint
}

func (c *SplitCollection) Transform(fn func(Endpoint) Endpoint) {
	for i := range c.splits {
		c.splits[i].endpoint = fn(c.splits[i].endpoint)
	}
}
