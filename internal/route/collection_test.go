package route

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ladtech/sitehub/internal/mapping"
	"github.com/Ladtech/sitehub/internal/rules"
)

func headerRule(t *testing.T, key, value string) rules.Rule {
	t.Helper()
	r, err := rules.Header(key, value)
	require.NoError(t, err)
	return r
}

func leaf(id string, rule rules.Rule) *Leaf {
	return &Leaf{id: id, url: "http://" + id, path: mapping.Literal("/"), rule: rule}
}

func TestRouteCollection_FirstMatchWins(t *testing.T) {
	c := NewRouteCollection()
	c.Add(leaf("r1", headerRule(t, "X-Group", "^1$")))
	c.Add(leaf("r2", headerRule(t, "X-Group", "^[12]$")))
	c.Add(leaf("r3", headerRule(t, "X-Group", "^[123]$")))

	for _, ti := range []struct {
		group string
		want  string
	}{
		{"1", "r1"},
		{"2", "r2"},
		{"3", "r3"},
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Group", ti.group)
		got := c.Resolve("", r)
		require.NotNil(t, got, ti.group)
		assert.Equal(t, ti.want, got.ID(), ti.group)
	}
}

func TestRouteCollection_NoMatchIsNil(t *testing.T) {
	c := NewRouteCollection()
	c.Add(leaf("r1", headerRule(t, "X-Group", "^1$")))
	c.Add(leaf("r2", headerRule(t, "X-Group", "^2$")))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, c.Resolve("", r))
}

func TestRouteCollection_StickyBeforeRules(t *testing.T) {
	c := NewRouteCollection()
	c.Add(leaf("r1", headerRule(t, "X-Group", "^1$")))
	c.Add(leaf("r2", headerRule(t, "X-Group", "^2$")))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Group", "1")
	assert.Equal(t, "r2", c.Resolve("r2", r).ID())
	assert.Equal(t, "r1", c.Resolve("unknown", r).ID())
}

func TestRouteCollection_NoRuleMatchesAll(t *testing.T) {
	c := NewRouteCollection()
	c.Add(leaf("beta", headerRule(t, "X-Beta", "on")))
	c.Add(leaf("catch-all", nil))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "catch-all", c.Resolve("", r).ID())
}

func TestRouteCollection_Transform(t *testing.T) {
	c := NewRouteCollection()
	c.Add(leaf("a", nil))
	c.Add(leaf("b", nil))

	c.Transform(func(e Endpoint) Endpoint {
		l := e.(*Leaf)
		return l.withHandler(http.NotFoundHandler())
	})

	require.Equal(t, 2, c.Len())
	assert.Equal(t, "a", c.endpoints[0].ID())
	assert.Equal(t, "b", c.endpoints[1].ID())
	assert.NotNil(t, c.endpoints[0].(*Leaf).Handler())
}

func TestSplitCollection_NegativeWeight(t *testing.T) {
	c := NewSplitCollection()
	assert.ErrorIs(t, c.Add(leaf("a", nil), -1), ErrInvalidDefinition)
}

func TestSplitCollection_Valid(t *testing.T) {
	c := NewSplitCollection()
	assert.False(t, c.Valid())

	require.NoError(t, c.Add(leaf("zero", nil), 0))
	assert.False(t, c.Valid())
	assert.Nil(t, c.Resolve("", nil))

	require.NoError(t, c.Add(leaf("some", nil), 10))
	assert.True(t, c.Valid())
}

func TestSplitCollection_Distribution(t *testing.T) {
	c := NewSplitCollection()
	weights := map[string]int{"a": 50, "b": 30, "c": 20, "never": 0}
	for _, id := range []string{"a", "b", "c", "never"} {
		require.NoError(t, c.Add(leaf(id, nil), weights[id]))
	}

	const n = 100000
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		counts[c.Resolve("", nil).ID()]++
	}

	assert.Zero(t, counts["never"])
	for id, w := range weights {
		got := float64(counts[id]) / n
		assert.LessOrEqual(t, math.Abs(got-float64(w)/100), 0.02, "endpoint %s frequency %.3f", id, got)
	}
}

func TestSplitCollection_StickyOverridesWeights(t *testing.T) {
	c := NewSplitCollection()
	require.NoError(t, c.Add(leaf("heavy", nil), 100))
	require.NoError(t, c.Add(leaf("light", nil), 0))

	for i := 0; i < 100; i++ {
		assert.Equal(t, "light", c.Resolve("light", nil).ID())
	}
}

func TestSplitCollection_StickyAfterDraw(t *testing.T) {
	c := NewSplitCollection()
	require.NoError(t, c.Add(leaf("a", nil), 50))
	require.NoError(t, c.Add(leaf("b", nil), 50))

	first := c.Resolve("", nil).ID()
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, c.Resolve(first, httptest.NewRequest(http.MethodGet, "/", nil)).ID())
	}
}

func TestSplitCollection_TransformKeepsWeights(t *testing.T) {
	c := NewSplitCollection()
	require.NoError(t, c.Add(leaf("a", nil), 0))
	require.NoError(t, c.Add(leaf("b", nil), 100))

	c.Transform(func(e Endpoint) Endpoint { return e.(*Leaf).withHandler(http.NotFoundHandler()) })

	for i := 0; i < 50; i++ {
		got := c.Resolve("", nil).(*Leaf)
		assert.Equal(t, "b", got.ID())
		assert.NotNil(t, got.Handler())
	}
}

func TestChain_Order(t *testing.T) {
	var calls []string
	stage := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name+">")
				next.ServeHTTP(w, r)
				calls = append(calls, "<"+name)
			})
		}
	}

	h := Chain(stage("outer"), stage("inner"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls = append(calls, "app")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer>", "inner>", "app", "<inner", "<outer"}, calls)
}
