package route

import (
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ladtech/sitehub/internal/mapping"
	"github.com/Ladtech/sitehub/internal/rules"
)

var articles = mapping.Regexp(regexp.MustCompile(`/articles/(.*)`))

func echoFactory(l *Leaf) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, l.ID())
	})
}

func TestNew_RequiresURLOrDefinition(t *testing.T) {
	_, err := New(articles, Options{}, nil)
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	b, err := New(articles, Options{URL: "http://downstream/$1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "default", b.DefaultLeaf().ID())
}

func TestNew_InvalidAfterDefinition(t *testing.T) {
	_, err := New(articles, Options{}, func(*Builder) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = New(articles, Options{}, func(b *Builder) error {
		return b.Split(0, "http://zero", "zero", nil)
	})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestNew_Defaults(t *testing.T) {
	b, err := New(mapping.Literal("/static"), Options{URL: "http://static"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultCookieName, b.CookieName())
	assert.Equal(t, "/static", b.CookiePath())

	b, err = New(articles, Options{URL: "http://a", CookieName: "route", CookiePath: "/articles"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "route", b.CookieName())
	assert.Equal(t, "/articles", b.CookiePath())

	b, err = New(articles, Options{URL: "http://a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/", b.CookiePath())
}

func TestRoutesAndSplitsCannotCoexist(t *testing.T) {
	_, err := New(articles, Options{}, func(b *Builder) error {
		if err := b.Route("http://a", "a", headerRule(t, "X-A", "1"), nil); err != nil {
			return err
		}
		return b.Split(50, "http://b", "b", nil)
	})
	require.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Contains(t, err.Error(), routesWithSplitsMsg)

	_, err = New(articles, Options{}, func(b *Builder) error {
		if err := b.Split(50, "http://b", "b", nil); err != nil {
			return err
		}
		return b.Route("http://a", "a", nil, nil)
	})
	require.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Contains(t, err.Error(), routesWithSplitsMsg)
}

func TestRoute_NestedRequiresRule(t *testing.T) {
	_, err := New(articles, Options{}, func(b *Builder) error {
		return b.Route("", "", nil, func(n *Builder) error {
			return n.Split(100, "http://a", "a", nil)
		})
	})
	require.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Contains(t, err.Error(), invalidRouteDefMsg)
}

func TestSplit_RequiresURLOrNested(t *testing.T) {
	_, err := New(articles, Options{}, func(b *Builder) error {
		return b.Split(100, "", "label", nil)
	})
	require.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Contains(t, err.Error(), invalidSplitMsg)
}

func TestDuplicateLabel(t *testing.T) {
	_, err := New(articles, Options{}, func(b *Builder) error {
		if err := b.Split(50, "http://a", "same", nil); err != nil {
			return err
		}
		return b.Split(50, "http://b", "same", nil)
	})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestDuplicateLabel_AcrossLevels(t *testing.T) {
	arm := func(url string) func(*Builder) error {
		return func(n *Builder) error {
			return n.Route(url, "control", rules.Always(), nil)
		}
	}
	_, err := New(articles, Options{}, func(b *Builder) error {
		if err := b.Split(50, "", "", arm("http://one/")); err != nil {
			return err
		}
		return b.Split(50, "", "", arm("http://two/"))
	})
	require.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Contains(t, err.Error(), `"control"`)

	// the root default owns its id at every depth
	_, err = New(articles, Options{URL: "http://fallback"}, func(b *Builder) error {
		return b.Split(100, "", "", func(n *Builder) error {
			return n.Split(100, "http://a", "default", nil)
		})
	})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestResolve_StickyIDIsUniqueAcrossSubtrees(t *testing.T) {
	b, err := New(articles, Options{}, func(b *Builder) error {
		for _, arm := range []string{"one", "two"} {
			if err := b.Split(50, "", "", func(n *Builder) error {
				return n.Route("http://"+arm+"/", "control-"+arm, rules.Always(), nil)
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/articles/1", nil)
	for i := 0; i < 50; i++ {
		drawn := b.Resolve("", r).(*Leaf)
		again := b.Resolve(drawn.ID(), r).(*Leaf)
		assert.Equal(t, drawn.URL(), again.URL())
	}
}

func TestValid(t *testing.T) {
	b := &Builder{path: articles}
	assert.False(t, b.Valid())

	require.NoError(t, b.claim(kindSplits))
	assert.False(t, b.Valid())

	b.Default("http://fallback")
	assert.True(t, b.Valid())
}

func TestResolve_RuleThenDefault(t *testing.T) {
	b, err := New(articles, Options{URL: "http://fallback"}, func(b *Builder) error {
		return b.Route("http://beta/$1", "beta", headerRule(t, "X-Beta", "^on$"), nil)
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/articles/1", nil)
	assert.Equal(t, "default", b.Resolve("", r).ID())

	r.Header.Set("X-Beta", "on")
	assert.Equal(t, "beta", b.Resolve("", r).ID())
}

func TestResolve_NothingIsNil(t *testing.T) {
	b, err := New(articles, Options{}, func(b *Builder) error {
		return b.Route("http://beta/$1", "beta", headerRule(t, "X-Beta", "^on$"), nil)
	})
	require.NoError(t, err)

	ep := b.Resolve("", httptest.NewRequest(http.MethodGet, "/articles/1", nil))
	assert.Nil(t, ep)
}

func TestResolve_NestedTree(t *testing.T) {
	b, err := New(articles, Options{URL: "http://fallback"}, func(b *Builder) error {
		return b.Route("", "", headerRule(t, "X-Group", "^experiment$"), func(n *Builder) error {
			if err := n.Split(100, "http://a", "a", nil); err != nil {
				return err
			}
			return n.Split(0, "http://b", "b", nil)
		})
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/articles/1", nil)
	r.Header.Set("X-Group", "experiment")
	ep := b.Resolve("", r)
	require.IsType(t, &Leaf{}, ep)
	assert.Equal(t, "a", ep.ID())

	// sticky id of a nested leaf pins the whole path, whatever the rules and weights
	plain := httptest.NewRequest(http.MethodGet, "/articles/1", nil)
	assert.Equal(t, "b", b.Resolve("b", plain).ID())

	assert.Equal(t, "default", b.Resolve("", plain).ID())
}

func TestResolve_NestedSplitsSticky(t *testing.T) {
	b, err := New(articles, Options{}, func(b *Builder) error {
		if err := b.Split(50, "", "", func(n *Builder) error {
			if err := n.Split(50, "http://a1", "a1", nil); err != nil {
				return err
			}
			return n.Split(50, "http://a2", "a2", nil)
		}); err != nil {
			return err
		}
		return b.Split(50, "http://b", "b", nil)
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/articles/1", nil)
	for _, id := range []string{"a1", "a2", "b"} {
		for i := 0; i < 50; i++ {
			assert.Equal(t, id, b.Resolve(id, r).ID())
		}
	}
}

func TestBuild_WrapsLeavesOnce(t *testing.T) {
	wraps := 0
	counting := func(next http.Handler) http.Handler {
		wraps++
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("X-Stage", "counting")
			next.ServeHTTP(w, r)
		})
	}

	b, err := New(articles, Options{URL: "http://fallback", Middleware: []Middleware{counting}, Forward: echoFactory}, func(b *Builder) error {
		if err := b.Route("http://a", "a", headerRule(t, "X-A", "1"), nil); err != nil {
			return err
		}
		return b.Route("", "", headerRule(t, "X-B", "1"), func(n *Builder) error {
			return n.Split(100, "http://b", "b", nil)
		})
	})
	require.NoError(t, err)

	b.Build()
	b.Build()
	assert.True(t, b.Built())
	// a, nested b, default
	assert.Equal(t, 3, wraps)

	for _, ti := range []struct {
		header string
		want   string
	}{
		{"X-A", "a"},
		{"X-B", "b"},
		{"X-None", "default"},
	} {
		r := httptest.NewRequest(http.MethodGet, "/articles/1", nil)
		r.Header.Set(ti.header, "1")
		ep := b.Resolve("", r)
		require.NotNil(t, ep)

		w := httptest.NewRecorder()
		ep.(*Leaf).ServeHTTP(w, r)
		assert.Equal(t, ti.want, w.Body.String())
		assert.Equal(t, "counting", w.Header().Get("X-Stage"))
	}
}

func TestBuild_KeepsIDsAndRules(t *testing.T) {
	rule := headerRule(t, "X-A", "1")
	b, err := New(articles, Options{Forward: echoFactory}, func(b *Builder) error {
		return b.Route("http://a", "a", rule, nil)
	})
	require.NoError(t, err)

	before := b.Routes().endpoints[0]
	b.Build()
	after := b.Routes().endpoints[0]

	assert.NotSame(t, before, after)
	assert.Equal(t, before.ID(), after.ID())
	assert.Equal(t, rule, after.Rule())
}

func TestBuild_RejectsLateRegistration(t *testing.T) {
	b, err := New(articles, Options{URL: "http://a"}, nil)
	require.NoError(t, err)
	b.Build()

	assert.ErrorIs(t, b.Split(100, "http://b", "b", nil), ErrInvalidDefinition)
}

func TestLeaf_UnbuiltIsUnavailable(t *testing.T) {
	w := httptest.NewRecorder()
	leaf("a", nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAutoGeneratedIDs(t *testing.T) {
	b, err := New(articles, Options{}, func(b *Builder) error {
		if err := b.Split(50, "http://a", "", nil); err != nil {
			return err
		}
		return b.Split(50, "http://b", "", nil)
	})
	require.NoError(t, err)

	ids := map[string]bool{}
	for _, s := range b.Splits().splits {
		assert.Regexp(t, `^[0-9a-f]{32}$`, s.endpoint.ID())
		ids[s.endpoint.ID()] = true
	}
	assert.Len(t, ids, 2)
}

func TestSourceURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/articles/1?x=1", nil)
	r.Host = "upstream.com"
	assert.Equal(t, "http://upstream.com/articles/1?x=1", SourceURL(r))

	ctx := NewContext(r.Context(), Resolved{Proxy: "/articles", Leaf: leaf("a", nil)})
	res, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", res.Leaf.ID())
}
