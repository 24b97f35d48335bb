package route

import (
	"context"
	"net/http"
)

// Middleware wraps the next stage. A stage may change the request before
// calling next and the response after it; it only skips next when it answers
// the request itself.
type Middleware func(next http.Handler) http.Handler

// Chain composes ms so that ms[0] is the outermost stage.
func Chain(ms ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(ms) - 1; i >= 0; i-- {
			next = ms[i](next)
		}
		return next
	}
}

// HandlerFactory creates the handler performing the downstream call for a
// leaf.
type HandlerFactory func(l *Leaf) http.Handler

type contextKey struct{}

// Resolved is what the dispatcher knows about a request once it is routed.
type Resolved struct {
	Proxy string
	Leaf  *Leaf
	// Cookie names the sticky cookie of the proxy and the path it is set on.
	CookieName string
	CookiePath string
}

func NewContext(ctx context.Context, res Resolved) context.Context {
	return context.WithValue(ctx, contextKey{}, res)
}

func FromContext(ctx context.Context) (Resolved, bool) {
	res, ok := ctx.Value(contextKey{}).(Resolved)
	return res, ok
}
