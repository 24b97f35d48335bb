// Package middleware holds the stages wrapped around every resolved
// endpoint. Stages see the request after routing; the resolved proxy and
// endpoint are available through route.FromContext.
package middleware

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Ladtech/sitehub/internal/metrics"
	"github.com/Ladtech/sitehub/internal/ratelimit"
	"github.com/Ladtech/sitehub/internal/route"
)

// TransactionIDHeader identifies a request across sitehub and downstream
// services.
const TransactionIDHeader = "Sitehub-Transaction-Id"

// TransactionID stamps a compact uuid on requests that carry none.
func TransactionID() route.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(TransactionIDHeader) == "" {
				r.Header.Set(TransactionIDHeader, strings.ReplaceAll(uuid.NewString(), "-", ""))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog writes one entry per request. sampling is the fraction of
// requests logged; 1 or more logs everything.
func AccessLog(logger log.FieldLogger, sampling float64) route.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			if sampling < 1.0 && rand.Float64() >= sampling {
				return
			}

			fields := log.Fields{
				"method":         r.Method,
				"path":           r.URL.Path,
				"protocol":       r.Proto,
				"status":         sw.status(),
				"duration_ms":    time.Since(start).Milliseconds(),
				"remote_ip":      r.RemoteAddr,
				"user_agent":     r.UserAgent(),
				"bytes_written":  sw.bytes,
				"transaction_id": r.Header.Get(TransactionIDHeader),
			}
			if r.URL.RawQuery != "" {
				fields["query"] = r.URL.RawQuery
			}
			if res, ok := route.FromContext(r.Context()); ok {
				fields["proxy"] = res.Proxy
				fields["endpoint"] = res.Leaf.ID()
				fields["upstream"] = res.Leaf.URL()
			}

			entry := logger.WithFields(fields)
			switch status := sw.status(); {
			case status >= 500:
				entry.Error("request completed")
			case status >= 400:
				entry.Warn("request completed")
			default:
				entry.Info("request completed")
			}
		})
	}
}

// Metrics records request counts and latency per proxy and endpoint.
func Metrics(m *metrics.Registry) route.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			var proxy, endpoint string
			if res, ok := route.FromContext(r.Context()); ok {
				proxy, endpoint = res.Proxy, res.Leaf.ID()
			}
			m.IncRequest(proxy, endpoint, r.Method, strconv.Itoa(sw.status()))
			m.ObserveLatency(proxy, endpoint, time.Since(start))
		})
	}
}

// RateLimit answers 429 itself once the bucket of key is empty.
func RateLimit(l *ratelimit.Limiter, key string) route.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(key) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.statusCode == 0 {
		w.statusCode = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) status() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}
