package forward

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Ladtech/sitehub/internal/cookie"
	"github.com/Ladtech/sitehub/internal/route"
)

// Config tunes a Forwarder.
type Config struct {
	// Transport names the registry entry used for downstream calls.
	Transport       string
	UpstreamTimeout time.Duration
	// ReverseProxies maps a downstream url prefix to the path it is served
	// under; matching Location headers are rewritten to point at sitehub.
	ReverseProxies map[string]string
	Logger         log.FieldLogger
}

type reverseProxy struct {
	downstream string
	path       string
}

// Forwarder performs the downstream call of a leaf. It is the
// route.HandlerFactory of every proxy in a routing table.
type Forwarder struct {
	transports Factory
	transport  string
	timeout    time.Duration
	reverse    []reverseProxy
	logger     log.FieldLogger
}

func New(f Factory, c Config) *Forwarder {
	fw := &Forwarder{
		transports: f,
		transport:  c.Transport,
		timeout:    c.UpstreamTimeout,
		logger:     c.Logger,
	}
	if fw.transport == "" {
		fw.transport = ProtoHTTP1
	}
	if fw.logger == nil {
		fw.logger = log.StandardLogger()
	}
	for downstream, path := range c.ReverseProxies {
		fw.reverse = append(fw.reverse, reverseProxy{downstream: downstream, path: path})
	}
	// longest prefix first
	sort.Slice(fw.reverse, func(i, j int) bool {
		return len(fw.reverse[i].downstream) > len(fw.reverse[j].downstream)
	})
	return fw
}

// Handler returns the handler calling the downstream of l.
func (f *Forwarder) Handler(l *route.Leaf) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.forward(w, r, l)
	})
}

func (f *Forwarder) forward(w http.ResponseWriter, r *http.Request, l *route.Leaf) {
	m := l.Mapping(r)
	logger := f.logger.WithFields(log.Fields{"endpoint": l.ID(), "source": m.SourceURL()})

	target, err := m.ComputedURI()
	if err != nil {
		logger.WithError(err).Error("mapping request")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	hdr := cloneHeader(r.Header)
	dropHopByHop(hdr)
	addXFF(hdr, r.RemoteAddr)
	setXFProto(hdr, r)
	setXFHost(hdr, r.Host)

	ctx := r.Context()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var body io.Reader = r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	reqUp, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reqUp.Header = hdr
	reqUp.ContentLength = r.ContentLength
	reqUp.Host = target.Host

	resUp, err := f.transports.Get(f.transport).RoundTrip(reqUp)
	if err != nil {
		logger.WithError(err).WithField("downstream", target.String()).Warn("downstream call failed")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer func() {
		if err := resUp.Body.Close(); err != nil {
			logger.WithError(err).Debug("closing downstream body")
		}
	}()

	dropHopByHop(resUp.Header)
	copyHeaders(w.Header(), resUp.Header)
	f.rewriteCookies(w.Header(), m.Host())
	f.rewriteLocation(w.Header(), r)
	if res, ok := route.FromContext(r.Context()); ok && res.CookieName != "" {
		w.Header().Add("Set-Cookie", stickyCookie(res.CookieName, l.ID(), res.CookiePath))
	}

	if len(resUp.Trailer) > 0 {
		keys := make([]string, 0, len(resUp.Trailer))
		for k := range resUp.Trailer {
			keys = append(keys, k)
		}
		w.Header().Set("Trailer", strings.Join(keys, ","))
	}

	w.WriteHeader(resUp.StatusCode)
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
	if _, err := io.Copy(w, resUp.Body); err != nil {
		logger.WithError(err).Debug("copying downstream body")
	}

	for k, vv := range resUp.Trailer {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
}

func stickyCookie(name, id, path string) string {
	if path == "" {
		path = "/"
	}
	return cookie.New(name, id, cookie.Attribute{Name: "path", Value: path}).String()
}

// rewriteCookies points the domain of downstream cookies at host.
func (f *Forwarder) rewriteCookies(h http.Header, host string) {
	values := h.Values("Set-Cookie")
	if len(values) == 0 || host == "" {
		return
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		c, err := cookie.Parse(v)
		if err != nil {
			continue
		}
		if e, ok := c.Find("domain"); ok {
			c = c.With(cookie.Attribute{Name: e.Key(), Value: host})
		}
		out = append(out, c.String())
	}
	h["Set-Cookie"] = out
}

// rewriteLocation maps redirects to a known downstream back onto sitehub.
func (f *Forwarder) rewriteLocation(h http.Header, r *http.Request) {
	loc := h.Get("Location")
	if loc == "" {
		return
	}
	for _, rp := range f.reverse {
		if !strings.HasPrefix(loc, rp.downstream) {
			continue
		}
		base := url.URL{Scheme: "http", Host: r.Host}
		if r.TLS != nil {
			base.Scheme = "https"
		}
		h.Set("Location", base.String()+rp.path+strings.TrimPrefix(loc, rp.downstream))
		return
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		out[k] = append([]string(nil), vv...)
	}
	return out
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

var hopByHop = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func dropHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, k := range strings.Split(f, ",") {
			if k = textproto.TrimString(k); k != "" {
				h.Del(k)
			}
		}
	}
	for _, k := range hopByHop {
		if k == "TE" && h.Get("TE") == "trailers" {
			continue
		}
		h.Del(k)
	}
}

func addXFF(h http.Header, remoteAddr string) {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || ip == "" {
		return
	}
	const key = "X-Forwarded-For"
	if prior := h.Get(key); prior != "" {
		h.Set(key, prior+", "+ip)
	} else {
		h.Set(key, ip)
	}
}

func setXFHost(h http.Header, host string) {
	h.Set("X-Forwarded-Host", host)
}

func setXFProto(h http.Header, r *http.Request) {
	if r.TLS != nil {
		h.Set("X-Forwarded-Proto", "https")
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
}
