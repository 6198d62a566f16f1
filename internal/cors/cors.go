// Package cors resolves per-request CORS headers from the configured
// allow-list and the production Pages domains.
package cors

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	productionApex   = "https://project-arrowhead.pages.dev"
	productionSuffix = ".project-arrowhead.pages.dev"

	allowHeaders = "Content-Type, Authorization, Accept, X-Requested-With"
	maxAge       = "86400"
)

var devOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
	"http://localhost:5000",
}

// Policy holds the allowed origin set. It is immutable after construction.
type Policy struct {
	allowed map[string]struct{}
}

// NewPolicy builds the allow-list from PUBLIC_SITE_URL, the comma separated
// ALLOWED_ORIGINS override and the local dev servers.
func NewPolicy(siteURL, allowedOrigins string) *Policy {
	p := &Policy{allowed: make(map[string]struct{})}
	if site := strings.TrimSuffix(strings.TrimSpace(siteURL), "/"); site != "" {
		p.allowed[site] = struct{}{}
	}
	for _, origin := range strings.Split(allowedOrigins, ",") {
		origin = strings.TrimSuffix(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		p.allowed[origin] = struct{}{}
	}
	for _, origin := range devOrigins {
		p.allowed[origin] = struct{}{}
	}
	return p
}

// NormalizeOrigin reduces an Origin header to scheme://host. Values that do
// not parse as an absolute URL yield "".
func NormalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Allows reports whether the normalized origin may read responses.
func (p *Policy) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	if _, ok := p.allowed[origin]; ok {
		return true
	}
	return origin == productionApex || strings.HasSuffix(origin, productionSuffix)
}

// Headers computes the CORS headers for one response. methods lists the
// route's verbs; OPTIONS and HEAD are always appended.
func (p *Policy) Headers(originHeader string, methods []string) http.Header {
	header := make(http.Header)
	header.Set("Access-Control-Allow-Methods", strings.Join(append(append([]string(nil), methods...), http.MethodOptions, http.MethodHead), ", "))
	header.Set("Access-Control-Allow-Headers", allowHeaders)
	header.Set("Access-Control-Max-Age", maxAge)
	header.Set("Vary", "Origin")
	if origin := NormalizeOrigin(originHeader); p.Allows(origin) {
		header.Set("Access-Control-Allow-Origin", origin)
	}
	return header
}

// Apply copies the computed headers onto dst.
func (p *Policy) Apply(dst http.Header, originHeader string, methods []string) {
	for key, values := range p.Headers(originHeader, methods) {
		dst[key] = values
	}
}
