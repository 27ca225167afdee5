package util

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Request-Id"
)

// CORSPolicy holds the browser origins allowed to call the API with credentials.
type CORSPolicy struct {
	origins map[string]struct{}
	any     bool
}

// NewCORSPolicy builds a policy from an origin list. "*" allows every origin
// but never together with credentials.
func NewCORSPolicy(origins []string) *CORSPolicy {
	p := &CORSPolicy{origins: make(map[string]struct{}, len(origins))}
	for _, raw := range origins {
		origin := strings.TrimRight(strings.TrimSpace(raw), "/")
		if origin == "" {
			continue
		}
		if origin == "*" {
			p.any = true
			continue
		}
		p.origins[origin] = struct{}{}
	}
	return p
}

func (p *CORSPolicy) allowed(origin string) bool {
	if p == nil || origin == "" {
		return false
	}
	_, ok := p.origins[origin]
	return ok
}

// WithCORS writes CORS headers on every response and answers preflight
// requests with 204 without reaching next.
func WithCORS(policy *CORSPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		origin := r.Header.Get("Origin")
		switch {
		case policy.allowed(origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		case policy != nil && policy.any:
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Max-Age", "600")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
