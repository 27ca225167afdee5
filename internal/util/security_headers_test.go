package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithSecurityHeaders(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name      string
		path      string
		proto     string
		wantCache string
		wantHSTS  bool
	}{
		{name: "public plain http", path: "/public/health"},
		{name: "auth routes are not cached", path: "/auth/login", wantCache: "no-store"},
		{name: "api over forwarded https", path: "/api/pdfs", proto: "https", wantCache: "no-store", wantHSTS: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tc.proto)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Fatalf("X-Content-Type-Options = %q", got)
			}
			if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
				t.Fatalf("X-Frame-Options = %q", got)
			}
			if got := rec.Header().Get("Cache-Control"); got != tc.wantCache {
				t.Fatalf("Cache-Control = %q, want %q", got, tc.wantCache)
			}
			if got := rec.Header().Get("Strict-Transport-Security"); (got != "") != tc.wantHSTS {
				t.Fatalf("HSTS = %q, want present=%v", got, tc.wantHSTS)
			}
		})
	}
}
