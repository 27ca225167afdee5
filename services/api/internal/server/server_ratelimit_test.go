package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ai := newAIServer(t)
	s, err := New(Config{
		App:                     newTestApp(t, ai.URL),
		Redis:                   client,
		LoginRateLimitPerMinute: 1,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := newHTTPServer(t, s)

	body := map[string]string{"email": "u@example.com", "password": "password123"}
	status, _ := doJSON(t, http.MethodPost, srv+"/auth/login", "", body)
	if status != http.StatusUnauthorized {
		t.Fatalf("first request expected 401, got %d", status)
	}

	req := jsonRequest(t, http.MethodPost, srv+"/auth/login", body)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second login request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var alertKeys int
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "pdfchat:api:alerts:") {
			alertKeys++
		}
	}
	if alertKeys == 0 {
		t.Fatalf("expected failed and rate limited attempts to be counted, keys=%v", mr.Keys())
	}
}

func TestRateLimitDisabledWithoutRedis(t *testing.T) {
	ai := newAIServer(t)
	s, err := New(Config{App: newTestApp(t, ai.URL), LoginRateLimitPerMinute: 1})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := newHTTPServer(t, s)
	body := map[string]string{"email": "u@example.com", "password": "password123"}
	for i := 0; i < 3; i++ {
		if status, _ := doJSON(t, http.MethodPost, srv+"/auth/login", "", body); status != http.StatusUnauthorized {
			t.Fatalf("request %d expected 401, got %d", i, status)
		}
	}
}
