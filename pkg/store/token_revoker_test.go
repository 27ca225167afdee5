package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryTokenRevoker(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryTokenRevoker()
	if err := r.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := r.Revoke(ctx, "jti-2", -time.Second); err != nil {
		t.Fatalf("revoke expired: %v", err)
	}
	if ok, _ := r.IsRevoked(ctx, "jti-1"); !ok {
		t.Fatalf("expected jti-1 revoked")
	}
	if ok, _ := r.IsRevoked(ctx, "jti-2"); ok {
		t.Fatalf("expired revocation should be ignored")
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	r := NewRedisTokenRevoker(client, "test:revoked")
	if err := r.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !mr.Exists("test:revoked:jti-1") {
		t.Fatalf("expected revocation key in redis")
	}
	if ok, err := r.IsRevoked(ctx, "jti-1"); err != nil || !ok {
		t.Fatalf("expected revoked, ok=%v err=%v", ok, err)
	}

	mr.FastForward(2 * time.Minute)
	if ok, err := r.IsRevoked(ctx, "jti-1"); err != nil || ok {
		t.Fatalf("expected revocation to expire, ok=%v err=%v", ok, err)
	}
}
