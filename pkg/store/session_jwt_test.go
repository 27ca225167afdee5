package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-test-secret-test-secret!"

func newTestSigner(t *testing.T, revoker TokenRevoker, opts JWTOptions) *JWTSigner {
	t.Helper()
	s, err := NewJWTSigner(testSecret, revoker, opts)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func TestJWTSignerRoundTrip(t *testing.T) {
	s := newTestSigner(t, nil, JWTOptions{})
	token, issued, err := s.Sign("user-1", TokenAccess, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := s.Verify(context.Background(), token, TokenAccess)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.UserID != "user-1" {
		t.Fatalf("unexpected subject %q / %q", claims.Subject, claims.UserID)
	}
	if claims.ID != issued.ID || claims.ID == "" {
		t.Fatalf("jti mismatch: %q vs %q", claims.ID, issued.ID)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Fatalf("lifetime = %v, want 1h", got)
	}
}

func TestJWTSignerRejectsOtherSecret(t *testing.T) {
	s := newTestSigner(t, nil, JWTOptions{})
	other, err := NewJWTSigner(strings.Repeat("x", MinJWTSecretLength), nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	token, _, err := s.Sign("user-1", TokenAccess, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := other.Verify(context.Background(), token, TokenAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid token with other secret, got %v", err)
	}
}

func TestJWTSignerRejectsTamperedToken(t *testing.T) {
	s := newTestSigner(t, nil, JWTOptions{})
	token, _, err := s.Sign("user-1", TokenRefresh, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tampered := tamperSignature(token)
	if _, err := s.Verify(context.Background(), tampered, TokenRefresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected tampered token to fail, got %v", err)
	}
	if _, err := s.Verify(context.Background(), "not-a-jwt", TokenRefresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected malformed token to fail, got %v", err)
	}
}

func TestJWTSignerRejectsExpired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issuer := newTestSigner(t, nil, JWTOptions{Now: func() time.Time { return past }})
	verifier := newTestSigner(t, nil, JWTOptions{})

	token, _, err := issuer.Sign("user-1", TokenAccess, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(context.Background(), token, TokenAccess); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestJWTSignerEnforcesTokenType(t *testing.T) {
	s := newTestSigner(t, nil, JWTOptions{})
	refresh, _, err := s.Sign("user-1", TokenRefresh, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := s.Verify(context.Background(), refresh, TokenAccess); !errors.Is(err, ErrTokenType) {
		t.Fatalf("refresh token must not pass as access token, got %v", err)
	}
}

func TestJWTSignerRejectsNoneAlgorithm(t *testing.T) {
	s := newTestSigner(t, nil, JWTOptions{})
	now := time.Now()
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID: "user-1",
		Type:   TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    defaultJWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        "jti",
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := s.Verify(context.Background(), unsigned, TokenAccess); err == nil {
		t.Fatalf("expected alg=none token to fail")
	}
}

func TestJWTSignerRevokesByJTI(t *testing.T) {
	s := newTestSigner(t, NewMemoryTokenRevoker(), JWTOptions{})
	ctx := context.Background()
	token, claims, err := s.Sign("user-1", TokenAccess, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := s.Revoke(ctx, claims); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.Verify(ctx, token, TokenAccess); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
}

func TestNewJWTSignerRequiresLongSecret(t *testing.T) {
	if _, err := NewJWTSigner("short", nil, JWTOptions{}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

// tamperSignature swaps the first signature character, which is always
// significant in base64url.
func tamperSignature(token string) string {
	i := strings.LastIndex(token, ".") + 1
	c := byte('A')
	if token[i] == 'A' {
		c = 'B'
	}
	return token[:i] + string(c) + token[i+1:]
}
