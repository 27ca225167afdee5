package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultJWTIssuer = "pdfchat"
	// MinJWTSecretLength is the minimum HS256 secret size in bytes.
	MinJWTSecretLength = 32
)

var defaultJWTLeeway = 30 * time.Second

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")
	ErrTokenType    = errors.New("unexpected token type")
)

// TokenType separates access tokens from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims carried by both token types. UserID mirrors the subject.
type Claims struct {
	UserID string    `json:"user_id"`
	Type   TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// JWTOptions configures claim validation.
type JWTOptions struct {
	Issuer string
	Leeway time.Duration
	Now    func() time.Time
}

// JWTSigner issues and verifies HS256 tokens with one shared secret.
type JWTSigner struct {
	secret  []byte
	issuer  string
	leeway  time.Duration
	now     func() time.Time
	revoker TokenRevoker
}

// NewJWTSigner builds a signer. revoker may be nil.
func NewJWTSigner(secret string, revoker TokenRevoker, opts JWTOptions) (*JWTSigner, error) {
	if len(secret) < MinJWTSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinJWTSecretLength)
	}
	opts = normalizeJWTOptions(opts)
	return &JWTSigner{
		secret:  []byte(secret),
		issuer:  opts.Issuer,
		leeway:  opts.Leeway,
		now:     opts.Now,
		revoker: revoker,
	}, nil
}

// Sign issues a token of typ for userID valid for ttl.
func (s *JWTSigner) Sign(userID string, typ TokenType, ttl time.Duration) (string, Claims, error) {
	if strings.TrimSpace(userID) == "" {
		return "", Claims{}, errors.New("token subject required")
	}
	now := s.now().UTC()
	claims := Claims{
		UserID: userID,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature, structure, expiry, type and, for access tokens,
// revocation.
func (s *JWTSigner) Verify(ctx context.Context, token string, typ TokenType) (Claims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != typ {
		return Claims{}, ErrTokenType
	}
	if typ == TokenAccess && s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Claims{}, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Revoke blocks an access token's jti until it would expire anyway.
func (s *JWTSigner) Revoke(ctx context.Context, claims Claims) error {
	if s.revoker == nil || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now()) + s.leeway
	return s.revoker.Revoke(ctx, claims.ID, ttl)
}

func (s *JWTSigner) parse(token string) (Claims, error) {
	claims := Claims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrTokenInvalid
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.UserID != claims.Subject {
		return Claims{}, fmt.Errorf("%w: subject mismatch", ErrTokenInvalid)
	}
	if strings.TrimSpace(claims.ID) == "" {
		return Claims{}, fmt.Errorf("%w: jti missing", ErrTokenInvalid)
	}
	return claims, nil
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return opts
}
