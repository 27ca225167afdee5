package app

import (
	"context"
	"errors"
	"strings"

	"pdfchat/internal/util"
	"pdfchat/pkg/auth"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/store"
)

// RegisterInput is the body of POST /auth/register.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required,max=255"`
}

// LoginInput is the body of POST /auth/login. It is not validated; any
// mismatch is reported as invalid credentials.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User   domain.User
	Tokens domain.TokenPair
}

const msgEmailTaken = "The email field must contain a unique value."

// Register creates a user and issues its first token pair.
func (a *App) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if fields := validateStruct(in); fields != nil {
		return AuthResult{}, validationError(fields)
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return AuthResult{}, validationError(map[string]string{"password": err.Error()})
	}
	if _, exists, err := a.store.GetUserByEmail(ctx, in.Email); err != nil {
		return AuthResult{}, storageError("check email", err)
	} else if exists {
		return AuthResult{}, validationError(map[string]string{"email": msgEmailTaken})
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return AuthResult{}, storageError("hash password", err)
	}
	user := domain.User{
		ID:           util.NewID(),
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.Name,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return AuthResult{}, validationError(map[string]string{"email": msgEmailTaken})
		}
		return AuthResult{}, storageError("create user", err)
	}
	tokens, err := a.issueTokens(ctx, user.ID, meta)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: user, Tokens: tokens}, nil
}

// Login checks credentials and issues a token pair. Unknown emails and wrong
// passwords fail the same way and cost one bcrypt comparison either way.
func (a *App) Login(ctx context.Context, in LoginInput, meta RequestMeta) (AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	user, ok, err := a.store.GetUserByEmail(ctx, in.Email)
	if err != nil {
		return AuthResult{}, storageError("load user", err)
	}
	stored := ""
	if ok {
		stored = user.PasswordHash
	}
	if !auth.CheckPassword(in.Password, stored) {
		return AuthResult{}, authError(MsgInvalidCredentials)
	}
	tokens, err := a.issueTokens(ctx, user.ID, meta)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: user, Tokens: tokens}, nil
}

// Refresh redeems a refresh token exactly once and issues a new pair.
func (a *App) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (domain.TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.TokenPair{}, badRequest(MsgRefreshTokenRequired)
	}
	claims, err := a.signer.Verify(ctx, refreshToken, store.TokenRefresh)
	if err != nil {
		return domain.TokenPair{}, &Error{Kind: KindAuth, Message: MsgInvalidRefreshToken, Err: err}
	}
	row, ok, err := a.store.FindRefreshToken(ctx, claims.UserID, store.RefreshTokenHash(refreshToken))
	if err != nil {
		return domain.TokenPair{}, storageError("find refresh token", err)
	}
	if !ok {
		return domain.TokenPair{}, authError(MsgRefreshTokenExpired)
	}
	if !row.ExpiresAt.After(a.now()) {
		if _, err := a.store.DeleteRefreshToken(ctx, row.ID); err != nil {
			util.LoggerFromContext(ctx).Warn("delete expired refresh token failed", "err", err)
		}
		return domain.TokenPair{}, authError(MsgRefreshTokenExpired)
	}
	deleted, err := a.store.DeleteRefreshToken(ctx, row.ID)
	if err != nil {
		return domain.TokenPair{}, storageError("consume refresh token", err)
	}
	if !deleted {
		// A concurrent request redeemed it first.
		return domain.TokenPair{}, authError(MsgRefreshTokenExpired)
	}
	if _, exists, err := a.store.GetUserByID(ctx, row.UserID); err != nil {
		return domain.TokenPair{}, storageError("load user", err)
	} else if !exists {
		return domain.TokenPair{}, authError(MsgRefreshTokenExpired)
	}
	return a.issueTokens(ctx, row.UserID, meta)
}

// Logout deletes the ledger row for refreshToken. When accessToken is set it
// is revoked until it expires. Repeated calls succeed.
func (a *App) Logout(ctx context.Context, refreshToken, accessToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return badRequest(MsgRefreshTokenRequired)
	}
	if _, err := a.store.DeleteRefreshTokensByHash(ctx, store.RefreshTokenHash(refreshToken)); err != nil {
		return storageError("delete refresh token", err)
	}
	if accessToken != "" {
		if err := a.revokeAccessToken(ctx, accessToken); err != nil {
			util.LoggerFromContext(ctx).Warn("access token revoke failed", "err", err)
		}
	}
	return nil
}
