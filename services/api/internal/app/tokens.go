package app

import (
	"context"
	"fmt"

	"pdfchat/internal/util"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/store"
)

const (
	maxUserAgentLength = 512
	maxIPLength        = 64
)

// issueTokens signs an access/refresh pair for userID and records the refresh
// token in the ledger.
func (a *App) issueTokens(ctx context.Context, userID string, meta RequestMeta) (domain.TokenPair, error) {
	access, _, err := a.signer.Sign(userID, store.TokenAccess, a.accessTTL)
	if err != nil {
		return domain.TokenPair{}, storageError("sign access token", err)
	}
	refresh, claims, err := a.signer.Sign(userID, store.TokenRefresh, a.refreshTTL)
	if err != nil {
		return domain.TokenPair{}, storageError("sign refresh token", err)
	}
	row := domain.RefreshToken{
		ID:        util.NewID(),
		UserID:    userID,
		TokenHash: store.RefreshTokenHash(refresh),
		UserAgent: truncate(meta.UserAgent, maxUserAgentLength),
		IPAddress: truncate(meta.IP, maxIPLength),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.SaveRefreshToken(ctx, row); err != nil {
		return domain.TokenPair{}, storageError("save refresh token", err)
	}
	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(a.accessTTL.Seconds()),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Authenticate resolves a bearer access token to its user.
func (a *App) Authenticate(ctx context.Context, accessToken string) (domain.User, error) {
	claims, err := a.signer.Verify(ctx, accessToken, store.TokenAccess)
	if err != nil {
		return domain.User{}, &Error{Kind: KindAuth, Message: MsgInvalidAccessToken, Err: err}
	}
	user, ok, err := a.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return domain.User{}, storageError("load user", err)
	}
	if !ok {
		return domain.User{}, authError(MsgInvalidAccessToken)
	}
	return user, nil
}

func (a *App) revokeAccessToken(ctx context.Context, accessToken string) error {
	claims, err := a.signer.Verify(ctx, accessToken, store.TokenAccess)
	if err != nil {
		// Expired or already revoked tokens need no further action.
		return nil
	}
	if err := a.signer.Revoke(ctx, claims); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}
