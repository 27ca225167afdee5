package store

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"pdfchat/pkg/domain"
)

// RefreshTokenHash returns the hex SHA-256 digest stored in the ledger in
// place of the raw refresh token.
func RefreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// matchRefreshToken compares every row digest in constant time and does not
// stop at the first match.
func matchRefreshToken(rows []domain.RefreshToken, tokenHash string) (domain.RefreshToken, bool) {
	var (
		found domain.RefreshToken
		ok    bool
	)
	want := []byte(tokenHash)
	for _, row := range rows {
		if subtle.ConstantTimeCompare([]byte(row.TokenHash), want) == 1 {
			found, ok = row, true
		}
	}
	return found, ok
}
