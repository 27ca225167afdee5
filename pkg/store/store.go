package store

import (
	"context"
	"errors"
	"time"

	"pdfchat/pkg/domain"
)

var (
	// ErrDuplicateEmail is returned by CreateUser when the email is taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrNotFound is returned by updates that target a missing row.
	ErrNotFound = errors.New("record not found")
)

// Store defines persistence for users, the refresh token ledger, PDFs,
// chat sessions and chat messages.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)

	// refresh token ledger
	SaveRefreshToken(ctx context.Context, t domain.RefreshToken) error
	FindRefreshToken(ctx context.Context, userID, tokenHash string) (domain.RefreshToken, bool, error)
	// DeleteRefreshToken removes one row and reports whether this call removed it.
	DeleteRefreshToken(ctx context.Context, id string) (bool, error)
	DeleteRefreshTokensByHash(ctx context.Context, tokenHash string) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)

	// pdfs
	SavePDF(ctx context.Context, p domain.PDF) error
	SetPDFStatus(ctx context.Context, id string, status domain.PDFStatus, errMsg string) error
	GetPDF(ctx context.Context, id string) (domain.PDF, bool, error)
	ListPDFsByOwner(ctx context.Context, ownerID string) ([]domain.PDF, error)
	// CountOwnedPDFs returns how many of ids exist and belong to ownerID.
	CountOwnedPDFs(ctx context.Context, ownerID string, ids []string) (int, error)
	DeletePDF(ctx context.Context, id string) error

	// chat sessions
	CreateSession(ctx context.Context, s domain.ChatSession, pdfIDs []string) error
	GetSession(ctx context.Context, id string) (domain.ChatSession, bool, error)
	ListSessionsByUser(ctx context.Context, userID string) ([]domain.ChatSession, error)

	// chat messages
	AppendMessage(ctx context.Context, msg domain.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)

	Close() error
}
