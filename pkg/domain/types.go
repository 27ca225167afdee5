package domain

import (
	"encoding/json"
	"time"
)

type PDFStatus string

const (
	PDFStatusUploaded PDFStatus = "uploaded"
	PDFStatusQueued   PDFStatus = "queued"
	PDFStatusFailed   PDFStatus = "failed"
)

type MessageRole string

const (
	RoleUser MessageRole = "user"
	RoleAI   MessageRole = "ai"
)

// DefaultSessionName is used when a chat session is created without a name.
const DefaultSessionName = "New Chat Session"

type User struct {
	ID           string    `json:"user_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

// RefreshToken is one ledger row. TokenHash is the SHA-256 digest of the
// issued refresh token; the raw token is never stored.
type RefreshToken struct {
	ID        string    `json:"token_id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is returned by register, login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type PDF struct {
	ID               string    `json:"pdf_id"`
	OwnerID          string    `json:"user_id"`
	OriginalFilename string    `json:"filename"`
	StorageKey       string    `json:"-"`
	ContentType      string    `json:"content_type"`
	Status           PDFStatus `json:"status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	SizeBytes        int64     `json:"size_bytes"`
	PageCount        int       `json:"page_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ChatSession struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"session_name"`
	PDFCount  int       `json:"pdf_count"`
	PDFIDs    []string  `json:"pdf_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatMessage struct {
	ID        string      `json:"message_id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	// References are kept exactly as the AI service returned them.
	References []json.RawMessage `json:"references"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Chunk is a page-tagged text slice extracted from a stored PDF.
type Chunk struct {
	Index   int    `json:"index"`
	Page    int    `json:"page"`
	Content string `json:"content"`
}
