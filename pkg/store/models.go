package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Name         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type RefreshTokenModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"size:36;not null;index"`
	TokenHash string    `gorm:"size:64;not null;index"`
	UserAgent string    `gorm:"size:512"`
	IPAddress string    `gorm:"size:64"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`

	User UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (RefreshTokenModel) TableName() string { return "refresh_tokens" }

type PDFModel struct {
	ID               string `gorm:"primaryKey;size:36"`
	OwnerID          string `gorm:"size:36;not null;index"`
	OriginalFilename string `gorm:"not null"`
	StorageKey       string `gorm:"not null"`
	ContentType      string
	Status           string `gorm:"not null"`
	ErrorMessage     string
	SizeBytes        int64     `gorm:"not null"`
	PageCount        int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`

	Owner UserModel `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
}

func (PDFModel) TableName() string { return "pdfs" }

type ChatSessionModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"size:36;not null;index"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`

	User UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (ChatSessionModel) TableName() string { return "chat_sessions" }

// SessionPDFModel is the many-to-many join between sessions and PDFs.
type SessionPDFModel struct {
	SessionID string `gorm:"primaryKey;size:36"`
	PDFID     string `gorm:"primaryKey;size:36;index"`

	Session ChatSessionModel `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	PDF     PDFModel         `gorm:"foreignKey:PDFID;constraint:OnDelete:CASCADE"`
}

func (SessionPDFModel) TableName() string { return "session_pdfs" }

type ChatMessageModel struct {
	ID         string         `gorm:"primaryKey;size:36"`
	SessionID  string         `gorm:"size:36;not null;index:idx_messages_session_created,priority:1"`
	Role       string         `gorm:"size:8;not null"`
	Content    string         `gorm:"type:text;not null"`
	References datatypes.JSON `gorm:"column:references_json"`
	CreatedAt  time.Time      `gorm:"not null;index:idx_messages_session_created,priority:2"`

	Session ChatSessionModel `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (ChatMessageModel) TableName() string { return "chat_messages" }

func allModels() []any {
	return []any{
		&UserModel{},
		&RefreshTokenModel{},
		&PDFModel{},
		&ChatSessionModel{},
		&SessionPDFModel{},
		&ChatMessageModel{},
	}
}
