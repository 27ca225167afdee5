// Package events publishes PDF lifecycle notifications for downstream
// processors such as the AI service's indexer.
package events

import (
	"context"
	"encoding/json"
	"time"
)

const (
	TypePDFUploaded = "pdf.uploaded"
	TypePDFDeleted  = "pdf.deleted"
)

// Event is one PDF lifecycle notification.
type Event struct {
	ID         string    `json:"event_id"`
	Type       string    `json:"type"`
	PDFID      string    `json:"pdf_id"`
	UserID     string    `json:"user_id"`
	StorageKey string    `json:"storage_key,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
