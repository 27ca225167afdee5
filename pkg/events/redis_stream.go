package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStreamPublisher appends events to a capped Redis stream.
type RedisStreamPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStreamPublisher builds a publisher on an existing client.
func NewRedisStreamPublisher(client redis.UniversalClient, stream string, maxLen int64) (*RedisStreamPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		return nil, errors.New("event stream required")
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}, nil
}

// Publish adds the event as one stream entry.
func (p *RedisStreamPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := e.encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id": e.ID,
			"type":     e.Type,
			"pdf_id":   e.PDFID,
			"payload":  string(payload),
		},
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (p *RedisStreamPublisher) Close() error { return nil }
