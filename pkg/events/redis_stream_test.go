package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisStreamPublisherPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p, err := NewRedisStreamPublisher(client, "pdfchat:events", 100)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	ctx := context.Background()
	ev := Event{ID: "e-1", Type: TypePDFUploaded, PDFID: "p-1", UserID: "u-1", OccurredAt: time.Now().UTC()}
	if err := p.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := client.XRange(ctx, "pdfchat:events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one entry, got %d", len(msgs))
	}
	values := msgs[0].Values
	if values["type"] != TypePDFUploaded || values["pdf_id"] != "p-1" {
		t.Fatalf("unexpected entry %+v", values)
	}
	var decoded Event
	if err := json.Unmarshal([]byte(values["payload"].(string)), &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.UserID != "u-1" || decoded.ID != "e-1" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestNewRedisStreamPublisherValidates(t *testing.T) {
	if _, err := NewRedisStreamPublisher(nil, "s", 0); err == nil {
		t.Fatalf("expected error for nil client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewRedisStreamPublisher(client, " ", 0); err == nil {
		t.Fatalf("expected error for empty stream")
	}
}
