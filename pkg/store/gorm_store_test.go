package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"

	"pdfchat/pkg/domain"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	return openSQLiteStore(t)
}

func openSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	s, err := NewGormStoreWithDialector(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStoreSQLite(t *testing.T) {
	runStoreSuite(t, newSQLiteStore)
}

func TestGormStoreListMessagesRejectsCorruptReferences(t *testing.T) {
	s := openSQLiteStore(t)
	ctx := context.Background()
	mustCreateUser(t, s, "u-1", "a@x.com")
	if err := s.CreateSession(ctx, domain.ChatSession{ID: "s-1", UserID: "u-1", Name: "n", CreatedAt: time.Now().UTC()}, nil); err != nil {
		t.Fatalf("create session: %v", err)
	}
	row := ChatMessageModel{
		ID:         "m-1",
		SessionID:  "s-1",
		Role:       string(domain.RoleAI),
		Content:    "a",
		References: datatypes.JSON(`{not json`),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		t.Fatalf("insert row: %v", err)
	}
	msgs, err := s.ListMessages(ctx, "s-1")
	if err == nil {
		t.Fatalf("expected decode error, got %+v", msgs)
	}
	if !strings.Contains(err.Error(), "m-1") {
		t.Fatalf("error should name the message, got %v", err)
	}
}
