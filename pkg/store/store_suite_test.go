package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pdfchat/pkg/domain"
)

// runStoreSuite exercises behaviour every Store implementation must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("users", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := domain.User{ID: "u-1", Email: "a@x.com", PasswordHash: "hash", Name: "A", CreatedAt: time.Now().UTC()}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
		dup := domain.User{ID: "u-2", Email: "a@x.com", PasswordHash: "hash", Name: "B", CreatedAt: time.Now().UTC()}
		if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicateEmail) {
			t.Fatalf("expected duplicate email, got %v", err)
		}
		got, ok, err := s.GetUserByEmail(ctx, "a@x.com")
		if err != nil || !ok {
			t.Fatalf("get by email: ok=%v err=%v", ok, err)
		}
		if got.ID != "u-1" || got.Name != "A" || got.PasswordHash != "hash" {
			t.Fatalf("unexpected user %+v", got)
		}
		if _, ok, err := s.GetUserByID(ctx, "missing"); err != nil || ok {
			t.Fatalf("expected missing user, ok=%v err=%v", ok, err)
		}
	})

	t.Run("refresh ledger", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustCreateUser(t, s, "u-1", "a@x.com")
		mustCreateUser(t, s, "u-2", "b@x.com")
		now := time.Now().UTC()
		rows := []domain.RefreshToken{
			{ID: "t-1", UserID: "u-1", TokenHash: RefreshTokenHash("one"), UserAgent: "ua", IPAddress: "10.0.0.1", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
			{ID: "t-2", UserID: "u-1", TokenHash: RefreshTokenHash("two"), ExpiresAt: now.Add(-time.Minute), CreatedAt: now},
			{ID: "t-3", UserID: "u-2", TokenHash: RefreshTokenHash("three"), ExpiresAt: now.Add(time.Hour), CreatedAt: now},
		}
		for _, row := range rows {
			if err := s.SaveRefreshToken(ctx, row); err != nil {
				t.Fatalf("save refresh token %s: %v", row.ID, err)
			}
		}

		got, ok, err := s.FindRefreshToken(ctx, "u-1", RefreshTokenHash("one"))
		if err != nil || !ok {
			t.Fatalf("find: ok=%v err=%v", ok, err)
		}
		if got.ID != "t-1" || got.UserAgent != "ua" || got.IPAddress != "10.0.0.1" {
			t.Fatalf("unexpected row %+v", got)
		}
		if _, ok, _ := s.FindRefreshToken(ctx, "u-2", RefreshTokenHash("one")); ok {
			t.Fatalf("token of another user must not match")
		}

		deleted, err := s.DeleteRefreshToken(ctx, "t-1")
		if err != nil || !deleted {
			t.Fatalf("first delete: deleted=%v err=%v", deleted, err)
		}
		deleted, err = s.DeleteRefreshToken(ctx, "t-1")
		if err != nil || deleted {
			t.Fatalf("second delete must report nothing removed: deleted=%v err=%v", deleted, err)
		}

		n, err := s.DeleteExpiredRefreshTokens(ctx, now)
		if err != nil || n != 1 {
			t.Fatalf("purge expired: n=%d err=%v", n, err)
		}
		n, err = s.DeleteRefreshTokensByHash(ctx, RefreshTokenHash("three"))
		if err != nil || n != 1 {
			t.Fatalf("delete by hash: n=%d err=%v", n, err)
		}
		n, err = s.DeleteRefreshTokensByHash(ctx, RefreshTokenHash("three"))
		if err != nil || n != 0 {
			t.Fatalf("delete by hash is idempotent: n=%d err=%v", n, err)
		}
	})

	t.Run("pdfs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustCreateUser(t, s, "u-1", "a@x.com")
		mustCreateUser(t, s, "u-2", "b@x.com")
		base := time.Now().UTC()
		mustSavePDF(t, s, "p-1", "u-1", base)
		mustSavePDF(t, s, "p-2", "u-1", base.Add(time.Second))
		mustSavePDF(t, s, "p-3", "u-2", base)

		list, err := s.ListPDFsByOwner(ctx, "u-1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].ID != "p-2" || list[1].ID != "p-1" {
			t.Fatalf("expected newest first, got %+v", list)
		}
		count, err := s.CountOwnedPDFs(ctx, "u-1", []string{"p-1", "p-2", "p-3", "missing"})
		if err != nil || count != 2 {
			t.Fatalf("count owned: %d err=%v", count, err)
		}
		if err := s.SetPDFStatus(ctx, "p-1", domain.PDFStatusFailed, "boom"); err != nil {
			t.Fatalf("set status: %v", err)
		}
		got, ok, err := s.GetPDF(ctx, "p-1")
		if err != nil || !ok || got.Status != domain.PDFStatusFailed || got.ErrorMessage != "boom" {
			t.Fatalf("unexpected pdf %+v ok=%v err=%v", got, ok, err)
		}
		if err := s.SetPDFStatus(ctx, "missing", domain.PDFStatusQueued, ""); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if err := s.DeletePDF(ctx, "p-1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, ok, _ := s.GetPDF(ctx, "p-1"); ok {
			t.Fatalf("expected pdf removed")
		}
		if err := s.DeletePDF(ctx, "p-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found on second delete, got %v", err)
		}
	})

	t.Run("sessions and messages", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustCreateUser(t, s, "u-1", "a@x.com")
		base := time.Now().UTC()
		mustSavePDF(t, s, "p-1", "u-1", base)
		mustSavePDF(t, s, "p-2", "u-1", base)

		if err := s.CreateSession(ctx, domain.ChatSession{ID: "s-1", UserID: "u-1", Name: "first", CreatedAt: base}, []string{"p-1", "p-2"}); err != nil {
			t.Fatalf("create session: %v", err)
		}
		if err := s.CreateSession(ctx, domain.ChatSession{ID: "s-2", UserID: "u-1", Name: "empty", CreatedAt: base.Add(time.Second)}, nil); err != nil {
			t.Fatalf("create empty session: %v", err)
		}
		if err := s.CreateSession(ctx, domain.ChatSession{ID: "s-0", UserID: "u-1", Name: "same time", CreatedAt: base}, []string{"p-1"}); err != nil {
			t.Fatalf("create same-time session: %v", err)
		}

		sessions, err := s.ListSessionsByUser(ctx, "u-1")
		if err != nil {
			t.Fatalf("list sessions: %v", err)
		}
		if len(sessions) != 3 || sessions[0].ID != "s-2" || sessions[1].ID != "s-0" || sessions[2].ID != "s-1" {
			t.Fatalf("expected newest first with id tiebreak, got %+v", sessions)
		}
		if sessions[0].PDFCount != 0 || sessions[1].PDFCount != 1 || sessions[2].PDFCount != 2 {
			t.Fatalf("unexpected pdf counts %d/%d/%d", sessions[0].PDFCount, sessions[1].PDFCount, sessions[2].PDFCount)
		}

		got, ok, err := s.GetSession(ctx, "s-1")
		if err != nil || !ok {
			t.Fatalf("get session: ok=%v err=%v", ok, err)
		}
		if got.UserID != "u-1" || len(got.PDFIDs) != 2 {
			t.Fatalf("unexpected session %+v", got)
		}

		msgs := []domain.ChatMessage{
			{ID: "m-1", SessionID: "s-1", Role: domain.RoleUser, Content: "q", CreatedAt: base},
			{ID: "m-2", SessionID: "s-1", Role: domain.RoleAI, Content: "a", CreatedAt: base.Add(time.Millisecond),
				References: []json.RawMessage{json.RawMessage(`{"pdf_id":"p-1","page":"3","text":"one","content":"two"}`), json.RawMessage(`"loose"`)}},
		}
		for _, m := range msgs {
			if err := s.AppendMessage(ctx, m); err != nil {
				t.Fatalf("append %s: %v", m.ID, err)
			}
		}
		listed, err := s.ListMessages(ctx, "s-1")
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		if len(listed) != 2 || listed[0].ID != "m-1" || listed[1].ID != "m-2" {
			t.Fatalf("unexpected messages %+v", listed)
		}
		if listed[0].References == nil || len(listed[0].References) != 0 {
			t.Fatalf("user message references should be an empty list, got %#v", listed[0].References)
		}
		refs, _ := json.Marshal(listed[1].References)
		if string(refs) != `[{"pdf_id":"p-1","page":"3","text":"one","content":"two"},"loose"]` {
			t.Fatalf("references must round-trip unchanged, got %s", refs)
		}

		if err := s.DeletePDF(ctx, "p-2"); err != nil {
			t.Fatalf("delete pdf: %v", err)
		}
		got, _, _ = s.GetSession(ctx, "s-1")
		if got.PDFCount != 1 {
			t.Fatalf("deleting a pdf must unlink it, count=%d", got.PDFCount)
		}
	})
}

func mustCreateUser(t *testing.T, s Store, id, email string) {
	t.Helper()
	u := domain.User{ID: id, Email: email, PasswordHash: "hash", Name: id, CreatedAt: time.Now().UTC()}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
}

func mustSavePDF(t *testing.T, s Store, id, owner string, created time.Time) {
	t.Helper()
	p := domain.PDF{
		ID:               id,
		OwnerID:          owner,
		OriginalFilename: id + ".pdf",
		StorageKey:       "pdfs/" + id + "/" + id + ".pdf",
		ContentType:      "application/pdf",
		Status:           domain.PDFStatusQueued,
		SizeBytes:        128,
		PageCount:        1,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
	if err := s.SavePDF(context.Background(), p); err != nil {
		t.Fatalf("save pdf %s: %v", id, err)
	}
}
