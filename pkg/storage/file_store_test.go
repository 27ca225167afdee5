package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFileStorePutOpenDelete(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()
	key := "pdfs/p-1/doc.pdf"
	if err := fs.Put(ctx, key, strings.NewReader("%PDF-1.4"), 8, "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := fs.Open(ctx, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "%PDF-1.4" {
		t.Fatalf("unexpected content %q", data)
	}
	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := fs.Open(ctx, key); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("delete is idempotent: %v", err)
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	for _, key := range []string{"../outside.pdf", "/etc/passwd", "", "a/../../b"} {
		if err := fs.Put(context.Background(), key, strings.NewReader("x"), 1, ""); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestSafeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":             "report.pdf",
		"../../etc/passwd":       "passwd",
		`C:\Users\me\thesis.pdf`: "thesis.pdf",
		"  ":                     "document.pdf",
		"..":                     "document.pdf",
		"bad\x00name.pdf":        "bad_name.pdf",
	}
	for in, want := range tests {
		if got := SafeFilename(in); got != want {
			t.Fatalf("SafeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
