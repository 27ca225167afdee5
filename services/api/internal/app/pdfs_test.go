package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"pdfchat/pkg/domain"
	"pdfchat/pkg/events"
	"pdfchat/pkg/pdftext/pdftest"
)

func TestUploadPDFStoresRecordAndQueues(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "a@x.com").User

	p := env.upload(t, user, "../My Notes.pdf")
	if p.Status != domain.PDFStatusQueued {
		t.Fatalf("status = %s, want queued", p.Status)
	}
	if p.OriginalFilename != "My Notes.pdf" || p.PageCount != 1 || p.OwnerID != user.ID {
		t.Fatalf("unexpected record %+v", p)
	}
	if !strings.HasPrefix(p.StorageKey, "pdfs/"+p.ID+"/") {
		t.Fatalf("storage key = %q", p.StorageKey)
	}
	stored, ok, err := env.store.GetPDF(context.Background(), p.ID)
	if err != nil || !ok || stored.Status != domain.PDFStatusQueued {
		t.Fatalf("stored record %+v ok=%v err=%v", stored, ok, err)
	}
	if len(env.events.events) != 1 || env.events.events[0].Type != events.TypePDFUploaded || env.events.events[0].PDFID != p.ID {
		t.Fatalf("unexpected events %+v", env.events.events)
	}
}

func TestUploadPDFMarksFailedWhenPublishFails(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "a@x.com").User
	env.events.err = errors.New("broker down")

	p := env.upload(t, user, "a.pdf")
	if p.Status != domain.PDFStatusFailed || p.ErrorMessage == "" {
		t.Fatalf("expected failed status, got %+v", p)
	}
}

func TestUploadPDFRejectsInvalidFiles(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "a@x.com").User
	valid := pdftest.Build("x")

	tests := []struct {
		name string
		file string
		data []byte
	}{
		{"wrong extension", "notes.txt", valid},
		{"not a pdf", "fake.pdf", []byte("hello world, definitely not a pdf")},
		{"too large", "big.pdf", append([]byte("%PDF-1.4\n"), make([]byte, 2<<20)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.app.UploadPDF(context.Background(), user, UploadInput{Filename: tt.file, Body: bytes.NewReader(tt.data)})
			requireKind(t, err, KindValidation, MsgValidationFailed)
		})
	}
}

func TestPDFOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.register(t, "a@x.com").User
	other := env.register(t, "b@x.com").User
	p := env.upload(t, owner, "a.pdf")

	if _, err := env.app.GetPDF(ctx, owner, p.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	_, err := env.app.GetPDF(ctx, other, p.ID)
	requireKind(t, err, KindNotFound, MsgPDFNotFound)
	_, err = env.app.GetPDF(ctx, owner, "not-a-uuid")
	requireKind(t, err, KindNotFound, MsgPDFNotFound)

	list, err := env.app.ListPDFs(ctx, other)
	if err != nil || len(list) != 0 {
		t.Fatalf("other user list = %+v err=%v", list, err)
	}
	err = env.app.DeletePDF(ctx, other, p.ID)
	requireKind(t, err, KindNotFound, MsgPDFNotFound)
}

func TestDeletePDFRemovesObjectAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "a@x.com").User
	p := env.upload(t, user, "a.pdf")

	if err := env.app.DeletePDF(ctx, user, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.app.objects.Open(ctx, p.StorageKey); err == nil {
		t.Fatalf("expected object removed")
	}
	last := env.events.events[len(env.events.events)-1]
	if last.Type != events.TypePDFDeleted || last.PDFID != p.ID {
		t.Fatalf("unexpected last event %+v", last)
	}
	_, err := env.app.GetPDF(ctx, user, p.ID)
	requireKind(t, err, KindNotFound, MsgPDFNotFound)
}

func TestPDFChunks(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t, "a@x.com").User
	p := env.upload(t, user, "a.pdf")

	chunks, err := env.app.PDFChunks(context.Background(), user, p.ID)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Page != 1 || !strings.Contains(chunks[0].Content, "Cats") {
		t.Fatalf("unexpected chunks %+v", chunks)
	}
}
