package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"pdfchat/internal/util"
	"pdfchat/pkg/domain"
	"pdfchat/pkg/events"
	"pdfchat/pkg/pdftext"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
)

const pdfContentType = "application/pdf"

// UploadInput is one uploaded file.
type UploadInput struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// UploadPDF validates, stores and records a PDF, then announces it.
func (a *App) UploadPDF(ctx context.Context, user domain.User, in UploadInput) (domain.PDF, error) {
	name := filepath.Base(strings.TrimSpace(in.Filename))
	if name == "" || name == "." || !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return domain.PDF{}, validationError(map[string]string{"file": "Only PDF files are allowed."})
	}
	if in.Size > a.maxUploadBytes {
		return domain.PDF{}, validationError(map[string]string{"file": fileTooLargeMessage(a.maxUploadBytes)})
	}
	doc, data, err := pdftext.ReadAll(in.Body, a.maxUploadBytes)
	switch {
	case errors.Is(err, pdftext.ErrTooLarge):
		return domain.PDF{}, validationError(map[string]string{"file": fileTooLargeMessage(a.maxUploadBytes)})
	case errors.Is(err, pdftext.ErrNotPDF):
		return domain.PDF{}, validationError(map[string]string{"file": "The file is not a valid PDF."})
	case err != nil:
		return domain.PDF{}, storageError("read upload", err)
	}

	id := util.NewID()
	key := fmt.Sprintf("pdfs/%s/%s", id, storage.SafeFilename(name))
	size := data.Size()
	if err := a.objects.Put(ctx, key, data, size, pdfContentType); err != nil {
		return domain.PDF{}, storageError("store pdf object", err)
	}
	now := a.now().UTC()
	record := domain.PDF{
		ID:               id,
		OwnerID:          user.ID,
		OriginalFilename: name,
		StorageKey:       key,
		ContentType:      pdfContentType,
		Status:           domain.PDFStatusUploaded,
		SizeBytes:        size,
		PageCount:        doc.NumPages(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.store.SavePDF(ctx, record); err != nil {
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			util.LoggerFromContext(ctx).Warn("orphaned pdf object", "key", key, "err", delErr)
		}
		return domain.PDF{}, storageError("save pdf", err)
	}

	record.Status, record.ErrorMessage = domain.PDFStatusQueued, ""
	if err := a.events.Publish(ctx, a.pdfEvent(events.TypePDFUploaded, record)); err != nil {
		util.LoggerFromContext(ctx).Warn("publish pdf.uploaded failed", "pdf_id", id, "err", err)
		record.Status, record.ErrorMessage = domain.PDFStatusFailed, "processing could not be scheduled"
	}
	if err := a.store.SetPDFStatus(ctx, id, record.Status, record.ErrorMessage); err != nil {
		return domain.PDF{}, storageError("update pdf status", err)
	}
	record.UpdatedAt = a.now().UTC()
	return record, nil
}

func fileTooLargeMessage(limit int64) string {
	return fmt.Sprintf("The file exceeds the maximum size of %d MB.", limit>>20)
}

func (a *App) pdfEvent(typ string, p domain.PDF) events.Event {
	return events.Event{
		ID:         util.NewID(),
		Type:       typ,
		PDFID:      p.ID,
		UserID:     p.OwnerID,
		StorageKey: p.StorageKey,
		Filename:   p.OriginalFilename,
		OccurredAt: a.now().UTC(),
	}
}

// ListPDFs returns the user's PDFs, newest first.
func (a *App) ListPDFs(ctx context.Context, user domain.User) ([]domain.PDF, error) {
	pdfs, err := a.store.ListPDFsByOwner(ctx, user.ID)
	if err != nil {
		return nil, storageError("list pdfs", err)
	}
	if pdfs == nil {
		pdfs = []domain.PDF{}
	}
	return pdfs, nil
}

// GetPDF returns one PDF owned by user. PDFs of other users look missing.
func (a *App) GetPDF(ctx context.Context, user domain.User, id string) (domain.PDF, error) {
	if !util.IsUUID(id) {
		return domain.PDF{}, notFoundError(MsgPDFNotFound)
	}
	p, ok, err := a.store.GetPDF(ctx, id)
	if err != nil {
		return domain.PDF{}, storageError("get pdf", err)
	}
	if !ok || p.OwnerID != user.ID {
		return domain.PDF{}, notFoundError(MsgPDFNotFound)
	}
	return p, nil
}

// DeletePDF removes the record, its session links and the stored object.
func (a *App) DeletePDF(ctx context.Context, user domain.User, id string) error {
	p, err := a.GetPDF(ctx, user, id)
	if err != nil {
		return err
	}
	if err := a.store.DeletePDF(ctx, p.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError(MsgPDFNotFound)
		}
		return storageError("delete pdf", err)
	}
	logger := util.LoggerFromContext(ctx)
	if err := a.objects.Delete(ctx, p.StorageKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		logger.Warn("delete pdf object failed", "pdf_id", p.ID, "key", p.StorageKey, "err", err)
	}
	if err := a.events.Publish(ctx, a.pdfEvent(events.TypePDFDeleted, p)); err != nil {
		logger.Warn("publish pdf.deleted failed", "pdf_id", p.ID, "err", err)
	}
	return nil
}

// PDFChunks extracts page-tagged text chunks from a stored PDF.
func (a *App) PDFChunks(ctx context.Context, user domain.User, id string) ([]domain.Chunk, error) {
	p, err := a.GetPDF(ctx, user, id)
	if err != nil {
		return nil, err
	}
	rc, err := a.objects.Open(ctx, p.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, notFoundError(MsgPDFNotFound)
		}
		return nil, storageError("open pdf object", err)
	}
	defer rc.Close()
	doc, _, err := pdftext.ReadAll(rc, a.maxUploadBytes)
	if err != nil {
		return nil, storageError("parse stored pdf", err)
	}
	chunks := doc.Chunks(pdftext.DefaultChunkSize, pdftext.DefaultChunkOverlap)
	if chunks == nil {
		chunks = []domain.Chunk{}
	}
	return chunks, nil
}
