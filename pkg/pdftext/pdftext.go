// Package pdftext validates uploaded PDFs and extracts page-tagged text.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"pdfchat/pkg/domain"
)

const (
	DefaultChunkSize    = 1200
	DefaultChunkOverlap = 200
)

var (
	ErrNotPDF   = errors.New("file is not a PDF")
	ErrTooLarge = errors.New("file exceeds size limit")
)

var pdfMagic = []byte("%PDF-")

// Document is a parsed PDF.
type Document struct {
	reader *pdf.Reader
}

// Open parses a PDF. The parser panics on some malformed inputs, so panics
// are turned into ErrNotPDF.
func Open(r io.ReaderAt, size int64) (doc *Document, err error) {
	head := make([]byte, len(pdfMagic))
	if _, err := r.ReadAt(head, 0); err != nil || !bytes.Equal(head, pdfMagic) {
		return nil, ErrNotPDF
	}
	defer func() {
		if rec := recover(); rec != nil {
			doc, err = nil, fmt.Errorf("%w: %v", ErrNotPDF, rec)
		}
	}()
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	if reader.NumPage() == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrNotPDF)
	}
	return &Document{reader: reader}, nil
}

// ReadAll buffers at most limit bytes of r and opens the result.
func ReadAll(r io.Reader, limit int64) (*Document, *bytes.Reader, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read pdf: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, nil, ErrTooLarge
	}
	br := bytes.NewReader(data)
	doc, err := Open(br, int64(len(data)))
	if err != nil {
		return nil, nil, err
	}
	return doc, br, nil
}

// NumPages returns the page count.
func (d *Document) NumPages() int {
	return d.reader.NumPage()
}

// Chunks extracts text page by page and splits it into overlapping chunks.
// Pages that fail to decode are skipped.
func (d *Document) Chunks(size, overlap int) []domain.Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	var chunks []domain.Chunk
	for i := 1; i <= d.reader.NumPage(); i++ {
		text, ok := d.pageText(i)
		if !ok {
			continue
		}
		for _, part := range chunkText(normalizeText(text), size, overlap) {
			chunks = append(chunks, domain.Chunk{Index: len(chunks), Page: i, Content: part})
		}
	}
	return chunks
}

func (d *Document) pageText(n int) (text string, ok bool) {
	defer func() {
		if recover() != nil {
			text, ok = "", false
		}
	}()
	page := d.reader.Page(n)
	if page.V.IsNull() {
		return "", false
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", false
	}
	return text, true
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}

func chunkText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 || size <= 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			chunks = append(chunks, part)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
