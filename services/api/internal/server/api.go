package server

import (
	"errors"
	"net/http"
	"strings"

	"pdfchat/pkg/domain"
	"pdfchat/services/api/internal/app"
)

// multipart overhead allowed on top of the file limit
const uploadSlackBytes = 1 << 20

type pdfListResponse struct {
	Items []domain.PDF `json:"items"`
	Count int          `json:"count"`
}

type chunksResponse struct {
	PDFID  string         `json:"pdf_id"`
	Chunks []domain.Chunk `json:"chunks"`
	Count  int            `json:"count"`
}

type sessionCreatedResponse struct {
	SessionID   string   `json:"session_id"`
	SessionName string   `json:"session_name"`
	PDFIDs      []string `json:"pdf_ids"`
}

func (s *Server) handleUploadPDF(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+uploadSlackBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is required (field: file)")
		return
	}
	defer file.Close()
	pdf, err := s.app.UploadPDF(r.Context(), user, app.UploadInput{
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "PDF uploaded successfully", pdf)
}

func (s *Server) handlePDFs(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	pdfs, err := s.app.ListPDFs(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", pdfListResponse{Items: pdfs, Count: len(pdfs)})
}

// /api/pdfs/{id} or /api/pdfs/{id}/chunks
func (s *Server) handlePDFByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/pdfs/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if rest == "chunks" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		chunks, err := s.app.PDFChunks(r.Context(), user, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, "", chunksResponse{PDFID: id, Chunks: chunks, Count: len(chunks)})
		return
	}
	if rest != "" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		pdf, err := s.app.GetPDF(r.Context(), user, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, "", pdf)
	case http.MethodDelete:
		if err := s.app.DeletePDF(r.Context(), user, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, "PDF deleted successfully", nil)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		var req app.CreateSessionInput
		if !s.decodeJSON(w, r, "api.chat.create_session", &req) {
			return
		}
		session, err := s.app.CreateSession(r.Context(), user, req)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, "Chat session created successfully", sessionCreatedResponse{
			SessionID:   session.ID,
			SessionName: session.Name,
			PDFIDs:      session.PDFIDs,
		})
	case http.MethodGet:
		sessions, err := s.app.ListSessions(r.Context(), user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, "", sessions)
	default:
		methodNotAllowed(w)
	}
}

// /api/chat/sessions/{id}/messages
func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chat/sessions/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" || rest != "messages" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	transcript, err := s.app.SessionMessages(r.Context(), user, id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", transcript)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.SendMessageInput
	if !s.decodeJSON(w, r, "api.chat.message", &req) {
		return
	}
	exchange, err := s.app.SendMessage(r.Context(), user, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", exchange)
}
