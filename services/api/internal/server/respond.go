package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"pdfchat/internal/util"
	"pdfchat/services/api/internal/app"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// envelope is the body of every JSON response.
type envelope struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Data    any               `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, envelope{Status: statusSuccess, Message: msg, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Status: statusError, Message: msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// writeAppError renders an app error. Internal causes are logged, not sent.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *app.Error
	if !errors.As(err, &appErr) {
		util.LoggerFromContext(r.Context()).Error("unhandled error", "err", err)
		writeError(w, http.StatusInternalServerError, app.MsgInternal)
		return
	}
	status := statusForKind(appErr.Kind)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "kind", appErr.Kind, "err", err)
	}
	writeJSON(w, status, envelope{Status: statusError, Message: appErr.Message, Errors: appErr.Fields})
}

func statusForKind(kind app.Kind) int {
	switch kind {
	case app.KindValidation:
		return http.StatusBadRequest
	case app.KindAuth:
		return http.StatusUnauthorized
	case app.KindAccess:
		return http.StatusForbidden
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
