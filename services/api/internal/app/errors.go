package app

import "fmt"

// Kind classifies an Error for the transport layer.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindAccess     Kind = "access"
	KindNotFound   Kind = "not_found"
	KindUpstream   Kind = "upstream"
	KindStorage    Kind = "storage"
)

// Messages shown to clients.
const (
	MsgValidationFailed      = "Validation failed"
	MsgInvalidCredentials    = "Invalid email or password"
	MsgRefreshTokenRequired  = "Refresh token required"
	MsgInvalidRefreshToken   = "Invalid refresh token"
	MsgRefreshTokenExpired   = "Refresh token invalid or expired"
	MsgInvalidAccessToken    = "Invalid or expired token"
	MsgInvalidPDFAccess      = "Invalid PDF ID or access denied"
	MsgInvalidSessionAccess  = "Invalid session or access denied"
	MsgSessionFieldsRequired = "Session ID and message are required"
	MsgNoPDFsInSession       = "No PDFs in this session"
	MsgPDFNotFound           = "PDF not found"
	MsgInternal              = "Internal server error"
)

// Error is the single error type returned by App operations. Message is safe
// to show to clients; Err is the internal cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func validationError(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: MsgValidationFailed, Fields: fields}
}

func badRequest(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func authError(msg string) *Error {
	return &Error{Kind: KindAuth, Message: msg}
}

func accessError(msg string) *Error {
	return &Error{Kind: KindAccess, Message: msg}
}

func notFoundError(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func upstreamError(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Err: err}
}

func storageError(op string, err error) *Error {
	return &Error{Kind: KindStorage, Message: MsgInternal, Err: fmt.Errorf("%s: %w", op, err)}
}
