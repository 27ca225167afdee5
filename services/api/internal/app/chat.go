package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"pdfchat/internal/util"
	"pdfchat/pkg/domain"
	"pdfchat/services/api/internal/aiclient"
)

const maxSessionNameLength = 255

// CreateSessionInput is the body of POST /api/chat/sessions.
type CreateSessionInput struct {
	Name   string   `json:"session_name"`
	PDFIDs []string `json:"pdf_ids"`
}

// SendMessageInput is the body of POST /api/chat/message.
type SendMessageInput struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// MessageExchange is one question and its answer.
type MessageExchange struct {
	UserMessage domain.ChatMessage `json:"user_message"`
	AIMessage   domain.ChatMessage `json:"ai_message"`
	AIResponse  string             `json:"ai_response"`
	References  []json.RawMessage  `json:"references"`
}

// SessionTranscript is a session with its messages in chronological order.
type SessionTranscript struct {
	Session  domain.ChatSession   `json:"session"`
	Messages []domain.ChatMessage `json:"messages"`
}

// CreateSession creates a chat session over PDFs the user owns.
func (a *App) CreateSession(ctx context.Context, user domain.User, in CreateSessionInput) (domain.ChatSession, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = domain.DefaultSessionName
	}
	if utf8.RuneCountInString(name) > maxSessionNameLength {
		return domain.ChatSession{}, validationError(map[string]string{
			"session_name": "The session_name field cannot exceed 255 characters in length.",
		})
	}
	ids := uniqueIDs(in.PDFIDs)
	if len(ids) > 0 {
		for _, id := range ids {
			if !util.IsUUID(id) {
				return domain.ChatSession{}, accessError(MsgInvalidPDFAccess)
			}
		}
		owned, err := a.store.CountOwnedPDFs(ctx, user.ID, ids)
		if err != nil {
			return domain.ChatSession{}, storageError("check pdf ownership", err)
		}
		if owned != len(ids) {
			return domain.ChatSession{}, accessError(MsgInvalidPDFAccess)
		}
	}
	session := domain.ChatSession{
		ID:        util.NewID(),
		UserID:    user.ID,
		Name:      name,
		PDFCount:  len(ids),
		PDFIDs:    ids,
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.CreateSession(ctx, session, ids); err != nil {
		return domain.ChatSession{}, storageError("create session", err)
	}
	return session, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ListSessions returns the user's sessions, newest first, with PDF counts.
func (a *App) ListSessions(ctx context.Context, user domain.User) ([]domain.ChatSession, error) {
	sessions, err := a.store.ListSessionsByUser(ctx, user.ID)
	if err != nil {
		return nil, storageError("list sessions", err)
	}
	if sessions == nil {
		sessions = []domain.ChatSession{}
	}
	return sessions, nil
}

// SessionMessages returns a session the user owns and its messages.
func (a *App) SessionMessages(ctx context.Context, user domain.User, sessionID string) (SessionTranscript, error) {
	session, err := a.ownedSession(ctx, user, sessionID)
	if err != nil {
		return SessionTranscript{}, err
	}
	msgs, err := a.store.ListMessages(ctx, session.ID)
	if err != nil {
		return SessionTranscript{}, storageError("list messages", err)
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return SessionTranscript{Session: session, Messages: msgs}, nil
}

func (a *App) ownedSession(ctx context.Context, user domain.User, sessionID string) (domain.ChatSession, error) {
	if !util.IsUUID(sessionID) {
		return domain.ChatSession{}, accessError(MsgInvalidSessionAccess)
	}
	session, ok, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.ChatSession{}, storageError("get session", err)
	}
	if !ok || session.UserID != user.ID {
		return domain.ChatSession{}, accessError(MsgInvalidSessionAccess)
	}
	return session, nil
}

// SendMessage stores the question, asks the AI service and stores the answer.
// If the AI call fails the question stays stored without a reply.
func (a *App) SendMessage(ctx context.Context, user domain.User, in SendMessageInput) (MessageExchange, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	text := strings.TrimSpace(in.Message)
	if sessionID == "" || text == "" {
		return MessageExchange{}, badRequest(MsgSessionFieldsRequired)
	}
	session, err := a.ownedSession(ctx, user, sessionID)
	if err != nil {
		return MessageExchange{}, err
	}
	if len(session.PDFIDs) == 0 {
		return MessageExchange{}, badRequest(MsgNoPDFsInSession)
	}

	question := domain.ChatMessage{
		ID:         util.NewID(),
		SessionID:  session.ID,
		Role:       domain.RoleUser,
		Content:    text,
		References: []json.RawMessage{},
		CreatedAt:  a.now().UTC(),
	}
	if err := a.store.AppendMessage(ctx, question); err != nil {
		return MessageExchange{}, storageError("save user message", err)
	}

	answer, err := a.ai.Ask(ctx, aiclient.Question{
		Question:  text,
		PDFIDs:    session.PDFIDs,
		UserID:    user.ID,
		SessionID: session.ID,
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("ai request failed", "session_id", session.ID, "err", err)
		return MessageExchange{}, upstreamError("Failed to send message: "+aiFailureReason(err), err)
	}

	refs := answer.References
	if refs == nil {
		refs = []json.RawMessage{}
	}
	answeredAt := a.now().UTC()
	if !answeredAt.After(question.CreatedAt) {
		answeredAt = question.CreatedAt.Add(time.Microsecond)
	}
	reply := domain.ChatMessage{
		ID:         util.NewID(),
		SessionID:  session.ID,
		Role:       domain.RoleAI,
		Content:    answer.Answer,
		References: refs,
		CreatedAt:  answeredAt,
	}
	if err := a.store.AppendMessage(ctx, reply); err != nil {
		return MessageExchange{}, storageError("save ai message", err)
	}
	return MessageExchange{
		UserMessage: question,
		AIMessage:   reply,
		AIResponse:  reply.Content,
		References:  refs,
	}, nil
}

func aiFailureReason(err error) string {
	var apiErr *aiclient.APIError
	switch {
	case errors.Is(err, aiclient.ErrTimeout):
		return "AI service timed out"
	case errors.As(err, &apiErr):
		return "AI processing failed: " + apiErr.Message
	default:
		return "AI service unavailable"
	}
}
