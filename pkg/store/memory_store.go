package store

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"pdfchat/pkg/domain"
)

// MemoryStore keeps everything in-process. Used for local runs and tests.
type MemoryStore struct {
	mu sync.RWMutex

	users  map[string]domain.User // key: user ID
	emails map[string]string      // lower(email) -> user ID

	refresh map[string]domain.RefreshToken // key: token ID

	pdfs     map[string]domain.PDF
	pdfOrder []string

	sessions     map[string]domain.ChatSession
	sessionOrder []string
	sessionPDFs  map[string][]string // session ID -> pdf IDs

	messages map[string][]domain.ChatMessage // session ID -> messages
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		emails:      make(map[string]string),
		refresh:     make(map[string]domain.RefreshToken),
		pdfs:        make(map[string]domain.PDF),
		sessions:    make(map[string]domain.ChatSession),
		sessionPDFs: make(map[string][]string),
		messages:    make(map[string][]domain.ChatMessage),
	}
}

func (m *MemoryStore) Close() error { return nil }

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a user; a taken email yields ErrDuplicateEmail.
func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := emailKey(u.Email)
	if _, exists := m.emails[key]; exists {
		return ErrDuplicateEmail
	}
	m.users[u.ID] = u
	m.emails[key] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[emailKey(email)]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) SaveRefreshToken(_ context.Context, t domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[t.ID] = t
	return nil
}

func (m *MemoryStore) FindRefreshToken(_ context.Context, userID, tokenHash string) (domain.RefreshToken, bool, error) {
	m.mu.RLock()
	rows := make([]domain.RefreshToken, 0, 4)
	for _, t := range m.refresh {
		if t.UserID == userID {
			rows = append(rows, t)
		}
	}
	m.mu.RUnlock()
	t, ok := matchRefreshToken(rows, tokenHash)
	return t, ok, nil
}

func (m *MemoryStore) DeleteRefreshToken(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refresh[id]; !ok {
		return false, nil
	}
	delete(m.refresh, id)
	return true, nil
}

func (m *MemoryStore) DeleteRefreshTokensByHash(_ context.Context, tokenHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.refresh {
		if t.TokenHash == tokenHash {
			delete(m.refresh, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.refresh {
		if !t.ExpiresAt.After(now) {
			delete(m.refresh, id)
			n++
		}
	}
	return n, nil
}

// SavePDF stores or replaces a PDF record and tracks insertion order.
func (m *MemoryStore) SavePDF(_ context.Context, p domain.PDF) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pdfs[p.ID]; !exists {
		m.pdfOrder = append(m.pdfOrder, p.ID)
	}
	m.pdfs[p.ID] = p
	return nil
}

func (m *MemoryStore) SetPDFStatus(_ context.Context, id string, status domain.PDFStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pdfs[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.ErrorMessage = errMsg
	p.UpdatedAt = time.Now().UTC()
	m.pdfs[id] = p
	return nil
}

func (m *MemoryStore) GetPDF(_ context.Context, id string) (domain.PDF, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pdfs[id]
	return p, ok, nil
}

// ListPDFsByOwner returns the owner's PDFs, newest first.
func (m *MemoryStore) ListPDFsByOwner(_ context.Context, ownerID string) ([]domain.PDF, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.PDF, 0)
	for i := len(m.pdfOrder) - 1; i >= 0; i-- {
		if p, ok := m.pdfs[m.pdfOrder[i]]; ok && p.OwnerID == ownerID {
			res = append(res, p)
		}
	}
	slices.SortStableFunc(res, func(a, b domain.PDF) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return res, nil
}

func (m *MemoryStore) CountOwnedPDFs(_ context.Context, ownerID string, ids []string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{}, len(ids))
	count := 0
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := m.pdfs[id]; ok && p.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

// DeletePDF removes the PDF and unlinks it from every session.
func (m *MemoryStore) DeletePDF(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pdfs[id]; !ok {
		return ErrNotFound
	}
	delete(m.pdfs, id)
	for i, pid := range m.pdfOrder {
		if pid == id {
			m.pdfOrder = append(m.pdfOrder[:i], m.pdfOrder[i+1:]...)
			break
		}
	}
	for sid, linked := range m.sessionPDFs {
		kept := linked[:0]
		for _, pid := range linked {
			if pid != id {
				kept = append(kept, pid)
			}
		}
		m.sessionPDFs[sid] = kept
	}
	return nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s domain.ChatSession, pdfIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.PDFIDs = nil
	s.PDFCount = 0
	m.sessions[s.ID] = s
	m.sessionOrder = append(m.sessionOrder, s.ID)

	seen := make(map[string]struct{}, len(pdfIDs))
	linked := make([]string, 0, len(pdfIDs))
	for _, id := range pdfIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		linked = append(linked, id)
	}
	m.sessionPDFs[s.ID] = linked
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (domain.ChatSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ChatSession{}, false, nil
	}
	s.PDFIDs = append([]string(nil), m.sessionPDFs[id]...)
	s.PDFCount = len(s.PDFIDs)
	return s, true, nil
}

// ListSessionsByUser returns the user's sessions newest first.
func (m *MemoryStore) ListSessionsByUser(_ context.Context, userID string) ([]domain.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ChatSession, 0)
	for i := len(m.sessionOrder) - 1; i >= 0; i-- {
		s, ok := m.sessions[m.sessionOrder[i]]
		if !ok || s.UserID != userID {
			continue
		}
		s.PDFCount = len(m.sessionPDFs[s.ID])
		res = append(res, s)
	}
	slices.SortStableFunc(res, func(a, b domain.ChatSession) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return res, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.References == nil {
		msg.References = []json.RawMessage{}
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ChatMessage{}, m.messages[sessionID]...), nil
}
