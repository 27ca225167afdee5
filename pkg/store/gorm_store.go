package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"pdfchat/pkg/domain"
)

const migrateLockID int64 = 58104417

// GormStore implements Store using GORM. Postgres in production; any GORM
// dialector works for tests.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens Postgres at dsn and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	return NewGormStoreWithDialector(postgres.Open(dsn))
}

// NewGormStoreWithDialector opens the given dialector and runs auto-migrations.
func NewGormStoreWithDialector(dialector gorm.Dialector) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(allModels()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// withMigrationLock serialises migrations across replicas with a Postgres
// advisory lock held on a dedicated connection.
func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a new user. A taken email yields ErrDuplicateEmail.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return err
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveRefreshToken appends a ledger row.
func (s *GormStore) SaveRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	model := refreshTokenToModel(t)
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error
}

// FindRefreshToken returns the user's ledger row whose digest matches tokenHash.
func (s *GormStore) FindRefreshToken(ctx context.Context, userID, tokenHash string) (domain.RefreshToken, bool, error) {
	var models []RefreshTokenModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&models).Error; err != nil {
		return domain.RefreshToken{}, false, err
	}
	rows := make([]domain.RefreshToken, 0, len(models))
	for _, m := range models {
		rows = append(rows, refreshTokenFromModel(m))
	}
	t, ok := matchRefreshToken(rows, tokenHash)
	return t, ok, nil
}

// DeleteRefreshToken removes one ledger row. Only the caller that actually
// deleted the row gets true.
func (s *GormStore) DeleteRefreshToken(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&RefreshTokenModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteRefreshTokensByHash removes every row carrying tokenHash.
func (s *GormStore) DeleteRefreshTokensByHash(ctx context.Context, tokenHash string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&RefreshTokenModel{}, "token_hash = ?", tokenHash)
	return res.RowsAffected, res.Error
}

// DeleteExpiredRefreshTokens purges rows whose expiry is at or before now.
func (s *GormStore) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&RefreshTokenModel{}, "expires_at <= ?", now.UTC())
	return res.RowsAffected, res.Error
}

// SavePDF stores or updates a PDF record.
func (s *GormStore) SavePDF(ctx context.Context, p domain.PDF) error {
	model := pdfToModel(p)
	return s.db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"original_filename", "storage_key", "content_type", "status", "error_message", "size_bytes", "page_count", "updated_at"}),
	}).Create(&model).Error
}

// SetPDFStatus updates status and error message.
func (s *GormStore) SetPDFStatus(ctx context.Context, id string, status domain.PDFStatus, errMsg string) error {
	res := s.db.WithContext(ctx).Model(&PDFModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPDF retrieves a PDF record.
func (s *GormStore) GetPDF(ctx context.Context, id string) (domain.PDF, bool, error) {
	var model PDFModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PDF{}, false, nil
		}
		return domain.PDF{}, false, err
	}
	return pdfFromModel(model), true, nil
}

// ListPDFsByOwner returns the owner's PDFs, newest first.
func (s *GormStore) ListPDFsByOwner(ctx context.Context, ownerID string) ([]domain.PDF, error) {
	var models []PDFModel
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).
		Order("created_at DESC").Order("id").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.PDF, 0, len(models))
	for _, m := range models {
		res = append(res, pdfFromModel(m))
	}
	return res, nil
}

// CountOwnedPDFs counts distinct ids that exist and belong to ownerID.
func (s *GormStore) CountOwnedPDFs(ctx context.Context, ownerID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&PDFModel{}).
		Where("owner_id = ? AND id IN ?", ownerID, ids).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeletePDF removes a PDF and its session links.
func (s *GormStore) DeletePDF(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&SessionPDFModel{}, "pdf_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&PDFModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CreateSession persists the session and then links its PDFs in one batch.
func (s *GormStore) CreateSession(ctx context.Context, session domain.ChatSession, pdfIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := sessionToModel(session)
		if err := tx.Omit(clause.Associations).Create(&model).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if len(pdfIDs) == 0 {
			return nil
		}
		links := make([]SessionPDFModel, 0, len(pdfIDs))
		for _, id := range pdfIDs {
			links = append(links, SessionPDFModel{SessionID: session.ID, PDFID: id})
		}
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(&links, 100).Error; err != nil {
			return fmt.Errorf("link session pdfs: %w", err)
		}
		return nil
	})
}

// GetSession returns a session with its linked PDF ids.
func (s *GormStore) GetSession(ctx context.Context, id string) (domain.ChatSession, bool, error) {
	db := s.db.WithContext(ctx)
	var model ChatSessionModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ChatSession{}, false, nil
		}
		return domain.ChatSession{}, false, err
	}
	var pdfIDs []string
	if err := db.Model(&SessionPDFModel{}).
		Where("session_id = ?", id).
		Order("pdf_id").
		Pluck("pdf_id", &pdfIDs).Error; err != nil {
		return domain.ChatSession{}, false, err
	}
	session := sessionFromModel(model)
	session.PDFIDs = pdfIDs
	session.PDFCount = len(pdfIDs)
	return session, true, nil
}

type sessionRow struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
	PDFCount  int
}

// ListSessionsByUser returns the user's sessions newest first with PDF counts.
func (s *GormStore) ListSessionsByUser(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	var rows []sessionRow
	if err := s.db.WithContext(ctx).
		Model(&ChatSessionModel{}).
		Select("chat_sessions.id, chat_sessions.user_id, chat_sessions.name, chat_sessions.created_at, COUNT(session_pdfs.pdf_id) AS pdf_count").
		Joins("LEFT JOIN session_pdfs ON session_pdfs.session_id = chat_sessions.id").
		Where("chat_sessions.user_id = ?", userID).
		Group("chat_sessions.id, chat_sessions.user_id, chat_sessions.name, chat_sessions.created_at").
		Order("chat_sessions.created_at DESC").
		Order("chat_sessions.id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ChatSession, 0, len(rows))
	for _, row := range rows {
		res = append(res, domain.ChatSession{
			ID:        row.ID,
			UserID:    row.UserID,
			Name:      row.Name,
			PDFCount:  row.PDFCount,
			CreatedAt: row.CreatedAt,
		})
	}
	return res, nil
}

// AppendMessage records a chat message.
func (s *GormStore) AppendMessage(ctx context.Context, msg domain.ChatMessage) error {
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error
}

// ListMessages returns the session's messages in chronological order.
func (s *GormStore) ListMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		msg, err := messageFromModel(m)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Name:         u.Name,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Name:         m.Name,
		CreatedAt:    m.CreatedAt,
	}
}

func refreshTokenToModel(t domain.RefreshToken) RefreshTokenModel {
	return RefreshTokenModel{
		ID:        t.ID,
		UserID:    t.UserID,
		TokenHash: t.TokenHash,
		UserAgent: t.UserAgent,
		IPAddress: t.IPAddress,
		ExpiresAt: t.ExpiresAt.UTC(),
		CreatedAt: t.CreatedAt.UTC(),
	}
}

func refreshTokenFromModel(m RefreshTokenModel) domain.RefreshToken {
	return domain.RefreshToken{
		ID:        m.ID,
		UserID:    m.UserID,
		TokenHash: m.TokenHash,
		UserAgent: m.UserAgent,
		IPAddress: m.IPAddress,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
	}
}

func pdfToModel(p domain.PDF) PDFModel {
	return PDFModel{
		ID:               p.ID,
		OwnerID:          p.OwnerID,
		OriginalFilename: p.OriginalFilename,
		StorageKey:       p.StorageKey,
		ContentType:      p.ContentType,
		Status:           string(p.Status),
		ErrorMessage:     p.ErrorMessage,
		SizeBytes:        p.SizeBytes,
		PageCount:        p.PageCount,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func pdfFromModel(m PDFModel) domain.PDF {
	return domain.PDF{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		OriginalFilename: m.OriginalFilename,
		StorageKey:       m.StorageKey,
		ContentType:      m.ContentType,
		Status:           domain.PDFStatus(m.Status),
		ErrorMessage:     m.ErrorMessage,
		SizeBytes:        m.SizeBytes,
		PageCount:        m.PageCount,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func sessionToModel(s domain.ChatSession) ChatSessionModel {
	return ChatSessionModel{
		ID:        s.ID,
		UserID:    s.UserID,
		Name:      s.Name,
		CreatedAt: s.CreatedAt,
	}
}

func sessionFromModel(m ChatSessionModel) domain.ChatSession {
	return domain.ChatSession{
		ID:        m.ID,
		UserID:    m.UserID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
	}
}

func messageToModel(msg domain.ChatMessage) (ChatMessageModel, error) {
	refs := msg.References
	if refs == nil {
		refs = []json.RawMessage{}
	}
	raw, err := json.Marshal(refs)
	if err != nil {
		return ChatMessageModel{}, fmt.Errorf("encode references: %w", err)
	}
	return ChatMessageModel{
		ID:         msg.ID,
		SessionID:  msg.SessionID,
		Role:       string(msg.Role),
		Content:    msg.Content,
		References: raw,
		CreatedAt:  msg.CreatedAt,
	}, nil
}

func messageFromModel(m ChatMessageModel) (domain.ChatMessage, error) {
	refs := []json.RawMessage{}
	if len(m.References) > 0 {
		if err := json.Unmarshal(m.References, &refs); err != nil {
			return domain.ChatMessage{}, fmt.Errorf("decode references of message %s: %w", m.ID, err)
		}
		if refs == nil {
			refs = []json.RawMessage{}
		}
	}
	return domain.ChatMessage{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Role:       domain.MessageRole(m.Role),
		Content:    m.Content,
		References: refs,
		CreatedAt:  m.CreatedAt,
	}, nil
}
