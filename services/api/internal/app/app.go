package app

import (
	"context"
	"fmt"
	"time"

	"pdfchat/pkg/events"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
	"pdfchat/services/api/internal/aiclient"
)

const (
	defaultAccessTTL      = time.Hour
	defaultRefreshTTL     = 7 * 24 * time.Hour
	defaultMaxUploadBytes = 50 << 20
)

// Asker answers questions about a set of PDFs.
type Asker interface {
	Ask(ctx context.Context, q aiclient.Question) (aiclient.Answer, error)
	Ping(ctx context.Context) (int, error)
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Store          store.Store
	Signer         *store.JWTSigner
	Objects        storage.ObjectStore
	Events         events.Publisher
	AI             Asker
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	MaxUploadBytes int64
	Now            func() time.Time
}

// App wires storage, tokens and the AI client together.
type App struct {
	store          store.Store
	signer         *store.JWTSigner
	objects        storage.ObjectStore
	events         events.Publisher
	ai             Asker
	accessTTL      time.Duration
	refreshTTL     time.Duration
	maxUploadBytes int64
	now            func() time.Time
}

// RequestMeta is recorded with every refresh token issued for a request.
type RequestMeta struct {
	UserAgent string
	IP        string
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("jwt signer required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.AI == nil {
		return nil, fmt.Errorf("ai client required")
	}
	if cfg.Events == nil {
		cfg.Events = events.NopPublisher{}
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:          cfg.Store,
		signer:         cfg.Signer,
		objects:        cfg.Objects,
		events:         cfg.Events,
		ai:             cfg.AI,
		accessTTL:      cfg.AccessTTL,
		refreshTTL:     cfg.RefreshTTL,
		maxUploadBytes: cfg.MaxUploadBytes,
		now:            cfg.Now,
	}, nil
}

// MaxUploadBytes is the largest accepted PDF.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

// PurgeExpiredRefreshTokens removes ledger rows whose expiry has passed.
func (a *App) PurgeExpiredRefreshTokens(ctx context.Context) (int64, error) {
	n, err := a.store.DeleteExpiredRefreshTokens(ctx, a.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return n, nil
}

// AIHealth reports whether the AI service answered its health probe.
type AIHealth struct {
	URL        string `json:"python_server_url,omitempty"`
	Reachable  bool   `json:"reachable"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// CheckAI probes the AI service.
func (a *App) CheckAI(ctx context.Context) AIHealth {
	start := time.Now()
	code, err := a.ai.Ping(ctx)
	health := AIHealth{
		StatusCode: code,
		LatencyMS:  time.Since(start).Milliseconds(),
	}
	if c, ok := a.ai.(interface{ BaseURL() string }); ok {
		health.URL = c.BaseURL()
	}
	if err != nil {
		health.Error = err.Error()
		return health
	}
	health.Reachable = code >= 200 && code < 300
	return health
}
