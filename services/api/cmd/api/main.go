package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"pdfchat/internal/util"
	"pdfchat/pkg/events"
	"pdfchat/pkg/storage"
	"pdfchat/pkg/store"
	"pdfchat/services/api/internal/aiclient"
	"pdfchat/services/api/internal/app"
	"pdfchat/services/api/internal/config"
	"pdfchat/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	durations, err := cfg.Durations()
	if err != nil {
		log.Fatalf("failed to parse durations: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = util.ContextWithLogger(ctx, logger)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer dataStore.Close()

	var (
		redisClient redis.UniversalClient
		revoker     store.TokenRevoker = store.NewMemoryTokenRevoker()
	)
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to reach redis: %v", err)
		}
		redisClient = client
		revoker = store.NewRedisTokenRevoker(client, "")
	}

	signer, err := store.NewJWTSigner(cfg.JWTSecret, revoker, store.JWTOptions{
		Issuer: cfg.JWTIssuer,
		Leeway: durations.JWTLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init jwt signer: %v", err)
	}

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	publisher, err := newPublisher(cfg, redisClient)
	if err != nil {
		log.Fatalf("failed to init event publisher: %v", err)
	}
	defer publisher.Close()

	appCore, err := app.New(app.Config{
		Store:          dataStore,
		Signer:         signer,
		Objects:        objects,
		Events:         publisher,
		AI:             aiclient.NewClient(cfg.PythonServerURL, durations.AITimeout),
		AccessTTL:      durations.AccessTTL,
		RefreshTTL:     durations.RefreshTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid trustedProxies: %v", err)
	}
	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Redis:                      redisClient,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RefreshRateLimitPerMinute:  cfg.RefreshRateLimitPerMinute,
		CORSAllowedOrigins:         cfg.CORSAllowedOrigins,
		TrustedProxies:             trusted,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return httpServer.PurgeLoop(gctx, durations.TokenCleanupInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func newObjectStore(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, error) {
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return storage.NewFileStore(cfg.StorageDir)
}

func newPublisher(cfg config.FileConfig, client redis.UniversalClient) (events.Publisher, error) {
	switch {
	case strings.TrimSpace(cfg.AMQPURL) != "":
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	case client != nil && strings.TrimSpace(cfg.EventStream) != "":
		return events.NewRedisStreamPublisher(client, cfg.EventStream, 0)
	default:
		return events.NopPublisher{}, nil
	}
}
