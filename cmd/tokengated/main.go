package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/juralen/tokengate/internal/auth"
	"github.com/juralen/tokengate/internal/config"
	"github.com/juralen/tokengate/internal/directory"
	"github.com/juralen/tokengate/internal/httpapi"
	"github.com/juralen/tokengate/internal/logging"
	"github.com/juralen/tokengate/internal/notify"
	"github.com/juralen/tokengate/internal/password"
	"github.com/juralen/tokengate/internal/refresh"
	"github.com/juralen/tokengate/internal/token"
)

func main() {
	// Local-development convenience; in deployment the environment is
	// already populated and no .env exists.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Hash.MemoryKB,
		Time:        cfg.Hash.Time,
		Parallelism: cfg.Hash.Parallelism,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		return err
	}
	gate, err := password.NewGate(hasher, cfg.Hash.MaxConcurrent)
	if err != nil {
		return err
	}

	issuer, err := token.NewIssuer(token.IssuerConfig{
		Secret: []byte(cfg.Tokens.SigningSecret),
		TTL:    cfg.Tokens.AccessTTL.Std(),
		Issuer: cfg.Tokens.Issuer,
		Leeway: cfg.Tokens.AccessLeeway.Std(),
	})
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", cfg.Store.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer func() { _ = db.Close() }()

	store, cleanup, err := buildStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer cleanup()

	var notifier auth.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout.Std())
	} else {
		notifier = notify.NewLogNotifier(log)
	}

	service, err := auth.NewService(log, directory.NewPostgresDirectory(db), store, gate, issuer, notifier, auth.Config{
		RefreshTTL: cfg.Tokens.RefreshTTL.Std(),
		ResetTTL:   cfg.Tokens.ResetTTL.Std(),
	})
	if err != nil {
		return err
	}

	go runPurgeLoop(ctx, log, store, cfg.Store.PurgeInterval.Std())

	handler := httpapi.NewHandler(log, service, issuer)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("store", cfg.Store.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildStore selects the refresh-token backend. The postgres handle is
// always opened because the user directory lives there regardless of
// which token store is in use.
func buildStore(ctx context.Context, cfg *config.Config, db *sql.DB) (refresh.Store, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		store := refresh.NewPostgresStore(db)
		if err := store.RunMigrations(ctx); err != nil {
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		return store, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Store.RedisAddr,
			DB:   cfg.Store.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return refresh.NewRedisStore(client, cfg.Store.RedisPrefix), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// runPurgeLoop deletes expired refresh-token rows on a fixed interval
// until ctx is cancelled.
func runPurgeLoop(ctx context.Context, log *zap.Logger, store refresh.Store, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.PurgeExpired(ctx)
			if err != nil {
				log.Error("purge pass failed", zap.Error(err))
				continue
			}
			if purged > 0 {
				log.Info("purged expired refresh tokens", zap.Int64("count", purged))
			}
		}
	}
}
