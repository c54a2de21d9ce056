package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-groupchat-backend/internal/config"
	"github.com/tbourn/go-groupchat-backend/internal/coordinator"
	"github.com/tbourn/go-groupchat-backend/internal/events"
	httpapi "github.com/tbourn/go-groupchat-backend/internal/http"
	"github.com/tbourn/go-groupchat-backend/internal/observability"
	"github.com/tbourn/go-groupchat-backend/internal/providers"
	"github.com/tbourn/go-groupchat-backend/internal/repo"
	"github.com/tbourn/go-groupchat-backend/internal/services"
	"github.com/tbourn/go-groupchat-backend/internal/stream"
	"github.com/tbourn/go-groupchat-backend/internal/sysutil"
)

const shutdownGrace = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// replyDefaults maps the dispatch configuration onto the service defaults.
func replyDefaults(cfg config.Config) services.ReplyDefaults {
	d := services.DefaultReplyDefaults()
	d.Timeout = cfg.Reply.Timeout
	d.MaxRetries = cfg.Reply.MaxRetries
	d.RetryBaseDelay = cfg.Reply.RetryBaseDelay
	d.MaxConcurrent = cfg.Reply.MaxConcurrent
	d.RetryAuth = cfg.Reply.RetryAuth
	d.HistoryTurns = cfg.Reply.HistoryTurns
	d.MaxMessageRunes = cfg.Reply.MaxMessageRunes
	d.IdempotencyTTL = cfg.IdempotencyTTL
	return d
}

// newCoordinator builds the coordinator that reaches providers over HTTP.
func newCoordinator(cfg config.Config) *coordinator.Coordinator {
	caller := stream.NewCaller(stream.NewHTTPClient(cfg.Reply.ConnectTimeout))
	return coordinator.New(coordinator.NewHTTPInvoker(providers.DefaultRegistry(), caller))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sysutil.SetupLogging(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	version, commit := sysutil.Build()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.Setup(ctx, cfg.OTEL, observability.BuildInfo{Version: version, Commit: commit})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	catalog, err := config.OpenCatalog(cfg.Providers.File)
	if err != nil {
		return err
	}
	if cfg.Providers.Watch && cfg.Providers.File != "" {
		if err := catalog.Watch(ctx, 0); err != nil {
			log.Warn().Err(err).Str("file", cfg.Providers.File).Msg("provider catalog watch disabled")
		}
	}

	bus := events.NewBus(cfg.EventBuffer)
	bus.Start(context.Background())
	defer bus.Close()

	svc := services.NewGroupService(db, repo.Store{}, catalog, newCoordinator(cfg), bus, replyDefaults(cfg))
	if err := svc.Load(ctx); err != nil {
		return err
	}
	go purgeIdempotency(ctx, db, time.Hour)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:        db,
		Groups:    svc,
		Reactions: &services.ReactionService{DB: db},
		Bus:       bus,
		Catalog:   catalog,
	}, cfg)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Strs("providers", catalog.IDs()).
			Msg("groupchatd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := svc.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("reply sessions cancelled at shutdown")
	}
	return nil
}

// purgeIdempotency deletes expired idempotency records every interval.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("expired idempotency keys purged")
			}
		}
	}
}
