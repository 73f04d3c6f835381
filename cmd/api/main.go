package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"manuscript/api/internal/app"
	"manuscript/api/internal/archive"
	"manuscript/api/internal/audit"
	"manuscript/api/internal/auth"
	"manuscript/api/internal/branching"
	"manuscript/api/internal/config"
	"manuscript/api/internal/export"
	"manuscript/api/internal/gitrepo"
	"manuscript/api/internal/search"
	"manuscript/api/internal/store"
)

var (
	_ branching.Indexer  = (*search.Service)(nil)
	_ branching.Searcher = (*search.Service)(nil)
	_ branching.Mirror   = (*gitrepo.Service)(nil)
	_ branching.Archiver = (*archive.Archiver)(nil)
	_ branching.Exporter = (*export.Service)(nil)
)

func main() {
	if err := run(); err != nil {
		slog.Error("manuscript api stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
	if err != nil {
		return err
	}
	defer db.Close()

	var migrations fs.FS = store.Migrations()
	if cfg.MigrationsDir != "" {
		migrations = os.DirFS(cfg.MigrationsDir)
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		return err
	}

	repo := store.NewPostgresStore(db)
	checks := map[string]app.Pinger{"database": repo}

	sinks := []audit.Sink{audit.NewStoreSink(repo), audit.LogSink{Logger: logger}}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		stream, err := audit.NewRedisStreamSink(cfg.RedisURL, cfg.AuditStream)
		if err != nil {
			return err
		}
		defer stream.Close()
		sinks = append(sinks, stream)
		checks["redis"] = stream
	}
	queue := audit.NewQueue(audit.Multi(sinks...), cfg.AuditQueueSize, logger)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), logger)
	go searchService.ReindexAll(ctx)

	opts := []branching.Option{
		branching.WithLogger(logger),
		branching.WithAudit(queue),
		branching.WithIndexer(searchService),
		branching.WithSearcher(searchService),
		branching.WithExporter(export.NewService()),
	}
	if cfg.MirrorDir != "" {
		if err := os.MkdirAll(cfg.MirrorDir, 0o755); err != nil {
			return err
		}
		opts = append(opts, branching.WithMirror(gitrepo.New(cfg.MirrorDir)))
	}
	if cfg.Archive.Enabled() {
		archiver, err := archive.New(ctx, archive.Options{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		}, logger)
		if err != nil {
			return err
		}
		opts = append(opts, branching.WithArchiver(archiver))
	}

	versions := branching.NewService(repo, opts...)
	service := app.NewService(versions, auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL), checks, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("manuscript api listening", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Warn("audit queue did not drain", slog.Any("error", err))
	}
	return nil
}
