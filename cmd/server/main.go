package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"

	apihttp "remotestream/internal/api/http"
	"remotestream/internal/app"
	"remotestream/internal/metrics"
	mongorepo "remotestream/internal/repository/mongo"
	"remotestream/internal/services/rangestream"
	"remotestream/internal/services/resolver"
	"remotestream/internal/services/transport"
	"remotestream/internal/telemetry"
	"remotestream/internal/usecase"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), cfg.Telemetry())
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", cfg.OTELServiceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("mongoDatabase", cfg.MongoDatabase),
		slog.Bool("s3", cfg.S3().Enabled()),
		slog.Duration("refreshInterval", cfg.RefreshInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	repo := mongorepo.NewRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	res := resolver.New()
	if s3 := cfg.S3(); s3.Enabled() {
		res, err = resolver.NewS3(ctx, s3)
		if err != nil {
			logger.Error("s3 resolver init failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	client := transport.NewClient(cfg.Transport())
	opener := rangestream.NewOpener(client, logger)

	registerUC := usecase.RegisterSource{Repo: repo, Resolver: res, Opener: opener, Logger: logger, Now: time.Now}
	openUC := usecase.OpenStream{Repo: repo, Resolver: res, Opener: opener, Logger: logger, Now: time.Now}
	refreshUC := usecase.RefreshSources{
		Repo:        repo,
		Resolver:    res,
		Opener:      opener,
		Logger:      logger,
		Interval:    cfg.RefreshInterval,
		Concurrency: cfg.RefreshConcurrency,
		Attempts:    uint(cfg.RefreshAttempts),
		Now:         time.Now,
	}

	handler := apihttp.NewServer(registerUC,
		apihttp.WithLogger(logger),
		apihttp.WithGetSource(usecase.GetSource{Repo: repo}),
		apihttp.WithListSources(usecase.ListSources{Repo: repo}),
		apihttp.WithDeleteSource(usecase.DeleteSource{Repo: repo}),
		apihttp.WithOpenStream(openUC),
		apihttp.WithRefresher(&refreshUC),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst),
		apihttp.WithHealthCheck(func(ctx context.Context) error {
			return mongoClient.Ping(ctx, readpref.Primary())
		}),
	)

	// Status changes found by the background refresher go out over the websocket.
	refreshUC.OnStatusChange = handler.BroadcastSource
	go refreshUC.Run(rootCtx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	client.CloseIdleConnections()
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// newLogger writes to stdout, and additionally to a rotated file when
// LogFile is set.
func newLogger(cfg app.Config) (*slog.Logger, func()) {
	var out io.Writer = os.Stdout
	closeFn := func() {}
	if path := strings.TrimSpace(cfg.LogFile); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	options := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	if strings.ToLower(strings.TrimSpace(cfg.LogFormat)) == "json" {
		return slog.New(slog.NewJSONHandler(out, options)), closeFn
	}
	return slog.New(slog.NewTextHandler(out, options)), closeFn
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
