// Package server wires the account service together: storage backend, token
// issuer, password hasher, object storage, metrics, the HTTP API and the gRPC
// health endpoint. It also handles graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrijs2005/vidtube/internal/filex"
	"github.com/dmitrijs2005/vidtube/internal/logging"
	"github.com/dmitrijs2005/vidtube/internal/server/auth"
	"github.com/dmitrijs2005/vidtube/internal/server/blob"
	"github.com/dmitrijs2005/vidtube/internal/server/config"
	"github.com/dmitrijs2005/vidtube/internal/server/httpserver"
	"github.com/dmitrijs2005/vidtube/internal/server/metrics"
	"github.com/dmitrijs2005/vidtube/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vidtube/internal/server/services"

	gs "github.com/dmitrijs2005/vidtube/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	accounts *services.AccountService
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// OpenStore opens the configured accounts backend. For postgres it connects,
// migrates and pings; db is nil for the in-memory backend.
func OpenStore(ctx context.Context, c *config.Config) (*sql.DB, repomanager.RepositoryManager, error) {
	if c.Storage == config.StorageMemory {
		return nil, repomanager.NewMemoryRepositoryManager(), nil
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("db ping error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations error: %w", err)
	}
	return db, m, nil
}

// NewAccountService builds the account service on top of an opened store.
// uploader and mt may be nil for operator tooling that never uploads.
func NewAccountService(c *config.Config, db *sql.DB, m repomanager.RepositoryManager, uploader blob.Uploader, mt *metrics.Metrics, l logging.Logger) (*services.AccountService, error) {
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  []byte(c.AccessTokenSecret),
		RefreshSecret: []byte(c.RefreshTokenSecret),
		AccessTTL:     c.AccessTokenValidityDuration,
		RefreshTTL:    c.RefreshTokenValidityDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}
	hasher := auth.NewBcryptHasher(c.PasswordCost)
	return services.NewAccountService(db, m, tokens, hasher, uploader, mt, l), nil
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.New(os.Stdout, c.LogLevel, c.LogFormat)

	db, m, err := OpenStore(ctx, c)
	if err != nil {
		return nil, err
	}

	uploader, err := blob.NewS3Uploader(ctx, blob.Config{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
		PublicURL:    c.S3PublicURL,
	})
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("s3 init error: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(registry)

	as, err := NewAccountService(c, db, m, uploader, mt, logger)
	if err != nil {
		closeDB(db)
		return nil, err
	}

	uploadDir, err := filex.EnsureDir(c.UploadDir)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	c.UploadDir = uploadDir

	return &App{config: c, logger: logger, db: db, accounts: as, registry: registry, metrics: mt}, nil
}

func closeDB(db *sql.DB) {
	if db != nil {
		db.Close()
	}
}

func (app *App) ping(ctx context.Context) error {
	if app.db == nil {
		return nil
	}
	return app.db.PingContext(ctx)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	users := httpserver.NewUserHandler(app.accounts, app.logger, httpserver.HandlerConfig{
		UploadDir:    app.config.UploadDir,
		MaxUpload:    app.config.MaxUploadSize,
		SecureCookie: app.config.SecureCookies,
	})
	router := httpserver.NewRouter(users, app.logger, httpserver.RouterConfig{
		CORSOrigins: app.config.CORSOrigins,
		Metrics:     app.metrics,
		Gatherer:    app.registry,
		Ping:        app.ping,
	})

	s := httpserver.NewServer(app.config.EndpointAddrHTTP, router, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.ping)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// waits for both servers to drain and closes the database.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "storage", app.config.Storage)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	closeDB(app.db)
	app.logger.Info(context.Background(), "App stopped")
}
