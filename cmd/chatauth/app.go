package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/chatauth/internal/db"
	"github.com/nkiryanov/chatauth/internal/handlers"
	"github.com/nkiryanov/chatauth/internal/logger"
	"github.com/nkiryanov/chatauth/internal/repository"
	"github.com/nkiryanov/chatauth/internal/repository/postgres"
	"github.com/nkiryanov/chatauth/internal/repository/redisstore"
	"github.com/nkiryanov/chatauth/internal/service/auth"
	"github.com/nkiryanov/chatauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/chatauth/internal/service/sweeper"
	"github.com/nkiryanov/chatauth/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Logger     logger.Logger

	// Removes expired refresh tokens in background, nil when the store expires them itself
	Sweeper *sweeper.Sweeper

	// Release resources app holds (db pool, redis client), called once server stopped
	closers []func() error
}

func NewServerApp(ctx context.Context, c *Config) (_ *ServerApp, err error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, Logger: log}
	defer func() {
		if err != nil {
			_ = app.close()
		}
	}()

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app.closers = append(app.closers, func() error { pool.Close(); return nil })

	// Initialize repositories. Refresh token families go to redis if it configured
	var storageOpts []postgres.StorageOption
	if c.RedisURL != "" {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("error while parsing redis url. Err: %w", err)
		}
		client := redis.NewClient(opts)
		app.closers = append(app.closers, client.Close)

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		storageOpts = append(storageOpts, postgres.WithRefreshRepo(redisstore.NewRefreshTokenRepo(client, redisstore.DefaultPrefix)))
		log.Info("Refresh tokens are kept in redis")
	}
	storage := postgres.NewStorage(pool, storageOpts...)
	if pruner, ok := storage.Refresh().(repository.ExpiredTokenPruner); ok {
		app.Sweeper = sweeper.New(sweeper.Config{Interval: c.SweepInterval}, pruner, log)
	}

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:        c.SecretKey,
		RefreshSecretKey: c.RefreshSecretKey,
		AccessTTL:        c.AccessTokenTTL,
		RefreshTTL:       c.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	sameSite, err := c.SameSite()
	if err != nil {
		return nil, err
	}
	authService, err := auth.NewService(auth.Config{
		CookieSameSite: sameSite,
		InsecureCookie: c.CookieInsecure,
		Logger:         log,
	}, tokenManager, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	userService := user.NewService(auth.DefaultHasher, storage)

	app.Handler = handlers.NewRouter(authService, userService, log)
	return app, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer func() {
		if err := s.close(); err != nil {
			s.Logger.Error("Error while releasing resources", "error", err.Error())
		}
	}()

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperStopped := closedChan()
	if s.Sweeper != nil {
		sweeperStopped = s.Sweeper.Run(srvCtx)
	}

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.Logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.Logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperStopped

	return err
}

func (s *ServerApp) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
