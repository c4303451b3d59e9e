package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/pointledger/internal/audit"
	"github.com/nkiryanov/pointledger/internal/db"
	"github.com/nkiryanov/pointledger/internal/handlers"
	"github.com/nkiryanov/pointledger/internal/logger"
	"github.com/nkiryanov/pointledger/internal/repository/postgres"
	"github.com/nkiryanov/pointledger/internal/service/ledger"
	"github.com/nkiryanov/pointledger/internal/service/operator"
	"github.com/nkiryanov/pointledger/internal/service/reconciler"
	"github.com/nkiryanov/pointledger/internal/service/signature"
	"github.com/nkiryanov/pointledger/internal/service/webhook"
)

const (
	shutdownTimeout = 5 * time.Second
	auditBufferSize = 1024
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger     logger.Logger
	pool       *pgxpool.Pool
	dispatcher *audit.Dispatcher
	reconciler *reconciler.Processor
	closers    []func() error
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app := &ServerApp{ListenAddr: c.ListenAddr, logger: logger, pool: pool}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Audit records go to RabbitMQ if configured, to log otherwise
	var sink audit.Sink = audit.LogSink{Logger: logger.WithGroup("audit")}
	if c.AMQPURL != "" {
		amqpSink, err := audit.DialAMQP(c.AMQPURL, c.AuditExchange)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("error while connecting to audit broker. Err: %w", err)
		}
		app.closers = append(app.closers, amqpSink.Close)
		sink = amqpSink
	}
	app.dispatcher = audit.NewDispatcher(sink, auditBufferSize, logger)

	// Initialize services
	verifier, err := signature.NewVerifier(signature.Config{
		Secret:    c.WebhookSecret,
		Tolerance: c.SignatureTolerance,
	})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("error while creating signature verifier. Err: %w", err)
	}

	tokenManager, err := operator.NewTokenManager(operator.Config{SecretKey: c.SecretKey})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	ledgerService := ledger.NewService(storage)
	orchestrator := webhook.NewOrchestrator(verifier, ledgerService, app.dispatcher, logger)

	if c.ReconcileInterval > 0 {
		app.reconciler = reconciler.New(reconciler.Config{Interval: c.ReconcileInterval}, ledgerService, logger.WithGroup("reconciler"))
	}

	app.Handler = handlers.NewRouter(
		orchestrator,
		ledgerService,
		tokenManager,
		logger,
	)

	return app, nil
}

// Run starts http server and closes gracefully on context cancellation
// Audit records buffered by the moment of shutdown are delivered before Run returns
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	dispatcherStopped := s.dispatcher.Run(dispatcherCtx)

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	var reconcilerStopped <-chan struct{}
	if s.reconciler != nil {
		reconcilerStopped = s.reconciler.Process(srvCtx)
	} else {
		stopped := make(chan struct{})
		close(stopped)
		reconcilerStopped = stopped
	}

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-reconcilerStopped
	if s.reconciler != nil {
		checked, mismatched := s.reconciler.Stats()
		s.logger.Info("Reconciler stopped", "checked", checked, "mismatched", mismatched)
	}

	// No more requests, so no more audit records
	dispatcherCancel()
	<-dispatcherStopped
	if dropped := s.dispatcher.Dropped(); dropped > 0 {
		s.logger.Warn("Audit records dropped while running", "count", dropped)
	}

	return err
}

func (s *ServerApp) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("Error while closing resource", "error", err)
		}
	}
	s.closers = nil

	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
