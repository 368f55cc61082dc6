// Package server wires together Config, Logger, DbPool, WorkerPool, and
// Reactor into the running HTTP server, following the shape of the
// teacher's server.Config/Server composition root.
package server

import (
	"context"
	"fmt"

	"github.com/yourusername/cinder/internal/config"
	"github.com/yourusername/cinder/internal/logging"
	"github.com/yourusername/cinder/pkg/cinder/auth"
	"github.com/yourusername/cinder/pkg/cinder/dbpool"
	"github.com/yourusername/cinder/pkg/cinder/protocol"
	"github.com/yourusername/cinder/pkg/cinder/reactor"
	"github.com/yourusername/cinder/pkg/cinder/workerpool"
)

// Server is the assembled collaborator graph: one reactor, one worker
// pool, one database pool, and the logger/config they share.
type Server struct {
	cfg config.Config
	log logging.Logger

	dbPool   *dbpool.Pool
	pool     *workerpool.Pool
	reactor  *reactor.Reactor
	verifier *auth.Verifier
}

// New assembles a Server from cfg, dialing the database and starting
// the worker pool. Call ListenAndServe to run it.
func New(ctx context.Context, cfg config.Config, log logging.Logger) (*Server, error) {
	dbPool, err := dbpool.Open(ctx, dbpool.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Pass:     cfg.DBPass,
		Name:     cfg.DBName,
		PoolSize: cfg.DBPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("server: opening database pool: %w", err)
	}

	pool := workerpool.New(cfg.ThreadCount)
	verifier := auth.New(dbPool)

	s := &Server{
		cfg:      cfg,
		log:      log,
		dbPool:   dbPool,
		pool:     pool,
		verifier: verifier,
	}

	s.reactor = reactor.New(reactor.Config{
		Port:        cfg.Port,
		SrcDir:      cfg.SrcDir,
		IdleTimeout: cfg.IdleTimeout(),
	}, log, pool, s.bindVerifier)

	return s, nil
}

// bindVerifier produces a fresh protocol.Verifier bound to a background
// context for one request's register/login dispatch.
func (s *Server) bindVerifier() protocol.Verifier {
	return s.verifier.Bind(context.Background())
}

// ListenAndServe runs the reactor's event loop until Shutdown is called
// or an unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Infof("cinder listening on port %d, serving %s", s.cfg.Port, s.cfg.SrcDir)
	return s.reactor.Run()
}

// Shutdown stops the reactor and releases the worker pool and database
// pool. It does not wait for in-flight requests beyond what the worker
// pool's own drain-then-return Shutdown already guarantees.
func (s *Server) Shutdown(_ context.Context) error {
	s.reactor.Stop()
	s.pool.Shutdown()
	s.dbPool.CloseAll()
	return nil
}
