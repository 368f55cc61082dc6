// Package dbpool implements a bounded pool of pre-opened database sessions
// that bounds concurrent query fan-out from the worker pool, ported from
// the original WebServer's SqlConnPool.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
)

// Pool is a bounded collection of *sql.Conn sessions guarded by a counting
// semaphore sized to the pool's capacity, matching spec.md §4.4: Acquire
// blocks on the semaphore then pops a session under a mutex; Release pushes
// back and posts the semaphore.
type Pool struct {
	db  *sql.DB
	sem chan struct{}

	mu       sync.Mutex
	sessions []*sql.Conn
}

// Config describes the MySQL endpoint and pool sizing. Host/Port/User/
// Pass/Name mirror the config fields spec.md §6 names as collaborator
// inputs (db_host/port/user/pass/name, db_pool_size).
type Config struct {
	Host     string
	Port     int
	User     string
	Pass     string
	Name     string
	PoolSize int
}

// DefaultPoolSize is used when Config.PoolSize is <= 0.
const DefaultPoolSize = 8

// Open dials the database and pre-opens Config.PoolSize sessions. The
// returned Pool owns those sessions; call CloseAll when done.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Pass, cfg.Host, cfg.Port, cfg.Name)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	return OpenWithDB(ctx, db, cfg.PoolSize)
}

// OpenWithDB pre-opens size sessions against an already-open *sql.DB, the
// seam Open itself goes through with the mysql driver. Exported so tests
// (and any driver other than mysql) can hand in a *sql.DB built around a
// fake database/sql/driver.Driver without dialing a real database.
func OpenWithDB(ctx context.Context, db *sql.DB, size int) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	db.SetMaxOpenConns(size)

	p := &Pool{
		db:       db,
		sem:      make(chan struct{}, size),
		sessions: make([]*sql.Conn, 0, size),
	}

	for i := 0; i < size; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			p.CloseAll()
			return nil, fmt.Errorf("dbpool: pre-opening session %d: %w", i, err)
		}
		p.sessions = append(p.sessions, conn)
		p.sem <- struct{}{}
	}

	return p, nil
}

// Acquire blocks on the counting semaphore until a session is available,
// then pops one under the mutex. Every Acquire must be paired with a
// Release on every exit path, including error paths; prefer Scoped where
// possible.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.sessions)
	conn := p.sessions[n-1]
	p.sessions = p.sessions[:n-1]
	return conn, nil
}

// Release returns a session to the pool and posts the semaphore.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	p.sessions = append(p.sessions, conn)
	p.mu.Unlock()
	p.sem <- struct{}{}
}

// Scoped acquires a session, runs fn, and guarantees Release runs on every
// exit path from fn — including a panic, which is re-raised after the
// session is returned. This is the discipline spec.md §4.4 demands for
// verify_user's query execution.
func (p *Pool) Scoped(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(conn)
}

// CloseAll drains and closes every session plus the underlying *sql.DB.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = nil
	p.mu.Unlock()

	for _, conn := range sessions {
		conn.Close()
	}
	if p.db != nil {
		p.db.Close()
	}
}
