package auth

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
)

// fakeUserDB is an in-memory stand-in for the user(username, password)
// table, keyed by the DSN a test opened it under so concurrent tests
// never see each other's rows.
type fakeUserDB struct {
	mu    sync.Mutex
	users map[string]string
}

var fakeRegistry = struct {
	mu sync.Mutex
	dbs map[string]*fakeUserDB
}{dbs: make(map[string]*fakeUserDB)}

func fakeDBFor(name string) *fakeUserDB {
	fakeRegistry.mu.Lock()
	defer fakeRegistry.mu.Unlock()
	db, ok := fakeRegistry.dbs[name]
	if !ok {
		db = &fakeUserDB{users: make(map[string]string)}
		fakeRegistry.dbs[name] = db
	}
	return db
}

// fakeDriver implements database/sql/driver against fakeUserDB, standing
// in for the go-sql-driver/mysql driver so auth.Verifier's query/insert
// branches can be exercised without a live MySQL server.
type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) {
	return &fakeConn{db: fakeDBFor(name)}, nil
}

type fakeConn struct{ db *fakeUserDB }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("fakedriver: Prepare not supported, use QueryContext/ExecContext")
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("fakedriver: transactions not supported") }

// QueryContext answers the single "SELECT username, password FROM user
// WHERE username = ? LIMIT 1" shape auth.Verify issues.
func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	var username string
	if len(args) > 0 {
		username, _ = args[0].Value.(string)
	}

	rows := &fakeRows{cols: []string{"username", "password"}}
	if pw, ok := c.db.users[username]; ok {
		rows.data = [][]driver.Value{{username, pw}}
	}
	return rows, nil
}

// ExecContext answers the single "INSERT INTO user(username, password)
// VALUES (?, ?)" shape auth.Verify issues on a successful registration.
func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	var username, password string
	if len(args) > 0 {
		username, _ = args[0].Value.(string)
	}
	if len(args) > 1 {
		password, _ = args[1].Value.(string)
	}
	c.db.users[username] = password
	return driver.RowsAffected(1), nil
}

type fakeRows struct {
	cols []string
	data [][]driver.Value
	pos  int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

var registerFakeDriverOnce sync.Once

// openFakeDB registers the fake driver once per test binary and returns a
// *sql.DB bound to a fresh, isolated in-memory table keyed by dsn.
func openFakeDB(dsn string) *sql.DB {
	registerFakeDriverOnce.Do(func() {
		sql.Register("cinder-auth-fake", fakeDriver{})
	})
	db, err := sql.Open("cinder-auth-fake", dsn)
	if err != nil {
		panic(err)
	}
	return db
}

// seedUser pre-populates the fake table backing dsn with a user row,
// bypassing Verify so register/login tests can set up fixtures directly.
func seedUser(dsn, username, password string) {
	db := fakeDBFor(dsn)
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[username] = password
}
