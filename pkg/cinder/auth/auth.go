// Package auth implements the register/login verification logic that the
// request parser dispatches to for the recognized /register.html and
// /login.html form submissions, ported from HttpRequest::UserVerify.
package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yourusername/cinder/pkg/cinder/dbpool"
	"github.com/yourusername/cinder/pkg/cinder/protocol"
)

// Verifier checks a username/password pair against the user table and,
// for registrations, inserts a new row when the name is unused. Bind
// adapts it to a protocol.Verifier.
type Verifier struct {
	Pool *dbpool.Pool
}

// New returns a Verifier backed by pool.
func New(pool *dbpool.Pool) *Verifier {
	return &Verifier{Pool: pool}
}

// Verify reports whether (name, password) is accepted: for a login, the
// stored password must match; for a registration, the name must be
// unused, in which case a new row is inserted. An empty name or password
// is always rejected without touching the database.
//
// Deviation from original_source: queries are parameterized rather than
// built with snprintf, so no value here can break out of the SQL
// statement (spec.md §9 Open Question).
func (v *Verifier) Verify(ctx context.Context, name, password string, isLogin bool) bool {
	if name == "" || password == "" {
		return false
	}

	ok := false
	err := v.Pool.Scoped(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx,
			"SELECT username, password FROM user WHERE username = ? LIMIT 1", name)
		if err != nil {
			return err
		}
		defer rows.Close()

		found := false
		var storedPassword string
		if rows.Next() {
			found = true
			if err := rows.Scan(new(string), &storedPassword); err != nil {
				return err
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		switch {
		case !found && isLogin:
			ok = false
		case !found && !isLogin:
			_, err := conn.ExecContext(ctx,
				"INSERT INTO user(username, password) VALUES (?, ?)", name, password)
			if err != nil {
				return fmt.Errorf("auth: register insert: %w", err)
			}
			ok = true
		case found && isLogin:
			ok = password == storedPassword
		case found && !isLogin:
			ok = false
		}
		return nil
	})
	if err != nil {
		return false
	}
	return ok
}

// Bind adapts Verify into a protocol.Verifier closed over ctx, for
// handing to Request.Parse.
func (v *Verifier) Bind(ctx context.Context) protocol.Verifier {
	return func(name, password string, isLogin bool) bool {
		return v.Verify(ctx, name, password, isLogin)
	}
}
