// Package sqlite implements internal/audit.Sink over a local SQLite
// database via modernc.org/sqlite (a pure-Go driver, no cgo toolchain
// needed on the worker-hosting build). Grounded directly on
// loykin-provisr's internal/history/sqlite package: same schema shape
// (append-only table, driver opened once, schema ensured at construction),
// generalized from the process_history table's start/stop columns to the
// call-lifecycle columns audit.Record carries.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/daemonkit/internal/audit"
)

// Sink writes audit events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New opens dsn (a bare path, ":memory:", or "sqlite://..." form) and
// ensures the call_audit table exists.
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("audit/sqlite: empty DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS call_audit(
		occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		type TEXT NOT NULL,
		alias TEXT NOT NULL,
		call_id INTEGER NOT NULL,
		method TEXT NOT NULL,
		pid INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		err TEXT
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e audit.Event) error {
	r := e.Record
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_audit(occurred_at, type, alias, call_id, method, pid, attempts, errors, err)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), r.Alias, r.CallID, r.Method, r.PID, r.Attempts, r.Errors, nullableErr(r.Err))
	return err
}

func nullableErr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
