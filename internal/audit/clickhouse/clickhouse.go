// Package clickhouse implements internal/audit.Sink over ClickHouse using
// the official github.com/ClickHouse/clickhouse-go/v2 native client.
// Grounded directly on loykin-provisr's internal/history/clickhouse
// package (Open with clickhouse.Options, Ping at construction, a single
// Exec per Send), generalized to the call-lifecycle columns audit.Record
// carries in place of the process start/stop record.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/daemonkit/internal/audit"
)

// Sink writes audit events to ClickHouse.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr (host:port, native protocol) and pings it once
// before returning.
func New(addr, table string) (*Sink, error) {
	if table == "" {
		table = "call_audit"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit/clickhouse: open: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("audit/clickhouse: ping: %w", err)
	}
	return &Sink{conn: conn, table: table}, nil
}

func (s *Sink) Send(ctx context.Context, e audit.Event) error {
	r := e.Record
	query := fmt.Sprintf(`INSERT INTO %s
		(occurred_at, type, alias, call_id, method, pid, attempts, errors, err)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query,
		e.OccurredAt, string(e.Type), r.Alias, r.CallID, r.Method, r.PID, r.Attempts, r.Errors, r.Err,
	); err != nil {
		return fmt.Errorf("audit/clickhouse: insert: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
