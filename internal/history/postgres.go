package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresRunsTableName    = "ledgerbridge_runs"
	postgresOperationTimeout = 5 * time.Second
	defaultPostgresKeepCount = 10000
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresRecorder appends run records to a Postgres table. The connection
// and table are initialized lazily on first use so constructing a recorder
// never blocks on the database.
type PostgresRecorder struct {
	dsn       string
	tableName string
	keepCount int
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresRecorder(dsn string) (*PostgresRecorder, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	return &PostgresRecorder{
		dsn:       dsn,
		tableName: postgresRunsTableName,
		keepCount: defaultPostgresKeepCount,
		openDB:    sql.Open,
	}, nil
}

func (r *PostgresRecorder) Append(record RunRecord) error {
	if err := r.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	insert := fmt.Sprintf(
		"INSERT INTO %s (trigger, payload, started_at) VALUES ($1, $2, $3)",
		postgresQuoteIdentifier(r.tableName),
	)
	if _, err := r.db.ExecContext(ctx, insert, record.Trigger, string(payload), record.StartedAt); err != nil {
		return err
	}
	prune := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id NOT IN (SELECT id FROM %s ORDER BY id DESC LIMIT $1)`,
		postgresQuoteIdentifier(r.tableName), postgresQuoteIdentifier(r.tableName))
	_, err = r.db.ExecContext(ctx, prune, r.keepCount)
	return err
}

func (r *PostgresRecorder) Recent(limit int) ([]RunRecord, error) {
	if err := r.ensureReady(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT payload FROM %s ORDER BY id DESC LIMIT $1",
		postgresQuoteIdentifier(r.tableName),
	)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]RunRecord, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var record RunRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *PostgresRecorder) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *PostgresRecorder) ensureReady() error {
	r.initOnce.Do(func() {
		db, err := r.openDB("postgres", r.dsn)
		if err != nil {
			r.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				trigger TEXT NOT NULL,
				payload TEXT NOT NULL,
				started_at TIMESTAMPTZ NOT NULL,
				recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(r.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			r.initErr = err
			return
		}
		r.db = db
	})
	return r.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
