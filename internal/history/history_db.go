package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/iSoldLeo/DynamicAPI/internal/config"
	"github.com/iSoldLeo/DynamicAPI/internal/migrations"
	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
	"github.com/iSoldLeo/DynamicAPI/pkg/client"
)

// Manager stores calls in SQLite. It satisfies client.Recorder.
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ client.Recorder = (*Manager)(nil)

func NewManager(dbPath string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, config.DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// Concurrent calls share one connection; sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Manager{db: db, logger: logger, now: time.Now}, nil
}

// Record implements client.Recorder. Storage failures are logged, never
// returned to the caller of the operation.
func (m *Manager) Record(ctx context.Context, rec client.Record) {
	if _, err := m.Save(ctx, rec); err != nil {
		m.logger.Warn("failed to record call",
			zap.String("operation", rec.Operation),
			zap.Error(err),
		)
	}
}

// Save inserts rec and returns the generated call id.
func (m *Manager) Save(ctx context.Context, rec client.Record) (string, error) {
	callID := uuid.NewString()

	var errMsg, errKind string
	if rec.Err != nil {
		errMsg = rec.Err.Error()
		errKind = apierr.KindOf(rec.Err).String()
	}

	query := `
		INSERT INTO calls (
			call_id, timestamp, operation, profile_name, method, url,
			status_code, duration_ms, response_size, error, error_kind
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := m.db.ExecContext(ctx, query,
		callID,
		formatTimestamp(m.now()),
		rec.Operation,
		rec.Profile,
		rec.Method,
		rec.URL,
		rec.StatusCode,
		rec.Duration.Milliseconds(),
		rec.Size,
		errMsg,
		errKind,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save history entry: %w", err)
	}

	return callID, nil
}

// List returns entries newest first.
func (m *Manager) List(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, q.Operation)
	}
	if q.Profile != "" {
		where = append(where, "profile_name = ?")
		args = append(args, q.Profile)
	}

	query := `
		SELECT id, call_id, timestamp, operation, COALESCE(profile_name, ''), method, url,
		       status_code, duration_ms, response_size, COALESCE(error, ''), error_kind
		FROM calls`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry

	for rows.Next() {
		var (
			e         Entry
			timestamp string
		)
		err := rows.Scan(
			&e.ID,
			&e.CallID,
			&timestamp,
			&e.Operation,
			&e.Profile,
			&e.Method,
			&e.URL,
			&e.StatusCode,
			&e.DurationMs,
			&e.Size,
			&e.Error,
			&e.ErrorKind,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Timestamp = parseTimestamp(timestamp)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (m *Manager) Clear(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, "DELETE FROM calls")
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

func (m *Manager) Count(ctx context.Context) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM calls").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get history count: %w", err)
	}
	return count, nil
}

// DB exposes the underlying database for read-only reporting.
func (m *Manager) DB() *sql.DB {
	return m.db
}

func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
