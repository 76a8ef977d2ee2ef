package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/skinsight/skinsight/pkg/models"
)

// SQLiteStore persists records in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// modernc's driver serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		request_id TEXT,
		state TEXT,
		success INTEGER,
		provider TEXT,
		label TEXT,
		confidence REAL,
		severity TEXT,
		verdict TEXT,
		condition TEXT,
		error_kind TEXT,
		latency_ms INTEGER,
		created_at TEXT
	)`)
	if err == nil {
		_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS records_created_at ON records(created_at)`)
	}
	if err != nil {
		return fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return nil
}

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const recordColumns = "id, kind, request_id, state, success, provider, label, confidence, severity, verdict, condition, error_kind, latency_ms, created_at"

// Record inserts or replaces rec, assigning an ID and timestamp when missing.
func (s *SQLiteStore) Record(ctx context.Context, rec *models.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		string(rec.Kind),
		rec.RequestID,
		rec.State,
		boolToInt(rec.Success),
		rec.Provider,
		rec.Label,
		rec.Confidence,
		rec.Severity,
		rec.Verdict,
		rec.Condition,
		rec.ErrorKind,
		rec.LatencyMs,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "record", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Recent returns records newest first.
func (s *SQLiteStore) Recent(ctx context.Context, filter ListFilter) ([]models.Record, error) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("SELECT " + recordColumns + " FROM records")
	if filter.Kind != "" {
		b.WriteString(" WHERE kind = ?")
		args = append(args, string(filter.Kind))
	}
	b.WriteString(" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?")
	args = append(args, filter.limit(), filter.Offset)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query: %w", err)
	}
	defer rows.Close()

	out := []models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite store: count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE created_at < ?", before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("sqlite store: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: purge: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*models.Record, error) {
	var (
		rec     models.Record
		kind    string
		success int
		created string
	)
	err := sc.Scan(&rec.ID, &kind, &rec.RequestID, &rec.State, &success, &rec.Provider,
		&rec.Label, &rec.Confidence, &rec.Severity, &rec.Verdict, &rec.Condition,
		&rec.ErrorKind, &rec.LatencyMs, &created)
	if err != nil {
		return nil, err
	}
	rec.Kind = models.RecordKind(kind)
	rec.Success = success == 1
	if t, err := time.Parse(timeLayout, created); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
