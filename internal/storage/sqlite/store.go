package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/insight-gateway/internal/domain"
	"github.com/tjfontaine/insight-gateway/internal/storage"
)

// Store is a SQLite implementation of RunJournal
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.RunJournal = (*Store)(nil)

// New creates a new SQLite store. File paths get their parent directory
// created; DSNs starting with "file:" are passed through untouched.
func New(dbPath string) (*Store, error) {
	if !strings.HasPrefix(dbPath, "file:") && dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, now: time.Now}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			input_url TEXT NOT NULL,
			run_id TEXT,
			status TEXT NOT NULL,
			error TEXT,
			elapsed_ns INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) SaveRun(ctx context.Context, rec *storage.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("run record id is required")
	}
	storage.Touch(rec, s.now().UTC())

	query := `INSERT INTO runs (id, kind, input_url, run_id, status, error, elapsed_ns, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	            run_id = excluded.run_id,
	            status = excluded.status,
	            error = excluded.error,
	            elapsed_ns = excluded.elapsed_ns,
	            updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, string(rec.Kind), rec.InputURL, string(rec.RunHandle), rec.Status,
		rec.Error, int64(rec.Elapsed), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	query := `SELECT id, kind, input_url, run_id, status, error, elapsed_ns, created_at, updated_at
	          FROM runs WHERE id = ?`

	rec, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rec, nil
}

func (s *Store) ListRuns(ctx context.Context, opts storage.ListOptions) ([]*storage.RunRecord, error) {
	query := `SELECT id, kind, input_url, run_id, status, error, elapsed_ns, created_at, updated_at
	          FROM runs ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, opts.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []*storage.RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}

	return runs, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*storage.RunRecord, error) {
	var (
		rec       storage.RunRecord
		kind      string
		runID     sql.NullString
		errMsg    sql.NullString
		elapsedNS int64
	)
	if err := row.Scan(&rec.ID, &kind, &rec.InputURL, &runID, &rec.Status, &errMsg,
		&elapsedNS, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Kind = domain.PipelineKind(kind)
	rec.RunHandle = domain.RunHandle(runID.String)
	rec.Error = errMsg.String
	rec.Elapsed = time.Duration(elapsedNS)
	return &rec, nil
}
