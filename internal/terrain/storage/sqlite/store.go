// Package sqlite persists derivation artifacts and run records in a single
// SQLite database. Schema changes ship as embedded golang-migrate migrations
// applied on open.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/overstory-data/canopy.report/internal/monitoring"
	"github.com/overstory-data/canopy.report/internal/terrain/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a storage.Store and storage.RunStore backed by one SQLite file.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)
var _ storage.RunStore = (*Store)(nil)

// Open opens (creating if absent) the artifact database at path and applies
// pending migrations. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for diagnostics and tests.
func (s *Store) DB() *sql.DB { return s.db }

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlite: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("sqlite: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: migrate up: %w", err)
	}
	version, _, _ := m.Version()
	monitoring.Debugf("[Store] schema at migration version %d", version)
	return nil
}

// Put stores the payload unless the key already holds one. The insert is
// ON CONFLICT DO NOTHING, so two concurrent writers on one key both succeed
// and the first committed row wins.
func (s *Store) Put(ctx context.Context, key storage.Key, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (cloud_id, kind, cell_size, min_count, payload, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (cloud_id, kind, cell_size, min_count) DO NOTHING`,
		key.CloudID, string(key.Kind), key.CellSizeTag(), key.MinCount, payload, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put %s: %w", key, err)
	}
	return nil
}

// Get returns the artifact at key, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, key storage.Key) (*storage.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload, created_at_ns FROM artifacts
		WHERE cloud_id = ? AND kind = ? AND cell_size = ? AND min_count = ?`,
		key.CloudID, string(key.Kind), key.CellSizeTag(), key.MinCount,
	)
	var payload []byte
	var createdNs int64
	if err := row.Scan(&payload, &createdNs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get %s: %w", key, err)
	}
	return &storage.Artifact{Key: key, Payload: payload, CreatedAt: time.Unix(0, createdNs)}, nil
}

// List returns every artifact key stored for a point-cloud identity.
func (s *Store) List(ctx context.Context, cloudID string) ([]storage.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, cell_size, min_count FROM artifacts
		WHERE cloud_id = ? ORDER BY kind, cell_size, min_count`, cloudID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %s: %w", cloudID, err)
	}
	defer rows.Close()

	var keys []storage.Key
	for rows.Next() {
		var kind, cellTag string
		var minCount uint32
		if err := rows.Scan(&kind, &cellTag, &minCount); err != nil {
			return nil, fmt.Errorf("sqlite: scan key: %w", err)
		}
		cellSize, err := strconv.ParseFloat(cellTag, 64)
		if err != nil {
			return nil, fmt.Errorf("sqlite: stored cell size %q: %w", cellTag, err)
		}
		keys = append(keys, storage.Key{
			CloudID:  cloudID,
			Kind:     storage.Kind(kind),
			CellSize: cellSize,
			MinCount: minCount,
		})
	}
	return keys, rows.Err()
}

// SaveRun upserts a run record by run ID.
func (s *Store) SaveRun(ctx context.Context, rec *storage.RunRecord) error {
	cellTag := strconv.FormatFloat(rec.CellSize, 'g', -1, 64)
	var finishedNs int64
	if !rec.FinishedAt.IsZero() {
		finishedNs = rec.FinishedAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, cloud_id, mode, cell_size, min_count, operation,
			state, fail_stage, error_code, error_text, stats_json, started_at_ns, finished_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			state = excluded.state,
			fail_stage = excluded.fail_stage,
			error_code = excluded.error_code,
			error_text = excluded.error_text,
			stats_json = excluded.stats_json,
			finished_at_ns = excluded.finished_at_ns`,
		rec.RunID, rec.CloudID, rec.Mode, cellTag, rec.MinCount, rec.Operation,
		rec.State, rec.FailStage, rec.ErrorCode, rec.ErrorText, string(rec.StatsJSON),
		rec.StartedAt.UnixNano(), finishedNs,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save run %s: %w", rec.RunID, err)
	}
	return nil
}

// GetRun returns the run record for runID, or storage.ErrNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*storage.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, cloud_id, mode, cell_size, min_count, operation,
			state, fail_stage, error_code, error_text, stats_json, started_at_ns, finished_at_ns
		FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return rec, err
}

// ListRuns returns up to limit run records, most recent first. Empty cloudID
// matches every cloud; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, cloudID string, limit int) ([]*storage.RunRecord, error) {
	query := `
		SELECT run_id, cloud_id, mode, cell_size, min_count, operation,
			state, fail_stage, error_code, error_text, stats_json, started_at_ns, finished_at_ns
		FROM runs`
	var args []interface{}
	if cloudID != "" {
		query += " WHERE cloud_id = ?"
		args = append(args, cloudID)
	}
	query += " ORDER BY started_at_ns DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var out []*storage.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*storage.RunRecord, error) {
	var rec storage.RunRecord
	var cellTag string
	var failStage, errorCode, errorText, statsJSON sql.NullString
	var startedNs, finishedNs int64
	err := row.Scan(&rec.RunID, &rec.CloudID, &rec.Mode, &cellTag, &rec.MinCount,
		&rec.Operation, &rec.State, &failStage, &errorCode, &errorText, &statsJSON,
		&startedNs, &finishedNs)
	if err != nil {
		return nil, err
	}
	cellSize, err := strconv.ParseFloat(cellTag, 64)
	if err != nil {
		return nil, fmt.Errorf("sqlite: stored cell size %q: %w", cellTag, err)
	}
	rec.CellSize = cellSize
	rec.FailStage = failStage.String
	rec.ErrorCode = errorCode.String
	rec.ErrorText = errorText.String
	if statsJSON.Valid {
		rec.StatsJSON = []byte(statsJSON.String)
	}
	rec.StartedAt = time.Unix(0, startedNs)
	if finishedNs != 0 {
		rec.FinishedAt = time.Unix(0, finishedNs)
	}
	return &rec, nil
}
