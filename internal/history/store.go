// Package history persists build results into a SQLite database so
// past builds can be inspected and reported on.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mkessler/anvil/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// BuildRecord is one persisted build invocation.
type BuildRecord struct {
	ID            int64
	BuildID       string
	Task          string
	Configuration string
	Status        string
	AbortedBy     string
	PhasesRun     int
	PhasesFailed  int
	Duration      time.Duration
	StartedAt     time.Time
}

// Store manages the SQLite database holding build history
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new Store instance and initializes the database
func NewStore(dbPath string) (*Store, error) {
	// Handle in-memory database
	if dbPath == ":memory:" {
		return openAndInitStore(dbPath)
	}

	// Ensure parent directory exists for file-based databases
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return openAndInitStore(dbPath)
}

// openAndInitStore opens the database connection and initializes schema
func openAndInitStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure SQLite for concurrent access with retry logic.
	// Set busy_timeout FIRST so subsequent operations wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := execWithRetry(db, schemaSQL, 5, 10*time.Millisecond); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, sql string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(sql)
		if err == nil {
			return nil
		}

		// Only retry on "database is locked" errors
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}

		lastErr = err
		delay := baseDelay * time.Duration(1<<attempt)
		time.Sleep(delay)
	}
	return lastErr
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordBuild persists a build summary and its annotations atomically.
func (s *Store) RecordBuild(ctx context.Context, summary *models.BuildSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	buildQuery := `INSERT INTO builds
		(build_id, task, configuration, status, aborted_by, phases_run, phases_failed, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := tx.ExecContext(ctx, buildQuery,
		summary.BuildID,
		summary.Task,
		summary.Configuration,
		summary.Status,
		summary.AbortedBy,
		summary.ExecutedCount(),
		len(summary.FailedPhases()),
		summary.Duration.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}

	buildRowID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get build rowid: %w", err)
	}

	annotations := summary.Annotations()
	if len(annotations) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO annotations
			(build_rowid, kind, file, line, col, message, phase)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare annotation statement: %w", err)
		}
		defer stmt.Close()

		for _, a := range annotations {
			_, err := stmt.ExecContext(ctx, buildRowID,
				string(a.Kind), a.File, a.Line, a.Column, a.Message, a.Phase)
			if err != nil {
				return fmt.Errorf("insert annotation: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// RecentBuilds retrieves the most recent builds, newest first.
func (s *Store) RecentBuilds(ctx context.Context, limit int) ([]*BuildRecord, error) {
	query := `SELECT id, build_id, task, configuration, status, aborted_by,
		phases_run, phases_failed, duration_seconds, started_at
		FROM builds
		ORDER BY id DESC`

	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var records []*BuildRecord
	for rows.Next() {
		record, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build rows: %w", err)
	}

	return records, nil
}

// GetBuild retrieves one build by its build ID. Returns (nil, nil) when
// the build is unknown.
func (s *Store) GetBuild(ctx context.Context, buildID string) (*BuildRecord, error) {
	query := `SELECT id, build_id, task, configuration, status, aborted_by,
		phases_run, phases_failed, duration_seconds, started_at
		FROM builds
		WHERE build_id = ?`

	rows, err := s.db.QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("query build: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate build rows: %w", err)
		}
		return nil, nil
	}
	return scanBuild(rows)
}

// LatestBuild retrieves the most recent build. Returns (nil, nil) when
// the history is empty.
func (s *Store) LatestBuild(ctx context.Context) (*BuildRecord, error) {
	records, err := s.RecentBuilds(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// scanBuild reads one builds row.
func scanBuild(rows *sql.Rows) (*BuildRecord, error) {
	record := &BuildRecord{}
	var configuration, abortedBy sql.NullString
	var durationSeconds float64

	err := rows.Scan(
		&record.ID,
		&record.BuildID,
		&record.Task,
		&configuration,
		&record.Status,
		&abortedBy,
		&record.PhasesRun,
		&record.PhasesFailed,
		&durationSeconds,
		&record.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan build row: %w", err)
	}

	if configuration.Valid {
		record.Configuration = configuration.String
	}
	if abortedBy.Valid {
		record.AbortedBy = abortedBy.String
	}
	record.Duration = time.Duration(durationSeconds * float64(time.Second))

	return record, nil
}

// Annotations retrieves the annotations of one stored build, in
// insertion order.
func (s *Store) Annotations(ctx context.Context, buildID string) ([]models.Annotation, error) {
	query := `SELECT a.kind, a.file, a.line, a.col, a.message, a.phase
		FROM annotations a
		JOIN builds b ON a.build_rowid = b.id
		WHERE b.build_id = ?
		ORDER BY a.id`

	rows, err := s.db.QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}
	defer rows.Close()

	var annotations []models.Annotation
	for rows.Next() {
		var a models.Annotation
		var kind string
		var file, phase sql.NullString
		var line, column sql.NullInt64

		if err := rows.Scan(&kind, &file, &line, &column, &a.Message, &phase); err != nil {
			return nil, fmt.Errorf("scan annotation row: %w", err)
		}

		a.Kind = models.AnnotationKind(kind)
		if file.Valid {
			a.File = file.String
		}
		if line.Valid {
			a.Line = int(line.Int64)
		}
		if column.Valid {
			a.Column = int(column.Int64)
		}
		if phase.Valid {
			a.Phase = phase.String
		}

		annotations = append(annotations, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotation rows: %w", err)
	}

	return annotations, nil
}

// CleanupOldBuilds removes builds older than keepDays and trims the
// table down to maxBuilds newest rows. Either bound can be disabled
// with a non-positive value. Returns the number of deleted builds.
func (s *Store) CleanupOldBuilds(ctx context.Context, keepDays, maxBuilds int) (int64, error) {
	var deleted int64

	if keepDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -keepDays)
		result, err := s.db.ExecContext(ctx, `DELETE FROM builds WHERE started_at < ?`, cutoff)
		if err != nil {
			return 0, fmt.Errorf("cleanup old builds: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("get rows affected: %w", err)
		}
		deleted += n
	}

	if maxBuilds > 0 {
		result, err := s.db.ExecContext(ctx, `DELETE FROM builds
			WHERE id NOT IN (SELECT id FROM builds ORDER BY id DESC LIMIT ?)`, maxBuilds)
		if err != nil {
			return 0, fmt.Errorf("trim builds: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("get rows affected: %w", err)
		}
		deleted += n
	}

	return deleted, nil
}
