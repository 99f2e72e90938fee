// Package store persists render-run history in SQLite. It is optional:
// the render pipeline itself keeps no state beyond the files it writes.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/yourusername/grafana-reporter/pkg/model"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register SQLite driver
)

// Store handles database operations.
type Store struct {
	db         *sql.DB
	writeQueue *writeQueue
	log        *zap.Logger
}

// NewStore opens the database, runs migrations and starts the write
// queue that serializes all writes onto SQLite's single writer.
func NewStore(dbPath string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL allows concurrent readers alongside the single writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.writeQueue = newWriteQueue(s)
	return s, nil
}

// migrate runs database migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_name TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			status TEXT NOT NULL,
			error_text TEXT,
			artifact_path TEXT,
			file_url TEXT,
			notified INTEGER NOT NULL DEFAULT 0,
			bytes INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_job_name ON runs(job_name)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a new run record through the write queue.
func (s *Store) CreateRun(run *model.Run) error {
	return s.writeQueue.enqueue(opCreateRun, run)
}

// UpdateRun updates a run record through the write queue.
func (s *Store) UpdateRun(run *model.Run) error {
	return s.writeQueue.enqueue(opUpdateRun, run)
}

func (s *Store) createRunDirect(run *model.Run) error {
	run.CreatedAt = time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO runs (job_name, started_at, finished_at, status, error_text, artifact_path, file_url, notified, bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobName, run.StartedAt.UTC(), run.FinishedAt, run.Status, run.ErrorText,
		run.ArtifactPath, run.FileURL, run.Notified, run.Bytes, run.CreatedAt,
	)
	if err != nil {
		return err
	}
	run.ID, err = res.LastInsertId()
	return err
}

func (s *Store) updateRunDirect(run *model.Run) error {
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, error_text = ?, artifact_path = ?, file_url = ?, notified = ?, bytes = ?
		 WHERE id = ?`,
		run.FinishedAt, run.Status, run.ErrorText, run.ArtifactPath, run.FileURL,
		run.Notified, run.Bytes, run.ID,
	)
	return err
}

func (s *Store) pruneRunsDirect(before time.Time) error {
	res, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, before.UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Info("pruned old run records", zap.Int64("count", n))
	}
	return nil
}

// PruneRuns deletes run records started before the given time.
func (s *Store) PruneRuns(before time.Time) error {
	return s.writeQueue.enqueue(opPruneRuns, before)
}

// ListRuns returns the most recent runs, newest first. jobName filters by
// job when non-empty.
func (s *Store) ListRuns(jobName string, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, job_name, started_at, finished_at, status, error_text, artifact_path, file_url, notified, bytes, created_at
		 FROM runs`
	args := []any{}
	if jobName != "" {
		query += ` WHERE job_name = ?`
		args = append(args, jobName)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run := &model.Run{}
		var finishedAt sql.NullTime
		var errorText, artifactPath, fileURL sql.NullString
		if err := rows.Scan(&run.ID, &run.JobName, &run.StartedAt, &finishedAt, &run.Status,
			&errorText, &artifactPath, &fileURL, &run.Notified, &run.Bytes, &run.CreatedAt); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}
		run.ErrorText = errorText.String
		run.ArtifactPath = artifactPath.String
		run.FileURL = fileURL.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close shuts down the write queue and closes the database.
func (s *Store) Close() error {
	if s.writeQueue != nil {
		s.writeQueue.shutdown()
	}
	return s.db.Close()
}
