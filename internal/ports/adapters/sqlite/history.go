package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/forPelevin/scriptreel/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id           TEXT PRIMARY KEY,
	start_time       TEXT NOT NULL,
	end_time         TEXT NOT NULL,
	duration_seconds REAL NOT NULL,
	scripts_found    INTEGER NOT NULL,
	success_count    INTEGER NOT NULL,
	failure_count    INTEGER NOT NULL,
	config           TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS script_results (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL REFERENCES runs(run_id),
	script_name      TEXT NOT NULL,
	script_path      TEXT NOT NULL,
	success          INTEGER NOT NULL,
	failed_stage     TEXT NOT NULL DEFAULT '',
	video_path       TEXT,
	log_path         TEXT,
	errors           TEXT NOT NULL DEFAULT '[]',
	fallbacks        TEXT NOT NULL DEFAULT '[]',
	duration_seconds REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_script_results_path ON script_results(script_path);
`

// Store keeps one row per run and one per processed script.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// one writer; the run is sequential
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveRun writes the run and all of its script results in one transaction.
func (s *Store) SaveRun(ctx context.Context, sum *types.RunSummary) error {
	cfg, err := json.Marshal(sum.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, start_time, end_time, duration_seconds, scripts_found, success_count, failure_count, config)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET end_time=excluded.end_time, duration_seconds=excluded.duration_seconds,
		   success_count=excluded.success_count, failure_count=excluded.failure_count`,
		sum.RunID,
		sum.StartTime.UTC().Format(time.RFC3339Nano),
		sum.EndTime.UTC().Format(time.RFC3339Nano),
		sum.DurationSeconds,
		sum.ScriptsFound,
		sum.SuccessCount,
		sum.FailureCount,
		string(cfg),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO script_results (run_id, script_name, script_path, success, failed_stage, video_path, log_path, errors, fallbacks, duration_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare script result: %w", err)
	}
	defer stmt.Close()

	results := append(append([]types.ScriptResult{}, sum.VideosCreated...), sum.VideosFailed...)
	for _, r := range results {
		errs, _ := json.Marshal(r.Errors)
		fbs, _ := json.Marshal(r.Fallbacks)
		if _, err := stmt.ExecContext(ctx,
			sum.RunID,
			r.ScriptName,
			r.ScriptPath,
			r.Success,
			r.FailedStage,
			nullable(r.VideoPath),
			nullable(r.LogPath),
			string(errs),
			string(fbs),
			r.DurationSeconds,
		); err != nil {
			return fmt.Errorf("insert script result %s: %w", r.ScriptName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

func nullable(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
