package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore keeps runs and their merge history in a SQLite database.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// WAL lets the API read while a batch run writes.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &SQLiteStore{path: path, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Deliver implements core.ReportSink. Delivering the same run again replaces
// it.
func (s *SQLiteStore) Deliver(ctx context.Context, result *core.RunResult) error {
	result = normalized(result)
	sum, _, err := checksum(result)
	if err != nil {
		return err
	}
	record, err := json.Marshal(result.Record)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	sections, err := json.Marshal(result.Record.ProcessOutline.CompleteSections)
	if err != nil {
		return fmt.Errorf("marshaling sections: %w", err)
	}
	warnings, err := json.Marshal(nonNil(result.Warnings))
	if err != nil {
		return fmt.Errorf("marshaling warnings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, status, main_complain, complete_sections, failed_stage, failure,
			warnings, record, checksum, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			main_complain = excluded.main_complain,
			complete_sections = excluded.complete_sections,
			failed_stage = excluded.failed_stage,
			failure = excluded.failure,
			warnings = excluded.warnings,
			record = excluded.record,
			checksum = excluded.checksum,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`,
		string(result.RunID), string(result.Status), result.Record.InitialInquiry.ChiefComplaint,
		string(sections), string(result.FailedStage), result.Failure,
		string(warnings), string(record), sum,
		formatTime(result.StartedAt), formatTime(result.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM history WHERE run_id = ?", string(result.RunID)); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history (run_id, seq, stage, iteration, section, update_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing history insert: %w", err)
	}
	defer stmt.Close()
	for _, h := range result.History {
		update, err := json.Marshal(h.Update)
		if err != nil {
			return fmt.Errorf("marshaling history %d: %w", h.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx, string(result.RunID), h.Seq, string(h.Stage), h.Iteration,
			boolToInt(h.Section), string(update), formatTime(h.At)); err != nil {
			return fmt.Errorf("inserting history %d: %w", h.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	return nil
}

// Get loads a run with its history and verifies the stored checksum.
func (s *SQLiteStore) Get(ctx context.Context, id core.RunID) (*core.RunResult, error) {
	var (
		status, failedStage, failure, warnings, record, sum, started, finished string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, failed_stage, failure, warnings, record, checksum, started_at, finished_at
		FROM runs WHERE id = ?
	`, string(id)).Scan(&status, &failedStage, &failure, &warnings, &record, &sum, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	result := &core.RunResult{
		RunID:       id,
		Status:      core.RunStatus(status),
		FailedStage: core.Stage(failedStage),
		Failure:     failure,
	}
	if err := json.Unmarshal([]byte(record), &result.Record); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if err := json.Unmarshal([]byte(warnings), &result.Warnings); err != nil {
		return nil, fmt.Errorf("decoding warnings: %w", err)
	}
	if len(result.Warnings) == 0 {
		result.Warnings = nil
	}
	if result.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if result.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}
	if result.History, err = s.history(ctx, id); err != nil {
		return nil, err
	}
	if err := verify(id, sum, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) history(ctx context.Context, id core.RunID) ([]core.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stage, iteration, section, update_json, at
		FROM history WHERE run_id = ? ORDER BY seq
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []core.HistoryEntry
	for rows.Next() {
		var (
			h                 core.HistoryEntry
			stage, update, at string
			section, iter     int
		)
		if err := rows.Scan(&h.Seq, &stage, &iter, &section, &update, &at); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		h.Stage = core.Stage(stage)
		h.Iteration = iter
		h.Section = section != 0
		if err := json.Unmarshal([]byte(update), &h.Update); err != nil {
			return nil, fmt.Errorf("decoding history %d: %w", h.Seq, err)
		}
		if h.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// List returns run summaries, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]core.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, main_complain, complete_sections, started_at, finished_at
		FROM runs ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []core.RunSummary
	for rows.Next() {
		var (
			sum                                   core.RunSummary
			id, status, sections, started, finish string
		)
		if err := rows.Scan(&id, &status, &sum.ChiefComplaint, &sections, &started, &finish); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		sum.RunID = core.RunID(id)
		sum.Status = core.RunStatus(status)
		if err := json.Unmarshal([]byte(sections), &sum.Completed); err != nil {
			return nil, fmt.Errorf("decoding sections of %s: %w", id, err)
		}
		if sum.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if sum.FinishedAt, err = parseTime(finish); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
