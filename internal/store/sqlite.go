package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite opens (creating if needed) the audit database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS request_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL,
		class TEXT NOT NULL,
		source TEXT NOT NULL,
		succeeded INTEGER NOT NULL,
		error_category TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		filtered INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_finished ON request_outcomes(finished_at);

	CREATE TABLE IF NOT EXISTS hint_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		request_id INTEGER NOT NULL,
		source TEXT NOT NULL,
		problem_key TEXT NOT NULL,
		level INTEGER NOT NULL,
		content TEXT NOT NULL,
		filtered INTEGER NOT NULL DEFAULT 0,
		filter_reason TEXT,
		progress_score REAL NOT NULL,
		committed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hint_turns_key ON hint_turns(source, problem_key, committed_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// RecordOutcome appends the terminal outcome of a request.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	query := `
	INSERT INTO request_outcomes
		(request_id, class, source, succeeded, error_category, retry_count, filtered, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var category any
	if rec.ErrorCategory != "" {
		category = rec.ErrorCategory
	}

	err := shared.RetryOnConflict(ctx, "record outcome", writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			int64(rec.RequestID), rec.Class, rec.SourceIdentity, rec.Succeeded,
			category, rec.RetryCount, rec.Filtered, rec.FinishedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// RecordHintTurn appends a committed hint turn.
func (s *SQLiteStore) RecordHintTurn(ctx context.Context, rec domain.HintTurnRecord) error {
	query := `
	INSERT INTO hint_turns
		(session_id, request_id, source, problem_key, level, content, filtered, filter_reason, progress_score, committed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var reason any
	if rec.FilterReason != "" {
		reason = rec.FilterReason
	}

	err := shared.RetryOnConflict(ctx, "record hint turn", writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.SessionID, int64(rec.RequestID), rec.SourceIdentity, rec.ProblemKey, rec.Level,
			rec.Content, rec.Filtered, reason, rec.ProgressScore, rec.CommittedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert hint turn: %w", err)
	}
	return nil
}

// ListHintTurns returns up to limit most recent turns for (source, problemKey), oldest first.
func (s *SQLiteStore) ListHintTurns(ctx context.Context, source, problemKey string, limit int) ([]domain.HintTurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT session_id, request_id, source, problem_key, level, content,
		       filtered, filter_reason, progress_score, committed_at
		FROM (
			SELECT * FROM hint_turns
			WHERE source = ? AND problem_key = ?
			ORDER BY committed_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY committed_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, source, problemKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query hint turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close hint turn rows", "error", closeErr)
		}
	}()

	var turns []domain.HintTurnRecord
	for rows.Next() {
		var (
			rec         domain.HintTurnRecord
			requestID   int64
			reason      sql.NullString
			committedAt int64
		)
		if err := rows.Scan(
			&rec.SessionID, &requestID, &rec.SourceIdentity, &rec.ProblemKey, &rec.Level, &rec.Content,
			&rec.Filtered, &reason, &rec.ProgressScore, &committedAt,
		); err != nil {
			return nil, fmt.Errorf("scan hint turn row: %w", err)
		}
		rec.RequestID = uint64(requestID)
		rec.FilterReason = reason.String
		rec.CommittedAt = time.UnixMilli(committedAt).UTC()
		turns = append(turns, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hint turns: %w", err)
	}
	return turns, nil
}

// CountOutcomes returns outcome counts by error category since the given time.
func (s *SQLiteStore) CountOutcomes(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := `
		SELECT COALESCE(error_category, ''), COUNT(*)
		FROM request_outcomes
		WHERE finished_at >= ?
		GROUP BY COALESCE(error_category, '')`

	rows, err := s.db.QueryContext(ctx, query, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query outcome counts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close outcome count rows", "error", closeErr)
		}
	}()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			category string
			n        int64
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[category] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	return counts, nil
}

// PurgeBefore deletes outcome and hint turn records older than cutoff.
func (s *SQLiteStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	threshold := cutoff.UnixMilli()
	var total int64

	err := shared.RetryOnConflict(ctx, "purge audit", writeAttempts, writeBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		outcomes, err := tx.ExecContext(ctx, `DELETE FROM request_outcomes WHERE finished_at < ?`, threshold)
		if err != nil {
			return err
		}
		turns, err := tx.ExecContext(ctx, `DELETE FROM hint_turns WHERE committed_at < ?`, threshold)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		n1, _ := outcomes.RowsAffected()
		n2, _ := turns.RowsAffected()
		total = n1 + n2
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge audit records: %w", err)
	}
	return total, nil
}
