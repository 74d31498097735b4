// Package store provides the best-effort audit log of request outcomes and
// committed hint turns.
package store

import (
	"context"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
)

// Repository defines the interface for persisting audit records.
type Repository interface {
	// RecordOutcome appends the terminal outcome of a request.
	RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error

	// RecordHintTurn appends a committed hint turn.
	RecordHintTurn(ctx context.Context, rec domain.HintTurnRecord) error

	// ListHintTurns returns the most recent turns for (source, problemKey), oldest first.
	ListHintTurns(ctx context.Context, source, problemKey string, limit int) ([]domain.HintTurnRecord, error)

	// CountOutcomes returns outcome counts by error category since the given time.
	// Successful outcomes are counted under the empty category.
	CountOutcomes(ctx context.Context, since time.Time) (map[string]int64, error)

	// PurgeBefore deletes records older than cutoff and returns how many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
