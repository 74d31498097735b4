package domain

import "time"

// OutcomeRecord is the audit entry written for every terminal request state.
type OutcomeRecord struct {
	RequestID      uint64
	Class          string
	SourceIdentity string
	Succeeded      bool
	ErrorCategory  string
	RetryCount     int
	Filtered       bool
	FinishedAt     time.Time
}

// HintTurnRecord is the audit entry written for every committed hint turn.
type HintTurnRecord struct {
	SessionID      string
	RequestID      uint64
	SourceIdentity string
	ProblemKey     string
	Level          int
	Content        string
	Filtered       bool
	FilterReason   string
	ProgressScore  float64
	CommittedAt    time.Time
}
