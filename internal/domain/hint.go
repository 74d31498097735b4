package domain

import (
	"sort"
	"time"
)

// ContentStats holds cheap structural heuristics about a hint's content.
type ContentStats struct {
	Length         int  `json:"length"`
	HasFunction    bool `json:"hasFunction"`
	HasLoop        bool `json:"hasLoop"`
	HasConditional bool `json:"hasConditional"`
}

// HintTurn is one committed hint in a session.
type HintTurn struct {
	Level      int          `json:"level"`
	Content    string       `json:"content"`
	CapturedAt time.Time    `json:"capturedAt"`
	Stats      ContentStats `json:"contentStats"`
}

// CodeSnapshot records the learner's code when it diverged from the initial code.
type CodeSnapshot struct {
	Code       string    `json:"code"`
	CapturedAt time.Time `json:"capturedAt"`
	Level      int       `json:"level"`
}

// HintSession holds progressive tutoring state for one (source, problem) pair.
type HintSession struct {
	ID             string
	SourceIdentity string
	ProblemKey     string
	CurrentLevel   int
	Turns          []HintTurn
	Concepts       map[string]struct{}
	CodeSnapshots  []CodeSnapshot
	InitialCode    string
	ProgressScore  float64
	CreatedAt      time.Time
	LastUpdatedAt  time.Time
}

// ConceptList returns the introduced concepts in sorted order.
func (s *HintSession) ConceptList() []string {
	out := make([]string, 0, len(s.Concepts))
	for c := range s.Concepts {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// LastTurn returns the most recent turn, or nil if none were committed.
func (s *HintSession) LastTurn() *HintTurn {
	if len(s.Turns) == 0 {
		return nil
	}
	return &s.Turns[len(s.Turns)-1]
}

// Exhausted returns true once the session has reached maxLevel.
func (s *HintSession) Exhausted(maxLevel int) bool {
	return s.CurrentLevel >= maxLevel && len(s.Turns) >= maxLevel
}
