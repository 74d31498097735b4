// Package hint implements progressive tutoring sessions: level progression,
// concept tracking, the content gate for generated hints, and their fallbacks.
package hint

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/google/uuid"
)

// ErrLevelOutOfSequence is returned when a commit would break strict 1,2,3,... numbering.
var ErrLevelOutOfSequence = errors.New("hint level out of sequence")

// StoreConfig bounds hint session progression and retention.
type StoreConfig struct {
	MaxLevel             int
	SessionTTL           time.Duration
	MaxSessionsPerSource int
}

// DefaultStoreConfig returns the default session limits.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxLevel:             4,
		SessionTTL:           30 * time.Minute,
		MaxSessionsPerSource: 5,
	}
}

// SessionContext is the read view of a live session used for prompt building
// and progress reporting.
type SessionContext struct {
	SessionID       string
	Turns           []domain.HintTurn
	CurrentLevel    int
	ProgressScore   float64
	SessionDuration time.Duration
	NextGuidance    string
	Concepts        []string
	CodeEvolution   int
}

// Store holds hint sessions keyed by source identity and problem key.
// It is not safe for concurrent use; the orchestrator loop is its only caller.
type Store struct {
	cfg      StoreConfig
	sessions map[string]map[string]*domain.HintSession
	logger   *slog.Logger
}

// NewStore creates an empty session store. Zero-valued config fields take
// their defaults.
func NewStore(cfg StoreConfig, logger *slog.Logger) *Store {
	def := DefaultStoreConfig()
	if cfg.MaxLevel <= 0 {
		cfg.MaxLevel = def.MaxLevel
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.MaxSessionsPerSource <= 0 {
		cfg.MaxSessionsPerSource = def.MaxSessionsPerSource
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:      cfg,
		sessions: make(map[string]map[string]*domain.HintSession),
		logger:   logger,
	}
}

// MaxLevel returns the configured highest hint level.
func (s *Store) MaxLevel() int {
	return s.cfg.MaxLevel
}

// Session returns the live session for (source, key). Expired or corrupt
// sessions are purged and reported as absent. Callers must not mutate the result.
func (s *Store) Session(source, key string, now time.Time) (*domain.HintSession, bool) {
	sess := s.lookup(source, key, now)
	return sess, sess != nil
}

// NextLevel returns the level the next hint for (source, key) should be generated at.
func (s *Store) NextLevel(source, key string, now time.Time) int {
	sess := s.lookup(source, key, now)
	if sess == nil {
		return 1
	}
	next := min(sess.CurrentLevel+1, s.cfg.MaxLevel)
	if limit := len(sess.Turns) + 1; next > limit {
		s.logger.Warn("hint level progression anomaly",
			"source", source, "problem", key, "current_level", sess.CurrentLevel, "turns", len(sess.Turns))
		next = limit
	}
	return next
}

// Exhausted reports whether the session for (source, key) has reached the last level.
func (s *Store) Exhausted(source, key string, now time.Time) bool {
	sess := s.lookup(source, key, now)
	return sess != nil && sess.Exhausted(s.cfg.MaxLevel)
}

// CommitTurn appends an accepted hint at level, creating the session on the
// first call, and returns the updated session.
func (s *Store) CommitTurn(source, key string, level int, content string, snap domain.ContextSnapshot, now time.Time) (*domain.HintSession, error) {
	sess := s.lookup(source, key, now)
	if sess == nil {
		sess = &domain.HintSession{
			ID:             uuid.NewString(),
			SourceIdentity: source,
			ProblemKey:     key,
			Concepts:       make(map[string]struct{}),
			InitialCode:    snap.CurrentCode,
			CreatedAt:      now,
		}
	}

	if level < 1 || level > s.cfg.MaxLevel || level != len(sess.Turns)+1 {
		return nil, fmt.Errorf("%w: got %d after %d turns", ErrLevelOutOfSequence, level, len(sess.Turns))
	}

	sess.Turns = append(sess.Turns, domain.HintTurn{
		Level:      level,
		Content:    content,
		CapturedAt: now,
		Stats:      ComputeStats(content),
	})
	sess.CurrentLevel = level
	for _, c := range ExtractConcepts(content) {
		sess.Concepts[c] = struct{}{}
	}
	if snap.CurrentCode != sess.InitialCode {
		sess.CodeSnapshots = append(sess.CodeSnapshots, domain.CodeSnapshot{
			Code:       snap.CurrentCode,
			CapturedAt: now,
			Level:      level,
		})
	}
	sess.LastUpdatedAt = now
	sess.ProgressScore = progressScore(sess, now)

	bySource := s.sessions[source]
	if bySource == nil {
		bySource = make(map[string]*domain.HintSession)
		s.sessions[source] = bySource
	}
	bySource[key] = sess
	s.evict(source, key, now)

	return sess, nil
}

// Context returns the prior turns and progress metrics for (source, key).
func (s *Store) Context(source, key string, now time.Time) (SessionContext, bool) {
	sess := s.lookup(source, key, now)
	if sess == nil {
		return SessionContext{}, false
	}
	turns := make([]domain.HintTurn, len(sess.Turns))
	copy(turns, sess.Turns)
	return SessionContext{
		SessionID:       sess.ID,
		Turns:           turns,
		CurrentLevel:    sess.CurrentLevel,
		ProgressScore:   sess.ProgressScore,
		SessionDuration: now.Sub(sess.CreatedAt),
		NextGuidance:    NextGuidance(min(sess.CurrentLevel+1, s.cfg.MaxLevel)),
		Concepts:        sess.ConceptList(),
		CodeEvolution:   len(sess.CodeSnapshots),
	}, true
}

// Reset deletes the session for (source, key). It is a no-op if none exists.
func (s *Store) Reset(source, key string) {
	s.remove(source, key)
}

// Sweep purges every expired session and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	for source, bySource := range s.sessions {
		for key, sess := range bySource {
			if s.expired(sess, now) {
				delete(bySource, key)
				removed++
			}
		}
		if len(bySource) == 0 {
			delete(s.sessions, source)
		}
	}
	return removed
}

// Clear drops every session.
func (s *Store) Clear() {
	s.sessions = make(map[string]map[string]*domain.HintSession)
}

// Count returns the number of stored sessions, including expired ones not yet swept.
func (s *Store) Count() int {
	n := 0
	for _, bySource := range s.sessions {
		n += len(bySource)
	}
	return n
}

// ValidateIntegrity checks that a session has its identifying fields and
// strictly sequential turn levels starting at 1.
func ValidateIntegrity(sess *domain.HintSession) bool {
	if sess == nil || sess.ID == "" || sess.SourceIdentity == "" || sess.ProblemKey == "" {
		return false
	}
	if sess.Concepts == nil || sess.CreatedAt.IsZero() {
		return false
	}
	for i, t := range sess.Turns {
		if t.Level != i+1 {
			return false
		}
	}
	return sess.CurrentLevel == len(sess.Turns)
}

func (s *Store) lookup(source, key string, now time.Time) *domain.HintSession {
	sess, ok := s.sessions[source][key]
	if !ok {
		return nil
	}
	if s.expired(sess, now) {
		s.logger.Debug("hint session expired", "source", source, "problem", key)
		s.remove(source, key)
		return nil
	}
	if !ValidateIntegrity(sess) {
		s.logger.Warn("hint session failed integrity check, purging", "source", source, "problem", key)
		s.remove(source, key)
		return nil
	}
	return sess
}

func (s *Store) expired(sess *domain.HintSession, now time.Time) bool {
	return now.Sub(sess.LastUpdatedAt) > s.cfg.SessionTTL
}

func (s *Store) remove(source, key string) {
	bySource, ok := s.sessions[source]
	if !ok {
		return
	}
	delete(bySource, key)
	if len(bySource) == 0 {
		delete(s.sessions, source)
	}
}

// evict drops expired sessions of source, then the least recently updated
// ones until the per-source cap holds. The session under keep is never chosen.
func (s *Store) evict(source, keep string, now time.Time) {
	bySource := s.sessions[source]
	for key, sess := range bySource {
		if key != keep && s.expired(sess, now) {
			delete(bySource, key)
		}
	}
	excess := len(bySource) - s.cfg.MaxSessionsPerSource
	if excess <= 0 {
		return
	}

	keys := make([]string, 0, len(bySource))
	for key := range bySource {
		if key != keep {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := bySource[keys[i]], bySource[keys[j]]
		if a.LastUpdatedAt.Equal(b.LastUpdatedAt) {
			return keys[i] < keys[j]
		}
		return a.LastUpdatedAt.Before(b.LastUpdatedAt)
	})
	if excess > len(keys) {
		excess = len(keys)
	}
	for _, key := range keys[:excess] {
		s.logger.Debug("evicting hint session", "source", source, "problem", key)
		delete(bySource, key)
	}
}

// progressScore is 2*level + min(snapshots,5) + concepts + min(minutes/5,3),
// rounded to one decimal.
func progressScore(sess *domain.HintSession, now time.Time) float64 {
	minutes := now.Sub(sess.CreatedAt).Minutes()
	score := float64(2*sess.CurrentLevel) +
		float64(min(len(sess.CodeSnapshots), 5)) +
		float64(len(sess.Concepts)) +
		math.Min(minutes/5, 3)
	return math.Round(score*10) / 10
}
