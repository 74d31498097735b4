package hint

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore() *Store {
	return NewStore(DefaultStoreConfig(), nil)
}

func snap(code string) domain.ContextSnapshot {
	return domain.ContextSnapshot{ProblemTitle: "Two Sum", CurrentCode: code, Language: "python"}
}

func TestStore_NextLevelAbsentSession(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	if got := s.NextLevel("tab-1", "two-sum", t0); got != 1 {
		t.Errorf("NextLevel = %d, want 1", got)
	}
}

func TestStore_SequentialLevelsHeldAtMax(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	now := t0

	for want := 1; want <= 4; want++ {
		level := s.NextLevel("tab-1", "two-sum", now)
		if level != want {
			t.Fatalf("request %d: NextLevel = %d, want %d", want, level, want)
		}
		if _, err := s.CommitTurn("tab-1", "two-sum", level, Fallback(level), snap("pass"), now); err != nil {
			t.Fatalf("CommitTurn(%d): %v", level, err)
		}
		now = now.Add(time.Minute)
	}

	if got := s.NextLevel("tab-1", "two-sum", now); got != 4 {
		t.Errorf("fifth NextLevel = %d, want 4", got)
	}
	if !s.Exhausted("tab-1", "two-sum", now) {
		t.Error("session should be exhausted after four turns")
	}
	if _, err := s.CommitTurn("tab-1", "two-sum", 5, "more", snap("pass"), now); !errors.Is(err, ErrLevelOutOfSequence) {
		t.Errorf("commit past max: err = %v, want ErrLevelOutOfSequence", err)
	}
}

func TestStore_CommitRejectsSkippedLevel(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	_, err := s.CommitTurn("tab-1", "two-sum", 2, Fallback(2), snap(""), t0)
	if !errors.Is(err, ErrLevelOutOfSequence) {
		t.Fatalf("err = %v, want ErrLevelOutOfSequence", err)
	}
	if s.Count() != 0 {
		t.Errorf("rejected commit must not create a session, Count = %d", s.Count())
	}
}

func TestStore_TurnLevelsMonotonic(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	now := t0

	for i := 0; i < 10; i++ {
		level := s.NextLevel("tab-1", "p", now)
		_, _ = s.CommitTurn("tab-1", "p", level, Fallback(level), snap(""), now)
		now = now.Add(time.Second)
	}

	sess, ok := s.Session("tab-1", "p", now)
	if !ok {
		t.Fatal("session missing")
	}
	for i, turn := range sess.Turns {
		if turn.Level != i+1 {
			t.Errorf("turns[%d].Level = %d, want %d", i, turn.Level, i+1)
		}
	}
	if sess.CurrentLevel != len(sess.Turns) {
		t.Errorf("CurrentLevel = %d, turns = %d", sess.CurrentLevel, len(sess.Turns))
	}
}

func TestStore_SessionExpires(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	if _, err := s.CommitTurn("tab-1", "p", 1, Fallback(1), snap(""), t0); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Context("tab-1", "p", t0.Add(30*time.Minute)); !ok {
		t.Error("session should still be live exactly at the TTL")
	}
	later := t0.Add(30*time.Minute + time.Second)
	if _, ok := s.Context("tab-1", "p", later); ok {
		t.Error("expired session should be absent")
	}
	if got := s.NextLevel("tab-1", "p", later); got != 1 {
		t.Errorf("NextLevel after expiry = %d, want 1", got)
	}
}

func TestStore_EvictsLeastRecentlyUpdatedPerSource(t *testing.T) {
	t.Parallel()
	s := NewStore(StoreConfig{MaxSessionsPerSource: 3}, nil)

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("problem-%d", i)
		if _, err := s.CommitTurn("tab-1", key, 1, Fallback(1), snap(""), t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.CommitTurn("tab-2", "problem-0", 1, Fallback(1), snap(""), t0); err != nil {
		t.Fatal(err)
	}

	now := t0.Add(10 * time.Second)
	for i := 0; i < 2; i++ {
		if _, ok := s.Session("tab-1", fmt.Sprintf("problem-%d", i), now); ok {
			t.Errorf("problem-%d should have been evicted", i)
		}
	}
	for i := 2; i < 5; i++ {
		if _, ok := s.Session("tab-1", fmt.Sprintf("problem-%d", i), now); !ok {
			t.Errorf("problem-%d should be retained", i)
		}
	}
	if _, ok := s.Session("tab-2", "problem-0", now); !ok {
		t.Error("eviction must be scoped to the committing source")
	}
}

func TestStore_EvictionKeepsJustCommittedSession(t *testing.T) {
	t.Parallel()
	s := NewStore(StoreConfig{MaxSessionsPerSource: 1}, nil)

	if _, err := s.CommitTurn("tab-1", "z", 1, Fallback(1), snap(""), t0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CommitTurn("tab-1", "a", 1, Fallback(1), snap(""), t0); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Session("tab-1", "a", t0); !ok {
		t.Error("the session just committed must survive eviction")
	}
	if _, ok := s.Session("tab-1", "z", t0); ok {
		t.Error("the older session should have been evicted")
	}
}

func TestStore_ProgressScore(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	if _, err := s.CommitTurn("tab-1", "p", 1, "Consider recursion with a clear base case before anything else here.", snap("a = 1"), t0); err != nil {
		t.Fatal(err)
	}
	sess, err := s.CommitTurn("tab-1", "p", 2, "A hash map lets you look values up quickly as you scan the input once.", snap("a = 2"), t0.Add(7*time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	// 2*2 + 1 snapshot + 2 concepts + 7/5 minutes
	if sess.ProgressScore != 8.4 {
		t.Errorf("ProgressScore = %v, want 8.4", sess.ProgressScore)
	}
	if len(sess.CodeSnapshots) != 1 {
		t.Errorf("CodeSnapshots = %d, want 1", len(sess.CodeSnapshots))
	}

	ctx, ok := s.Context("tab-1", "p", t0.Add(10*time.Minute))
	if !ok {
		t.Fatal("context missing")
	}
	if ctx.SessionDuration != 10*time.Minute {
		t.Errorf("SessionDuration = %v, want 10m", ctx.SessionDuration)
	}
	if len(ctx.Concepts) != 2 || ctx.Concepts[0] != "hash map" || ctx.Concepts[1] != "recursion" {
		t.Errorf("Concepts = %v", ctx.Concepts)
	}
	if ctx.NextGuidance != NextGuidance(3) {
		t.Errorf("NextGuidance = %q", ctx.NextGuidance)
	}
}

func TestStore_ProgressScoreCapsTimeAndSnapshots(t *testing.T) {
	t.Parallel()
	s := NewStore(StoreConfig{MaxLevel: 10}, nil)
	now := t0

	var sess *domain.HintSession
	for level := 1; level <= 7; level++ {
		var err error
		sess, err = s.CommitTurn("tab-1", "p", level, "keep going", snap(fmt.Sprintf("v%d", level)), now)
		if err != nil {
			t.Fatal(err)
		}
		now = now.Add(5 * time.Minute)
	}

	// 2*7 + min(7,5) + 0 concepts + min(30/5,3)
	if sess.ProgressScore != 22 {
		t.Errorf("ProgressScore = %v, want 22", sess.ProgressScore)
	}
}

func TestStore_ResetIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	if _, err := s.CommitTurn("tab-1", "p", 1, Fallback(1), snap(""), t0); err != nil {
		t.Fatal(err)
	}
	s.Reset("tab-1", "p")
	s.Reset("tab-1", "p")
	if s.Count() != 0 {
		t.Errorf("Count = %d, want 0", s.Count())
	}
	if got := s.NextLevel("tab-1", "p", t0); got != 1 {
		t.Errorf("NextLevel after reset = %d, want 1", got)
	}
}

func TestStore_CorruptSessionTreatedAsAbsent(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	sess, err := s.CommitTurn("tab-1", "p", 1, Fallback(1), snap(""), t0)
	if err != nil {
		t.Fatal(err)
	}
	sess.Turns[0].Level = 3

	if got := s.NextLevel("tab-1", "p", t0); got != 1 {
		t.Errorf("NextLevel = %d, want 1", got)
	}
	if s.Count() != 0 {
		t.Error("corrupt session should be purged")
	}
}

func TestStore_Sweep(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	_, _ = s.CommitTurn("tab-1", "old", 1, Fallback(1), snap(""), t0)
	_, _ = s.CommitTurn("tab-2", "new", 1, Fallback(1), snap(""), t0.Add(20*time.Minute))

	if n := s.Sweep(t0.Add(40 * time.Minute)); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
}

func TestValidateIntegrity(t *testing.T) {
	t.Parallel()

	valid := func() *domain.HintSession {
		return &domain.HintSession{
			ID:             "id",
			SourceIdentity: "tab",
			ProblemKey:     "p",
			CurrentLevel:   2,
			Turns:          []domain.HintTurn{{Level: 1}, {Level: 2}},
			Concepts:       map[string]struct{}{},
			CreatedAt:      t0,
		}
	}

	tests := []struct {
		name   string
		mutate func(*domain.HintSession)
		want   bool
	}{
		{"valid", func(*domain.HintSession) {}, true},
		{"missing id", func(s *domain.HintSession) { s.ID = "" }, false},
		{"nil concepts", func(s *domain.HintSession) { s.Concepts = nil }, false},
		{"gap in levels", func(s *domain.HintSession) { s.Turns[1].Level = 3 }, false},
		{"level mismatch", func(s *domain.HintSession) { s.CurrentLevel = 4 }, false},
		{"zero created", func(s *domain.HintSession) { s.CreatedAt = time.Time{} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := valid()
			tt.mutate(sess)
			if got := ValidateIntegrity(sess); got != tt.want {
				t.Errorf("ValidateIntegrity = %v, want %v", got, tt.want)
			}
		})
	}

	if ValidateIntegrity(nil) {
		t.Error("nil session must be invalid")
	}
}
