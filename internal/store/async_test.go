package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
)

type memoryRecorder struct {
	mu       sync.Mutex
	outcomes []domain.OutcomeRecord
	turns    []domain.HintTurnRecord
	gate     chan struct{}
	fail     bool
}

func (m *memoryRecorder) RecordOutcome(_ context.Context, rec domain.OutcomeRecord) error {
	if m.gate != nil {
		<-m.gate
	}
	if m.fail {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, rec)
	return nil
}

func (m *memoryRecorder) RecordHintTurn(_ context.Context, rec domain.HintTurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, rec)
	return nil
}

func TestAsyncRecorder_FlushesOnClose(t *testing.T) {
	t.Parallel()
	mem := &memoryRecorder{}
	r := NewAsyncRecorder(mem, 16, nil)

	for i := 1; i <= 5; i++ {
		if err := r.RecordOutcome(context.Background(), domain.OutcomeRecord{RequestID: uint64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	_ = r.RecordHintTurn(context.Background(), domain.HintTurnRecord{SessionID: "s", Level: 1})
	r.Close(time.Second)

	mem.mu.Lock()
	defer mem.mu.Unlock()
	if len(mem.outcomes) != 5 || len(mem.turns) != 1 {
		t.Fatalf("outcomes = %d, turns = %d", len(mem.outcomes), len(mem.turns))
	}
	for i, rec := range mem.outcomes {
		if rec.RequestID != uint64(i+1) {
			t.Errorf("outcomes[%d].RequestID = %d", i, rec.RequestID)
		}
	}
}

func TestAsyncRecorder_DropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	mem := &memoryRecorder{gate: make(chan struct{})}
	r := NewAsyncRecorder(mem, 2, nil)

	// The first record is picked up by the worker, which then blocks on gate.
	_ = r.RecordOutcome(context.Background(), domain.OutcomeRecord{RequestID: 1})
	deadline := time.Now().Add(time.Second)
	for len(r.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	for i := 2; i <= 5; i++ {
		_ = r.RecordOutcome(context.Background(), domain.OutcomeRecord{RequestID: uint64(i)})
	}
	if got := r.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}

	close(mem.gate)
	r.Close(time.Second)

	mem.mu.Lock()
	defer mem.mu.Unlock()
	var ids []uint64
	for _, rec := range mem.outcomes {
		ids = append(ids, rec.RequestID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 4 || ids[2] != 5 {
		t.Errorf("written IDs = %v, want [1 4 5]", ids)
	}
}

func TestAsyncRecorder_AfterClose(t *testing.T) {
	t.Parallel()
	mem := &memoryRecorder{fail: true}
	r := NewAsyncRecorder(mem, 4, nil)
	_ = r.RecordOutcome(context.Background(), domain.OutcomeRecord{RequestID: 1})
	r.Close(time.Second)
	r.Close(time.Second)

	if err := r.RecordOutcome(context.Background(), domain.OutcomeRecord{RequestID: 2}); err != nil {
		t.Fatal(err)
	}
	if got := r.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}
