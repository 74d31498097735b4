package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
)

const (
	defaultAuditQueue = 256
	auditWriteTimeout = 2 * time.Second
	slowAuditWrite    = 100 * time.Millisecond
)

// Recorder is the write side of Repository.
type Recorder interface {
	RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error
	RecordHintTurn(ctx context.Context, rec domain.HintTurnRecord) error
}

type auditEntry struct {
	outcome *domain.OutcomeRecord
	turn    *domain.HintTurnRecord
}

// AsyncRecorder queues audit records and writes them from a background
// goroutine, so callers never wait on the database. When the queue is full
// the oldest pending record is dropped.
type AsyncRecorder struct {
	next    Recorder
	queue   chan auditEntry
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewAsyncRecorder starts a recorder writing to next.
func NewAsyncRecorder(next Recorder, queueSize int, logger *slog.Logger) *AsyncRecorder {
	if queueSize <= 0 {
		queueSize = defaultAuditQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &AsyncRecorder{
		next:   next,
		queue:  make(chan auditEntry, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	r.wg.Add(1)
	go r.process()
	return r
}

// RecordOutcome queues rec. It never blocks and always returns nil.
func (r *AsyncRecorder) RecordOutcome(_ context.Context, rec domain.OutcomeRecord) error {
	r.enqueue(auditEntry{outcome: &rec})
	return nil
}

// RecordHintTurn queues rec. It never blocks and always returns nil.
func (r *AsyncRecorder) RecordHintTurn(_ context.Context, rec domain.HintTurnRecord) error {
	r.enqueue(auditEntry{turn: &rec})
	return nil
}

func (r *AsyncRecorder) enqueue(e auditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.dropped++
		return
	}

	select {
	case r.queue <- e:
		return
	default:
	}

	// Full: drop the oldest pending record to make room.
	select {
	case <-r.queue:
		r.dropped++
		r.logger.Warn("audit queue full, dropped oldest record", "queue_len", len(r.queue))
	default:
	}
	select {
	case r.queue <- e:
	default:
		r.dropped++
	}
}

func (r *AsyncRecorder) process() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-r.done:
			// Flush whatever is still queued.
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *AsyncRecorder) write(e auditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	start := time.Now()
	var err error
	switch {
	case e.outcome != nil:
		err = r.next.RecordOutcome(ctx, *e.outcome)
	case e.turn != nil:
		err = r.next.RecordHintTurn(ctx, *e.turn)
	}
	if err != nil {
		r.logger.Warn("failed to write audit record", "error", err)
		return
	}
	if d := time.Since(start); d > slowAuditWrite {
		r.logger.Warn("slow audit write", "duration_ms", d.Milliseconds())
	}
}

// Dropped returns how many records were discarded.
func (r *AsyncRecorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting records, flushes the queue, and waits up to timeout
// for the writer to finish.
func (r *AsyncRecorder) Close(timeout time.Duration) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	close(r.done)

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		r.logger.Warn("audit writer shutdown timeout", "queue_remaining", len(r.queue))
	}
}
