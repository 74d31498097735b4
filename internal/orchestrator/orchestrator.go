// Package orchestrator admits, enriches, dispatches, and retries tutoring
// requests. A single goroutine owns the rate limiter, context cache, and hint
// session store and processes one request at a time, retries included.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ashureev/codetutor/internal/contextcache"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/hint"
	"github.com/ashureev/codetutor/internal/provider"
	"github.com/ashureev/codetutor/internal/ratelimit"
	"github.com/ashureev/codetutor/internal/retry"
	"github.com/ashureev/codetutor/internal/sanitize"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrClosed is returned when work is submitted after Close.
	ErrClosed = errors.New("orchestrator closed")
	// ErrInternal is returned when a job panicked.
	ErrInternal = errors.New("internal orchestrator error")
)

const auditTimeout = 2 * time.Second

// AuditSink receives terminal outcomes and committed hint turns.
// Failures are logged and never reach the caller.
type AuditSink interface {
	RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error
	RecordHintTurn(ctx context.Context, rec domain.HintTurnRecord) error
}

// Config is the complete set of orchestrator options.
type Config struct {
	Hint             hint.StoreConfig
	Retry            retry.Config
	RateBudgets      map[domain.RequestClass]ratelimit.Budget
	DefaultBudget    ratelimit.Budget
	ContextCacheSize int
	ContextCacheTTL  time.Duration
	Limits           Limits
	QueueSize        int
	// SweepInterval of zero disables periodic purging of expired state.
	SweepInterval time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Hint:  hint.DefaultStoreConfig(),
		Retry: retry.DefaultConfig(),
		RateBudgets: map[domain.RequestClass]ratelimit.Budget{
			domain.ClassCompletion:   {Limit: 10, Window: time.Minute},
			domain.ClassExplanation:  {Limit: 5, Window: time.Minute},
			domain.ClassOptimization: {Limit: 5, Window: time.Minute},
			domain.ClassHint:         {Limit: 15, Window: time.Minute},
		},
		DefaultBudget:    ratelimit.Budget{Limit: 20, Window: time.Minute},
		ContextCacheSize: contextcache.DefaultCapacity,
		ContextCacheTTL:  30 * time.Minute,
		Limits:           DefaultLimits(),
		QueueSize:        64,
		SweepInterval:    time.Minute,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for timestamps, retry timers, and sweeps.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithAudit records outcomes and hint turns to sink.
func WithAudit(sink AuditSink) Option {
	return func(o *Orchestrator) { o.audit = sink }
}

// WithJitter overrides the retry jitter source.
func WithJitter(j retry.JitterFunc) Option {
	return func(o *Orchestrator) { o.jitter = j }
}

// WithRedactor sets the redactor applied to error text.
func WithRedactor(r *sanitize.Redactor) Option {
	return func(o *Orchestrator) { o.redactor = r }
}

type job struct {
	run   func()
	abort func(recovered any)
}

// Orchestrator is the request coordinator. All state below the channel
// fields is touched only by the run goroutine.
type Orchestrator struct {
	jobs     chan job
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	cfg       Config
	provider  provider.Completer
	clock     clockwork.Clock
	logger    *slog.Logger
	audit     AuditSink
	jitter    retry.JitterFunc
	redactor  *sanitize.Redactor
	gateway   *gateway
	limiter   *ratelimit.Limiter
	cache     *contextcache.Cache
	hints     *hint.Store
	validator *hint.Validator
	scheduler *retry.Scheduler

	nextID   uint64
	inflight *domain.Request
	stats    Stats
}

// New creates an orchestrator dispatching to p and starts its loop.
func New(cfg Config, p provider.Completer, opts ...Option) *Orchestrator {
	if p == nil {
		p = provider.Unconfigured{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	o := &Orchestrator{
		jobs:     make(chan job, cfg.QueueSize),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		cfg:      cfg,
		provider: p,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.redactor == nil {
		o.redactor = sanitize.NewRedactor()
	}

	o.gateway = newGateway(cfg.Limits)
	o.limiter = ratelimit.NewLimiter(cfg.RateBudgets, cfg.DefaultBudget)
	o.cache = contextcache.New(cfg.ContextCacheSize, cfg.ContextCacheTTL)
	o.hints = hint.NewStore(cfg.Hint, o.logger)
	o.validator = hint.NewValidator(nil)
	o.scheduler = retry.NewScheduler(cfg.Retry, o.clock, o.jitter)

	go o.run()
	return o
}

// Close stops the loop after the current job and releases resources.
func (o *Orchestrator) Close() {
	o.stopOnce.Do(func() {
		close(o.quit)
		<-o.stopped
		o.cache.Close()
	})
}

func (o *Orchestrator) run() {
	defer close(o.stopped)

	var tick <-chan time.Time
	if o.cfg.SweepInterval > 0 {
		ticker := o.clock.NewTicker(o.cfg.SweepInterval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		select {
		case <-o.quit:
			return
		case j := <-o.jobs:
			o.execute(j)
		case <-tick:
			o.execute(job{run: o.sweep})
		}
	}
}

func (o *Orchestrator) execute(j job) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("recovered panic in orchestrator job", "panic", r, "stack", string(debug.Stack()))
			if j.abort != nil {
				j.abort(r)
			}
			o.inflight = nil
		}
	}()
	j.run()
	o.inflight = nil
}

// call runs fn on the loop and waits for it to finish.
func (o *Orchestrator) call(ctx context.Context, fn func(), abort func(any)) error {
	errc := make(chan error, 1)
	j := job{
		run: func() {
			fn()
			errc <- nil
		},
		abort: func(r any) {
			if abort != nil {
				abort(r)
			}
			errc <- fmt.Errorf("%w: %v", ErrInternal, r)
		},
	}

	select {
	case <-o.quit:
		return ErrClosed
	default:
	}

	select {
	case o.jobs <- j:
	case <-o.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		select {
		case err := <-errc:
			return err
		default:
			return ErrClosed
		}
	}
}

// Submit queues in and waits for its terminal result. The returned error is
// non-nil only when the request could not be processed at all.
func (o *Orchestrator) Submit(ctx context.Context, in InboundRequest) (Result, error) {
	var (
		res Result
		id  = in.RequestID
	)
	err := o.call(ctx, func() {
		res = o.process(ctx, in)
	}, func(any) {
		o.stats.Failed++
		if o.inflight != nil {
			id = o.inflight.ID
		}
	})
	if errors.Is(err, ErrInternal) {
		return failure(CategoryInternal, "internal error while processing request", 0, id), nil
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// HintContext returns the hint session for (source, problemTitle).
func (o *Orchestrator) HintContext(ctx context.Context, source, problemTitle string) (HintState, bool, error) {
	key := hint.ProblemKey(problemTitle)
	if key == "" {
		return HintState{}, false, nil
	}
	source = normalizeSource(source)

	var (
		state HintState
		found bool
	)
	err := o.call(ctx, func() {
		sc, ok := o.hints.Context(source, key, o.clock.Now())
		if !ok {
			return
		}
		found = true
		state = HintState{
			ProblemKey:   key,
			SessionID:    sc.SessionID,
			CurrentLevel: sc.CurrentLevel,
			MaxHintLevel: o.hints.MaxLevel(),
			Turns:        make([]HintEntry, 0, len(sc.Turns)),
			Progression: Progression{
				ConceptsIntroduced: sc.Concepts,
				ProgressScore:      sc.ProgressScore,
				SessionDuration:    sc.SessionDuration.Milliseconds(),
				CodeEvolution:      sc.CodeEvolution,
			},
			NextGuidance: sc.NextGuidance,
			MaxReached:   sc.CurrentLevel >= o.hints.MaxLevel(),
		}
		for _, t := range sc.Turns {
			state.Turns = append(state.Turns, HintEntry{Level: t.Level, Type: hint.HintType(t.Level), Content: t.Content})
		}
	}, nil)
	return state, found, err
}

// ResetHint deletes the hint session for (source, problemTitle).
func (o *Orchestrator) ResetHint(ctx context.Context, source, problemTitle string) error {
	key := hint.ProblemKey(problemTitle)
	if key == "" {
		return nil
	}
	source = normalizeSource(source)
	return o.call(ctx, func() {
		o.hints.Reset(source, key)
		o.logger.Info("hint session reset", "source", source, "problem", key)
	}, nil)
}

// Wipe clears rate windows, cached contexts, and hint sessions. It runs as a
// job, so it never overlaps a request in flight.
func (o *Orchestrator) Wipe(ctx context.Context) error {
	return o.call(ctx, func() {
		o.limiter.Reset()
		o.cache.Clear()
		o.hints.Clear()
		o.logger.Info("orchestrator state wiped")
	}, nil)
}

// Stats returns a snapshot of counters and store sizes.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := o.call(ctx, func() {
		s = o.stats
		s.ActiveSessions = o.hints.Count()
		s.CachedContexts = o.cache.Len()
		s.QueueDepth = len(o.jobs)
	}, nil)
	return s, err
}

func (o *Orchestrator) sweep() {
	now := o.clock.Now()
	sessions := o.hints.Sweep(now)
	windows := o.limiter.Sweep(now)
	if sessions > 0 || windows > 0 {
		o.logger.Debug("swept expired state", "sessions", sessions, "rate_windows", windows)
	}
}

func (o *Orchestrator) process(ctx context.Context, in InboundRequest) Result {
	o.stats.Processed++
	source := normalizeSource(in.TabID)

	class, payload, ref, verr := o.gateway.validate(in, o.cache.Get)
	if verr != nil {
		o.stats.Failed++
		o.logger.Info("request rejected", "source", source, "reason", verr.Reason)
		return failure(CategoryValidation, o.redactor.Redact(verr.Error()), 0, in.RequestID)
	}

	o.nextID++
	req := &domain.Request{
		ID:             o.nextID,
		Class:          class,
		SourceIdentity: source,
		Payload:        payload,
		SubmittedAt:    o.clock.Now(),
		ContextRef:     ref,
	}
	o.inflight = req
	log := o.logger.With("request_id", req.ID, "class", class.String(), "source", source)

	if d := o.limiter.CheckAndAdmit(class, source, req.SubmittedAt); !d.Allowed {
		o.stats.RateLimited++
		log.Info("rate limited", "retry_after", d.RetryAfterSeconds)
		msg := fmt.Sprintf("rate limit exceeded for %s requests", class)
		return o.finish(req, failure(CategoryRateLimit, msg, d.RetryAfterSeconds, req.ID))
	}

	o.cache.Put(req.ID, req.Snapshot())
	if ref != 0 {
		log.Debug("reused cached context", "context_ref", ref)
	}

	var res Result
	switch class {
	case domain.ClassHint:
		res = o.processHint(ctx, req, log)
	case domain.ClassCompletion, domain.ClassExplanation, domain.ClassOptimization:
		res = o.processCompletion(ctx, req, log)
	default:
		res = failure(CategoryInternal, "unhandled request class", 0, req.ID)
	}
	return o.finish(req, res)
}

func (o *Orchestrator) processCompletion(ctx context.Context, req *domain.Request, log *slog.Logger) Result {
	prompt, err := buildPrompt(req.Class, promptData{Payload: req.Payload})
	if err != nil {
		log.Error("failed to build prompt", "error", err)
		return failure(CategoryInternal, "failed to build prompt", 0, req.ID)
	}

	completion, err := o.dispatch(ctx, req, prompt, log)
	if err != nil {
		return o.providerFailure(req, err, log)
	}

	resp := &Response{
		Type:       req.Class.String(),
		Provider:   o.provider.Name(),
		RequestID:  req.ID,
		RetryCount: req.RetryCount,
	}
	switch req.Class {
	case domain.ClassCompletion:
		resp.Suggestion = completion.Content
	case domain.ClassExplanation:
		resp.Explanation = completion.Content
	case domain.ClassOptimization:
		resp.Optimization = completion.Content
	case domain.ClassHint:
		resp.Hint = completion.Content
	}
	return Result{Response: resp}
}

func (o *Orchestrator) processHint(ctx context.Context, req *domain.Request, log *slog.Logger) Result {
	source := req.SourceIdentity
	key := hint.ProblemKey(req.Payload.ProblemTitle)
	maxLevel := o.hints.MaxLevel()

	if sess, ok := o.hints.Session(source, key, req.SubmittedAt); ok && sess.Exhausted(maxLevel) {
		log.Debug("hint session exhausted, replaying final hint", "problem", key)
		return o.hintResult(req, sess, sess.LastTurn().Content, "", req.SubmittedAt)
	}

	level := o.hints.NextLevel(source, key, req.SubmittedAt)
	data := promptData{Payload: req.Payload, Level: level, MaxLevel: maxLevel}
	if sc, ok := o.hints.Context(source, key, req.SubmittedAt); ok {
		data.PriorTurns = sc.Turns
		data.Concepts = sc.Concepts
	}

	prompt, err := buildPrompt(domain.ClassHint, data)
	if err != nil {
		log.Error("failed to build prompt", "error", err)
		return failure(CategoryInternal, "failed to build prompt", 0, req.ID)
	}

	completion, err := o.dispatch(ctx, req, prompt, log)
	if err != nil {
		return o.providerFailure(req, err, log)
	}

	content, reason := completion.Content, ""
	if verdict := o.validator.Validate(content, level, data.PriorTurns); !verdict.Valid {
		log.Info("hint replaced by fallback", "level", level, "reason", verdict.Reason)
		content, reason = hint.Fallback(level), verdict.Reason
	}

	now := o.clock.Now()
	sess, err := o.hints.CommitTurn(source, key, level, content, req.Snapshot(), now)
	if err != nil {
		log.Error("failed to commit hint turn", "level", level, "error", err)
		return failure(CategoryInternal, "failed to record hint", 0, req.ID)
	}

	o.recordHintTurn(domain.HintTurnRecord{
		SessionID:      sess.ID,
		RequestID:      req.ID,
		SourceIdentity: source,
		ProblemKey:     key,
		Level:          level,
		Content:        content,
		Filtered:       reason != "",
		FilterReason:   reason,
		ProgressScore:  sess.ProgressScore,
		CommittedAt:    now,
	})

	return o.hintResult(req, sess, content, reason, now)
}

func (o *Orchestrator) hintResult(req *domain.Request, sess *domain.HintSession, content, reason string, now time.Time) Result {
	maxLevel := o.hints.MaxLevel()
	level := sess.CurrentLevel
	details := &HintDetails{
		HintLevel:    level,
		TotalHints:   len(sess.Turns),
		MaxHintLevel: maxLevel,
		MaxReached:   level >= maxLevel,
		Progression: Progression{
			ConceptsIntroduced: sess.ConceptList(),
			ProgressScore:      sess.ProgressScore,
			SessionDuration:    now.Sub(sess.CreatedAt).Milliseconds(),
			CodeEvolution:      len(sess.CodeSnapshots),
		},
	}
	if !details.MaxReached {
		details.NextHintAvailable = true
		details.NextHintType = hint.HintType(level + 1)
	}

	return Result{Response: &Response{
		Hint:         content,
		Type:         domain.ClassHint.String(),
		Provider:     o.provider.Name(),
		Filtered:     reason != "",
		FilterReason: reason,
		RequestID:    req.ID,
		RetryCount:   req.RetryCount,
		HintDetails:  details,
	}}
}

// dispatch calls the provider, retrying retryable failures inline.
func (o *Orchestrator) dispatch(ctx context.Context, req *domain.Request, prompt string, log *slog.Logger) (provider.Completion, error) {
	var completion provider.Completion
	retries, err := o.scheduler.Do(ctx, func(ctx context.Context) error {
		c, err := o.provider.Complete(ctx, prompt, req.Class)
		if err != nil {
			return err
		}
		completion = c
		return nil
	}, func(n int, err error, delay time.Duration) {
		o.stats.Retried++
		log.Warn("provider call failed, retrying",
			"attempt", n, "delay", delay, "error", o.redactor.Redact(err.Error()))
	})
	req.RetryCount = retries
	return completion, err
}

func (o *Orchestrator) providerFailure(req *domain.Request, err error, log *slog.Logger) Result {
	msg := o.redactor.Redact(err.Error())

	var (
		authErr *provider.AuthError
		rateErr *provider.RateLimitError
	)
	switch {
	case errors.As(err, &authErr):
		log.Warn("provider rejected credentials", "error", msg)
		return failure(CategoryAuthentication, msg+"; check the provider credential", 0, req.ID)
	case retry.Classify(err) == retry.Retryable:
		log.Warn("provider unavailable after retries", "retries", req.RetryCount, "error", msg)
		retryAfter := 0
		if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
			retryAfter = int(math.Ceil(rateErr.RetryAfter.Seconds()))
		}
		return failure(CategoryProviderUnavailable, msg, retryAfter, req.ID)
	default:
		log.Error("provider call failed", "retries", req.RetryCount, "error", msg)
		return failure(CategoryProviderError, msg, 0, req.ID)
	}
}

// finish updates counters and writes the outcome audit record.
func (o *Orchestrator) finish(req *domain.Request, res Result) Result {
	rec := domain.OutcomeRecord{
		RequestID:      req.ID,
		Class:          req.Class.String(),
		SourceIdentity: req.SourceIdentity,
		Succeeded:      res.OK(),
		RetryCount:     req.RetryCount,
		FinishedAt:     o.clock.Now(),
	}
	if res.OK() {
		o.stats.Succeeded++
		if res.Response.Filtered {
			o.stats.Filtered++
			rec.Filtered = true
		}
	} else {
		o.stats.Failed++
		rec.ErrorCategory = string(res.Failure.ErrorCategory)
	}

	if o.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := o.audit.RecordOutcome(ctx, rec); err != nil {
			o.logger.Warn("failed to record request outcome", "request_id", req.ID, "error", err)
		}
	}
	return res
}

func (o *Orchestrator) recordHintTurn(rec domain.HintTurnRecord) {
	if o.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := o.audit.RecordHintTurn(ctx, rec); err != nil {
		o.logger.Warn("failed to record hint turn", "request_id", rec.RequestID, "error", err)
	}
}

func failure(category ErrorCategory, msg string, retryAfter int, requestID uint64) Result {
	return Result{Failure: &Failure{
		Error:         msg,
		ErrorCategory: category,
		RetryAfter:    retryAfter,
		RequestID:     requestID,
	}}
}
