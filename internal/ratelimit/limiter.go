// Package ratelimit implements sliding-window admission control per
// (request class, source identity).
package ratelimit

import (
	"math"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
)

// Budget is the number of admissions allowed within a trailing window.
type Budget struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// RetryAfterSeconds is set on denial: seconds until the oldest admission leaves the window.
	RetryAfterSeconds int
}

type windowKey struct {
	class  domain.RequestClass
	source string
}

// Limiter keeps one window of admission timestamps per (class, source).
//
// Limiter is not safe for concurrent use; the orchestrator loop owns it.
type Limiter struct {
	budgets  map[domain.RequestClass]Budget
	fallback Budget
	windows  map[windowKey][]time.Time
}

// NewLimiter creates a limiter. Classes missing from budgets use fallback.
func NewLimiter(budgets map[domain.RequestClass]Budget, fallback Budget) *Limiter {
	b := make(map[domain.RequestClass]Budget, len(budgets))
	for class, budget := range budgets {
		b[class] = budget
	}
	return &Limiter{
		budgets:  b,
		fallback: fallback,
		windows:  make(map[windowKey][]time.Time),
	}
}

// BudgetFor returns the budget applied to class.
func (l *Limiter) BudgetFor(class domain.RequestClass) Budget {
	if b, ok := l.budgets[class]; ok {
		return b
	}
	return l.fallback
}

// CheckAndAdmit prunes the window for (class, source) and admits the request
// if the remaining count is below the class budget.
func (l *Limiter) CheckAndAdmit(class domain.RequestClass, source string, now time.Time) Decision {
	budget := l.BudgetFor(class)
	key := windowKey{class: class, source: source}

	recent := prune(l.windows[key], now.Add(-budget.Window))

	if len(recent) >= budget.Limit {
		l.windows[key] = recent
		wait := 0
		if len(recent) > 0 {
			wait = int(math.Ceil(recent[0].Add(budget.Window).Sub(now).Seconds()))
		}
		if wait < 1 {
			wait = 1
		}
		return Decision{Allowed: false, RetryAfterSeconds: wait}
	}

	l.windows[key] = append(recent, now)
	return Decision{Allowed: true}
}

// Count returns the number of admissions currently inside the window for (class, source).
func (l *Limiter) Count(class domain.RequestClass, source string, now time.Time) int {
	budget := l.BudgetFor(class)
	return len(prune(l.windows[windowKey{class: class, source: source}], now.Add(-budget.Window)))
}

// Sweep drops windows whose entries have all expired and returns how many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	for key, times := range l.windows {
		fresh := prune(times, now.Add(-l.BudgetFor(key.class).Window))
		if len(fresh) == 0 {
			delete(l.windows, key)
			removed++
			continue
		}
		l.windows[key] = fresh
	}
	return removed
}

// Reset forgets every window.
func (l *Limiter) Reset() {
	l.windows = make(map[windowKey][]time.Time)
}

// prune returns the timestamps strictly after cutoff. Timestamps are kept in
// admission order, so the first retained index bounds the rest.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	fresh := make([]time.Time, len(times)-i)
	copy(fresh, times[i:])
	return fresh
}
