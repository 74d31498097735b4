package ratelimit

import (
	"testing"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestLimiter_DeniesThirdCompletionWithinWindow(t *testing.T) {
	t.Parallel()

	l := NewLimiter(map[domain.RequestClass]Budget{
		domain.ClassCompletion: {Limit: 2, Window: time.Minute},
	}, Budget{Limit: 20, Window: time.Minute})

	if d := l.CheckAndAdmit(domain.ClassCompletion, "tab-1", t0); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d := l.CheckAndAdmit(domain.ClassCompletion, "tab-1", t0.Add(2*time.Second)); !d.Allowed {
		t.Fatal("second request should be allowed")
	}
	d := l.CheckAndAdmit(domain.ClassCompletion, "tab-1", t0.Add(5*time.Second))
	if d.Allowed {
		t.Fatal("third request should be denied")
	}
	if d.RetryAfterSeconds != 55 {
		t.Errorf("RetryAfterSeconds = %d, want 55", d.RetryAfterSeconds)
	}
}

func TestLimiter_RetryAfterRoundsUp(t *testing.T) {
	t.Parallel()

	l := NewLimiter(map[domain.RequestClass]Budget{
		domain.ClassHint: {Limit: 1, Window: time.Minute},
	}, Budget{Limit: 20, Window: time.Minute})

	l.CheckAndAdmit(domain.ClassHint, "tab-1", t0)
	d := l.CheckAndAdmit(domain.ClassHint, "tab-1", t0.Add(1500*time.Millisecond))
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if d.RetryAfterSeconds != 59 {
		t.Errorf("RetryAfterSeconds = %d, want 59", d.RetryAfterSeconds)
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	l := NewLimiter(map[domain.RequestClass]Budget{
		domain.ClassExplanation: {Limit: 1, Window: time.Minute},
	}, Budget{Limit: 20, Window: time.Minute})

	l.CheckAndAdmit(domain.ClassExplanation, "tab-1", t0)
	if d := l.CheckAndAdmit(domain.ClassExplanation, "tab-1", t0.Add(59*time.Second)); d.Allowed {
		t.Fatal("expected denial inside the window")
	}
	if d := l.CheckAndAdmit(domain.ClassExplanation, "tab-1", t0.Add(61*time.Second)); !d.Allowed {
		t.Fatal("expected admission once the oldest entry left the window")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := NewLimiter(map[domain.RequestClass]Budget{
		domain.ClassCompletion: {Limit: 1, Window: time.Minute},
		domain.ClassHint:       {Limit: 1, Window: time.Minute},
	}, Budget{Limit: 20, Window: time.Minute})

	l.CheckAndAdmit(domain.ClassCompletion, "tab-1", t0)
	if d := l.CheckAndAdmit(domain.ClassCompletion, "tab-2", t0); !d.Allowed {
		t.Error("another source should have its own window")
	}
	if d := l.CheckAndAdmit(domain.ClassHint, "tab-1", t0); !d.Allowed {
		t.Error("another class should have its own window")
	}
}

func TestLimiter_FallbackBudget(t *testing.T) {
	t.Parallel()

	l := NewLimiter(nil, Budget{Limit: 3, Window: time.Minute})
	if got := l.BudgetFor(domain.ClassOptimization); got.Limit != 3 {
		t.Fatalf("BudgetFor = %+v, want fallback", got)
	}
	for i := 0; i < 3; i++ {
		if d := l.CheckAndAdmit(domain.ClassOptimization, "tab", t0); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if d := l.CheckAndAdmit(domain.ClassOptimization, "tab", t0); d.Allowed {
		t.Fatal("fourth request should be denied by the fallback budget")
	}
}

func TestLimiter_AdmissionsNeverExceedBudgetInAnyWindow(t *testing.T) {
	t.Parallel()

	const limit = 4
	window := 10 * time.Second
	l := NewLimiter(map[domain.RequestClass]Budget{
		domain.ClassCompletion: {Limit: limit, Window: window},
	}, Budget{Limit: 20, Window: time.Minute})

	var admitted []time.Time
	now := t0
	for i := 0; i < 200; i++ {
		now = now.Add(time.Duration(300+(i*137)%1700) * time.Millisecond)
		if l.CheckAndAdmit(domain.ClassCompletion, "tab", now).Allowed {
			admitted = append(admitted, now)
		}
	}

	for i := range admitted {
		count := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < window; j++ {
			count++
		}
		if count > limit {
			t.Fatalf("%d admissions within %s starting at %s", count, window, admitted[i])
		}
	}
}

func TestLimiter_SweepAndReset(t *testing.T) {
	t.Parallel()

	l := NewLimiter(nil, Budget{Limit: 5, Window: time.Minute})
	l.CheckAndAdmit(domain.ClassCompletion, "a", t0)
	l.CheckAndAdmit(domain.ClassCompletion, "b", t0.Add(30*time.Second))

	if removed := l.Sweep(t0.Add(70 * time.Second)); removed != 1 {
		t.Errorf("Sweep removed %d windows, want 1", removed)
	}
	if got := l.Count(domain.ClassCompletion, "b", t0.Add(70*time.Second)); got != 1 {
		t.Errorf("Count(b) = %d, want 1", got)
	}

	l.Reset()
	if got := l.Count(domain.ClassCompletion, "b", t0.Add(70*time.Second)); got != 0 {
		t.Errorf("Count after Reset = %d, want 0", got)
	}
}
