// Package domain contains core domain types for the code tutoring gateway.
package domain

import (
	"time"
)

// RequestClass identifies the kind of assistance a caller asks for.
// The set is closed; every switch over it must handle all four classes.
type RequestClass int

// Recognized request classes.
const (
	ClassCompletion RequestClass = iota + 1
	ClassExplanation
	ClassOptimization
	ClassHint
)

// Classes returns every recognized request class in declaration order.
func Classes() []RequestClass {
	return []RequestClass{ClassCompletion, ClassExplanation, ClassOptimization, ClassHint}
}

// ParseRequestClass maps a wire name to a RequestClass.
func ParseRequestClass(name string) (RequestClass, bool) {
	switch name {
	case "completion":
		return ClassCompletion, true
	case "explanation":
		return ClassExplanation, true
	case "optimization":
		return ClassOptimization, true
	case "hint":
		return ClassHint, true
	default:
		return 0, false
	}
}

// String returns the wire name of the class.
func (c RequestClass) String() string {
	switch c {
	case ClassCompletion:
		return "completion"
	case ClassExplanation:
		return "explanation"
	case ClassOptimization:
		return "optimization"
	case ClassHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Valid reports whether c is one of the recognized classes.
func (c RequestClass) Valid() bool {
	return c >= ClassCompletion && c <= ClassHint
}

// Payload is the editor context attached to a request.
type Payload struct {
	ProblemTitle       string
	ProblemDescription string
	CurrentCode        string
	Language           string
	CursorPosition     int
	SelectedText       string
}

// Request is a validated request owned by the orchestrator for its lifetime.
type Request struct {
	ID             uint64
	Class          RequestClass
	SourceIdentity string
	Payload        Payload
	SubmittedAt    time.Time
	RetryCount     int
	// ContextRef points at an earlier request whose cached context was reused.
	ContextRef uint64
}

// Snapshot returns the normalized context snapshot for the request.
func (r *Request) Snapshot() ContextSnapshot {
	return ContextSnapshot{
		ProblemTitle:       r.Payload.ProblemTitle,
		ProblemDescription: r.Payload.ProblemDescription,
		CurrentCode:        r.Payload.CurrentCode,
		Language:           r.Payload.Language,
		CapturedAt:         r.SubmittedAt,
	}
}

// ContextSnapshot is the normalized problem context captured for a request.
type ContextSnapshot struct {
	ProblemTitle       string    `json:"problemTitle"`
	ProblemDescription string    `json:"problemDescription"`
	CurrentCode        string    `json:"currentCode"`
	Language           string    `json:"language"`
	CapturedAt         time.Time `json:"capturedAt"`
}
