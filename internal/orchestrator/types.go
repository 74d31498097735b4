package orchestrator

import (
	"encoding/json"
	"net/http"
)

// InboundContext is the structured editor context a caller may attach.
type InboundContext struct {
	ProblemTitle       string `json:"problemTitle"`
	ProblemDescription string `json:"problemDescription"`
	CurrentCode        string `json:"currentCode"`
	Language           string `json:"language"`
	CursorPosition     int    `json:"cursorPosition"`
	SelectedText       string `json:"selectedText"`
}

// InboundRequest is the wire form of a submitted request.
type InboundRequest struct {
	Type               string          `json:"type"`
	ProblemTitle       string          `json:"problemTitle,omitempty"`
	ProblemDescription string          `json:"problemDescription,omitempty"`
	CurrentCode        string          `json:"currentCode,omitempty"`
	Language           string          `json:"language,omitempty"`
	Context            *InboundContext `json:"context,omitempty"`
	TabID              string          `json:"tabId,omitempty"`
	// RequestID refers to an earlier request whose cached context may be reused.
	RequestID uint64 `json:"requestId,omitempty"`
}

// ErrorCategory classifies a terminal failure for callers.
type ErrorCategory string

// Error categories.
const (
	CategoryValidation          ErrorCategory = "validation"
	CategoryRateLimit           ErrorCategory = "rate_limit"
	CategoryProviderUnavailable ErrorCategory = "provider_unavailable"
	CategoryAuthentication      ErrorCategory = "authentication"
	CategoryProviderError       ErrorCategory = "provider_error"
	CategoryInternal            ErrorCategory = "internal"
)

// HTTPStatus returns the HTTP status code used to report the category.
func (c ErrorCategory) HTTPStatus() int {
	switch c {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryRateLimit:
		return http.StatusTooManyRequests
	case CategoryAuthentication:
		return http.StatusUnauthorized
	case CategoryProviderUnavailable:
		return http.StatusServiceUnavailable
	case CategoryProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Progression summarizes a hint session's engagement.
type Progression struct {
	ConceptsIntroduced []string `json:"conceptsIntroduced"`
	ProgressScore      float64  `json:"progressScore"`
	// SessionDuration is in milliseconds.
	SessionDuration int64 `json:"sessionDuration"`
	CodeEvolution   int   `json:"codeEvolution"`
}

// HintDetails are the hint-only response fields.
type HintDetails struct {
	HintLevel         int         `json:"hintLevel"`
	TotalHints        int         `json:"totalHints"`
	MaxHintLevel      int         `json:"maxHintLevel"`
	MaxReached        bool        `json:"maxReached"`
	Progression       Progression `json:"progression"`
	NextHintAvailable bool        `json:"nextHintAvailable"`
	NextHintType      string      `json:"nextHintType,omitempty"`
}

// Response is a successful result. Exactly one of the content fields is set,
// matching Type.
type Response struct {
	Suggestion   string `json:"suggestion,omitempty"`
	Explanation  string `json:"explanation,omitempty"`
	Optimization string `json:"optimization,omitempty"`
	Hint         string `json:"hint,omitempty"`

	Type         string `json:"type"`
	Provider     string `json:"provider"`
	Filtered     bool   `json:"filtered"`
	FilterReason string `json:"filterReason,omitempty"`
	RequestID    uint64 `json:"requestId"`
	RetryCount   int    `json:"retryCount"`

	*HintDetails
}

// Failure is a terminal error result. Error is always redacted.
type Failure struct {
	Error         string        `json:"error"`
	ErrorCategory ErrorCategory `json:"errorCategory"`
	RetryAfter    int           `json:"retryAfter,omitempty"`
	RequestID     uint64        `json:"requestId"`
}

// Result holds either a Response or a Failure.
type Result struct {
	Response *Response
	Failure  *Failure
}

// OK reports whether the request succeeded.
func (r Result) OK() bool {
	return r.Failure == nil && r.Response != nil
}

// RequestID returns the ID carried by whichever side is set.
func (r Result) RequestID() uint64 {
	if r.Failure != nil {
		return r.Failure.RequestID
	}
	if r.Response != nil {
		return r.Response.RequestID
	}
	return 0
}

// MarshalJSON encodes the set side only.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Failure != nil {
		return json.Marshal(r.Failure)
	}
	return json.Marshal(r.Response)
}

// Stats are cumulative counters and current store sizes.
type Stats struct {
	Processed      uint64 `json:"processed"`
	Succeeded      uint64 `json:"succeeded"`
	Failed         uint64 `json:"failed"`
	Retried        uint64 `json:"retried"`
	Filtered       uint64 `json:"filtered"`
	RateLimited    uint64 `json:"rateLimited"`
	ActiveSessions int    `json:"activeSessions"`
	CachedContexts int    `json:"cachedContexts"`
	QueueDepth     int    `json:"queueDepth"`
}

// HintState is the read view of a hint session returned to callers.
type HintState struct {
	ProblemKey   string      `json:"problemKey"`
	SessionID    string      `json:"sessionId"`
	CurrentLevel int         `json:"currentLevel"`
	MaxHintLevel int         `json:"maxHintLevel"`
	Turns        []HintEntry `json:"turns"`
	Progression  Progression `json:"progression"`
	NextGuidance string      `json:"nextGuidance"`
	MaxReached   bool        `json:"maxReached"`
}

// HintEntry is one committed turn as reported to callers.
type HintEntry struct {
	Level   int    `json:"level"`
	Type    string `json:"type"`
	Content string `json:"content"`
}
