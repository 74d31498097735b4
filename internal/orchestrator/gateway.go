package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/hint"
	"github.com/ashureev/codetutor/internal/identity"
)

// DefaultSource is the source identity used when a request carries none.
const DefaultSource = identity.DefaultSource

// DefaultAllowedLanguages is the language allow-list used when none is configured.
var DefaultAllowedLanguages = []string{
	"c", "cpp", "csharp", "go", "java", "javascript", "kotlin", "php",
	"python", "ruby", "rust", "scala", "sql", "swift", "typescript",
}

// ValidationError reports a malformed request. It is terminal.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Limits are the field constraints applied by the gateway.
type Limits struct {
	MaxCodeLength        int
	MaxTitleLength       int
	MaxDescriptionLength int
	AllowedLanguages     []string
}

// DefaultLimits returns the default field constraints.
func DefaultLimits() Limits {
	return Limits{
		MaxCodeLength:        50000,
		MaxTitleLength:       500,
		MaxDescriptionLength: 20000,
		AllowedLanguages:     DefaultAllowedLanguages,
	}
}

// gateway validates inbound requests and resolves their payload.
type gateway struct {
	limits    Limits
	languages map[string]struct{}
}

func newGateway(limits Limits) *gateway {
	def := DefaultLimits()
	if limits.MaxCodeLength <= 0 {
		limits.MaxCodeLength = def.MaxCodeLength
	}
	if limits.MaxTitleLength <= 0 {
		limits.MaxTitleLength = def.MaxTitleLength
	}
	if limits.MaxDescriptionLength <= 0 {
		limits.MaxDescriptionLength = def.MaxDescriptionLength
	}
	if limits.AllowedLanguages == nil {
		limits.AllowedLanguages = def.AllowedLanguages
	}
	langs := make(map[string]struct{}, len(limits.AllowedLanguages))
	for _, l := range limits.AllowedLanguages {
		langs[strings.ToLower(l)] = struct{}{}
	}
	return &gateway{limits: limits, languages: langs}
}

// lookupFunc resolves a cached context by an earlier request ID.
type lookupFunc func(requestID uint64) (domain.ContextSnapshot, bool)

// validate checks shape and constraints and returns the resolved class,
// payload, and the context reference used, if any.
func (g *gateway) validate(in InboundRequest, lookup lookupFunc) (domain.RequestClass, domain.Payload, uint64, *ValidationError) {
	class, ok := domain.ParseRequestClass(in.Type)
	if !ok {
		if in.Type == "" {
			return 0, domain.Payload{}, 0, invalid("missing request type")
		}
		return 0, domain.Payload{}, 0, invalid("unknown request type %q", in.Type)
	}

	var (
		payload domain.Payload
		ref     uint64
	)
	switch {
	case in.Context != nil:
		c := in.Context
		if c.ProblemTitle == "" && c.CurrentCode == "" {
			return 0, domain.Payload{}, 0, invalid("context must include problemTitle or currentCode")
		}
		payload = domain.Payload{
			ProblemTitle:       c.ProblemTitle,
			ProblemDescription: c.ProblemDescription,
			CurrentCode:        c.CurrentCode,
			Language:           c.Language,
			CursorPosition:     c.CursorPosition,
			SelectedText:       c.SelectedText,
		}
	case in.ProblemTitle != "" && in.CurrentCode != "":
		payload = domain.Payload{
			ProblemTitle:       in.ProblemTitle,
			ProblemDescription: in.ProblemDescription,
			CurrentCode:        in.CurrentCode,
			Language:           in.Language,
		}
	default:
		snap, hit := domain.ContextSnapshot{}, false
		if in.RequestID != 0 && lookup != nil {
			snap, hit = lookup(in.RequestID)
		}
		if !hit {
			return 0, domain.Payload{}, 0, invalid("missing context: provide context or problemTitle and currentCode")
		}
		payload = domain.Payload{
			ProblemTitle:       snap.ProblemTitle,
			ProblemDescription: snap.ProblemDescription,
			CurrentCode:        snap.CurrentCode,
			Language:           snap.Language,
		}
		ref = in.RequestID
	}

	payload.Language = strings.ToLower(strings.TrimSpace(payload.Language))
	if err := g.checkPayload(class, payload); err != nil {
		return 0, domain.Payload{}, 0, err
	}
	return class, payload, ref, nil
}

func (g *gateway) checkPayload(class domain.RequestClass, p domain.Payload) *ValidationError {
	if n := utf8.RuneCountInString(p.CurrentCode); n > g.limits.MaxCodeLength {
		return invalid("currentCode exceeds %d characters", g.limits.MaxCodeLength)
	}
	if n := utf8.RuneCountInString(p.SelectedText); n > g.limits.MaxCodeLength {
		return invalid("selectedText exceeds %d characters", g.limits.MaxCodeLength)
	}
	if n := utf8.RuneCountInString(p.ProblemTitle); n > g.limits.MaxTitleLength {
		return invalid("problemTitle exceeds %d characters", g.limits.MaxTitleLength)
	}
	if n := utf8.RuneCountInString(p.ProblemDescription); n > g.limits.MaxDescriptionLength {
		return invalid("problemDescription exceeds %d characters", g.limits.MaxDescriptionLength)
	}
	if p.CursorPosition < 0 {
		return invalid("cursorPosition must not be negative")
	}
	if p.Language != "" && len(g.languages) > 0 {
		if _, ok := g.languages[p.Language]; !ok {
			return invalid("unsupported language %q", p.Language)
		}
	}
	if class == domain.ClassHint && hint.ProblemKey(p.ProblemTitle) == "" {
		return invalid("hint requests require a problemTitle")
	}
	return nil
}

// normalizeSource returns the source identity used to partition state.
// Malformed identifiers collapse to DefaultSource.
func normalizeSource(tabID string) string {
	return identity.SanitizeSource(tabID)
}
