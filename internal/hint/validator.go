package hint

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/codetutor/internal/domain"
)

// Rejection reasons reported by Validator.
const (
	ReasonTooShort        = "too short"
	ReasonSolutionPattern = "solution pattern"
	ReasonRedundant       = "redundant content"
)

// DefaultLevelFloors are the minimum hint lengths, in characters, for levels 1..4.
var DefaultLevelFloors = []int{50, 75, 100, 125}

// redundancyThreshold is the share of significant words that may repeat prior turns.
const redundancyThreshold = 0.5

var solutionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(complete|full|entire|whole)\s+(solution|implementation|answer)\b`),
	regexp.MustCompile(`(?i)\bfinal\s+(answer|solution|code)\b`),
	regexp.MustCompile(`(?i)\bhere\s+is\s+the\s+(solution|answer|code)\b`),
	regexp.MustCompile(`(?is)\bfunction\s*[\w$]*\s*\([^)]*\)\s*\{[^}]*\breturn\b`),
	regexp.MustCompile(`(?is)\bdef\s+\w+\s*\([^)]*\)[^:\n]*:\s*\n(?:[ \t]+[^\n]*\n)*?[ \t]+return\b`),
	regexp.MustCompile(`(?is)\bfunc\s+(\([^)]*\)\s*)?\w+\s*\([^)]*\)[^{]*\{[^}]*\breturn\b`),
	regexp.MustCompile(`(?is)\bclass\s+\w+[^{]*\{.*\breturn\b.*\}`),
	regexp.MustCompile(`(?is)\b(public|private|protected|static)\s+[\w<>\[\], ]+\s+\w+\s*\([^)]*\)\s*\{[^}]*\breturn\b`),
}

// Verdict is the result of validating hint content.
type Verdict struct {
	Valid  bool
	Reason string
}

// Validator gates generated hints before they are committed to a session.
type Validator struct {
	floors []int
}

// NewValidator creates a validator with per-level length floors. Nil floors
// selects DefaultLevelFloors.
func NewValidator(floors []int) *Validator {
	if len(floors) == 0 {
		floors = DefaultLevelFloors
	}
	return &Validator{floors: floors}
}

// Validate checks content against the level's length floor, the solution
// patterns, and prior turns, in that order, and reports the first rejection.
func (v *Validator) Validate(content string, level int, prior []domain.HintTurn) Verdict {
	if utf8.RuneCountInString(strings.TrimSpace(content)) < v.floor(level) {
		return Verdict{Reason: ReasonTooShort}
	}

	for _, re := range solutionPatterns {
		if re.MatchString(content) {
			return Verdict{Reason: ReasonSolutionPattern}
		}
	}

	if len(prior) > 0 && redundancy(content, prior) > redundancyThreshold {
		return Verdict{Reason: ReasonRedundant}
	}

	return Verdict{Valid: true}
}

func (v *Validator) floor(level int) int {
	return v.floors[clampIndex(level, len(v.floors))]
}

// redundancy returns the share of content's significant words found in prior turns.
func redundancy(content string, prior []domain.HintTurn) float64 {
	words := significantWords(content)
	if len(words) == 0 {
		return 0
	}

	var b strings.Builder
	for _, t := range prior {
		b.WriteString(t.Content)
		b.WriteByte(' ')
	}
	seen := significantWords(b.String())

	repeated := 0
	for w := range words {
		if _, ok := seen[w]; ok {
			repeated++
		}
	}
	return float64(repeated) / float64(len(words))
}

// significantWords returns the distinct lower-cased words longer than three characters.
func significantWords(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 3 {
			out[f] = struct{}{}
		}
	}
	return out
}
