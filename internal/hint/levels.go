package hint

import (
	"regexp"
	"strings"
)

// levelTypes names the kind of guidance each hint level gives.
var levelTypes = []string{
	"conceptual",
	"approach",
	"structure",
	"implementation",
}

// levelGuidance describes what the next hint at a level should focus on.
var levelGuidance = []string{
	"Point toward the key insight without naming an algorithm.",
	"Suggest an overall approach and the data structures worth considering.",
	"Outline the structure of the algorithm step by step without writing code.",
	"Call out implementation details and edge cases while leaving the code to the learner.",
}

// fallbacks are pre-approved hints substituted when generated content fails validation.
// Each one meets the length floor of its level.
var fallbacks = []string{
	"Re-read the problem statement and identify exactly what the input and the expected output are. What is the simplest example you can solve by hand?",
	"Think about which information you would need to remember as you walk through the input once. Is there a data structure that lets you look that information up quickly?",
	"Try writing the steps of your approach as plain-language pseudocode first: how you initialize your state, what you do for each element, and what you return once every element has been processed.",
	"Check the edge cases against your approach: an empty input, a single element, duplicate values, and the largest allowed input size. Make sure each step of your plan handles them and that the overall running time fits the constraints.",
}

// HintType returns the name of the guidance given at level. Levels beyond the
// named range reuse the last name.
func HintType(level int) string {
	return levelTypes[clampIndex(level, len(levelTypes))]
}

// NextGuidance returns the focus for a hint at level.
func NextGuidance(level int) string {
	return levelGuidance[clampIndex(level, len(levelGuidance))]
}

// Fallback returns the deterministic fallback hint for level.
func Fallback(level int) string {
	return fallbacks[clampIndex(level, len(fallbacks))]
}

func clampIndex(level, n int) int {
	switch {
	case level < 1:
		return 0
	case level > n:
		return n - 1
	default:
		return level - 1
	}
}

var reNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// ProblemKey normalizes a problem title into a session key.
func ProblemKey(title string) string {
	return strings.Trim(reNonAlnum.ReplaceAllString(strings.ToLower(title), "-"), "-")
}
