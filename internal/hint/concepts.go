package hint

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/codetutor/internal/domain"
)

// conceptVocabulary maps a canonical concept name to the phrases that introduce it.
var conceptVocabulary = map[string][]string{
	"recursion":           {"recursion", "recursive", "base case"},
	"two pointers":        {"two pointers", "two-pointer", "left and right pointer"},
	"dynamic programming": {"dynamic programming", "dp table", "subproblem"},
	"memoization":         {"memoization", "memoize", "cache the result"},
	"binary search":       {"binary search", "halve the search"},
	"hash map":            {"hash map", "hashmap", "dictionary", "hash table"},
	"sliding window":      {"sliding window"},
	"greedy":              {"greedy"},
	"backtracking":        {"backtracking", "backtrack"},
	"breadth-first search": {
		"breadth-first", "breadth first", "bfs",
	},
	"depth-first search": {"depth-first", "depth first", "dfs"},
	"sorting":            {"sorting", "sort the"},
	"stack":              {"stack"},
	"queue":              {"queue"},
	"heap":               {"heap", "priority queue"},
	"linked list":        {"linked list"},
	"tree":               {"binary tree", "tree traversal", "subtree"},
	"graph":              {"graph", "adjacency"},
	"prefix sum":         {"prefix sum", "cumulative sum"},
	"bit manipulation":   {"bit manipulation", "bitwise", "xor"},
}

// ExtractConcepts returns the canonical concepts mentioned in content, sorted.
func ExtractConcepts(content string) []string {
	lower := strings.ToLower(content)
	var found []string
	for concept, phrases := range conceptVocabulary {
		for _, p := range phrases {
			if containsWord(lower, p) {
				found = append(found, concept)
				break
			}
		}
	}
	sort.Strings(found)
	return found
}

// containsWord reports whether phrase appears in s on word boundaries.
func containsWord(s, phrase string) bool {
	for start := 0; ; {
		i := strings.Index(s[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		if boundary(s, i-1) && boundary(s, end) {
			return true
		}
		start = i + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_')
}

var (
	reFunction    = regexp.MustCompile(`(?i)\b(function|def|func|fn|lambda)\b|=>`)
	reLoop        = regexp.MustCompile(`(?i)\b(for|while|loop|iterate|iteration)\b`)
	reConditional = regexp.MustCompile(`(?i)\b(if|else|switch|case|when|condition)\b`)
)

// ComputeStats derives the structural heuristics recorded with each turn.
func ComputeStats(content string) domain.ContentStats {
	return domain.ContentStats{
		Length:         utf8.RuneCountInString(content),
		HasFunction:    reFunction.MatchString(content),
		HasLoop:        reLoop.MatchString(content),
		HasConditional: reConditional.MatchString(content),
	}
}
