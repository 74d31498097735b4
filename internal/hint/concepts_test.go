package hint

import (
	"reflect"
	"testing"
)

func TestExtractConcepts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"none", "Read the problem carefully.", nil},
		{"synonyms collapse", "Use a Hash Table, or any dictionary.", []string{"hash map"}},
		{"sorted output", "A sliding window beats recursion here.", []string{"recursion", "sliding window"}},
		{"word boundary", "The stacked items are not a concept.", nil},
		{"bfs abbreviation", "Try BFS from the source.", []string{"breadth-first search"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractConcepts(tt.content)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractConcepts = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeStats(t *testing.T) {
	t.Parallel()

	got := ComputeStats("for each item, if it matches, call a helper function")
	if !got.HasLoop || !got.HasConditional || !got.HasFunction {
		t.Errorf("ComputeStats = %+v, want all heuristics set", got)
	}
	if got.Length != 52 {
		t.Errorf("Length = %d, want 52", got.Length)
	}

	plain := ComputeStats("think harder")
	if plain.HasLoop || plain.HasConditional || plain.HasFunction {
		t.Errorf("ComputeStats = %+v, want none set", plain)
	}
}

func TestProblemKey(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"1. Two Sum":           "1-two-sum",
		"  Longest  Substring!": "longest-substring",
		"":                     "",
	}
	for in, want := range tests {
		if got := ProblemKey(in); got != want {
			t.Errorf("ProblemKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHintType(t *testing.T) {
	t.Parallel()

	if HintType(1) != "conceptual" || HintType(4) != "implementation" || HintType(9) != "implementation" {
		t.Error("unexpected hint type mapping")
	}
}
