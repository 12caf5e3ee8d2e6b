package coverage

import (
	"testing"

	"github.com/yourorg/capgen/pkg/types"
)

func method(params []string, technical []string, uses ...map[string]any) types.APIMethod {
	m := types.APIMethod{Name: "m"}
	for _, p := range params {
		m.Parameters = append(m.Parameters, types.Parameter{Name: p})
	}
	for _, p := range technical {
		m.Parameters = append(m.Parameters, types.Parameter{Name: p, Constraints: &types.Constraint{Technical: true}})
	}
	set := &types.UtteranceSet{}
	for _, u := range uses {
		set.Items = append(set.Items, types.GeneratedUtterance{Utterance: "u", Parameters: u})
	}
	m.Utterances = set
	return m
}

func TestParameterCoverage(t *testing.T) {
	m := method([]string{"a", "b", "c", "d"}, []string{"page"},
		map[string]any{"a": 1, "page": 2},
		map[string]any{"b": 1},
		map[string]any{"a": 1, "c": 3},
	)
	cov, ok := ParameterCoverage(m)
	if !ok || cov != 0.75 {
		t.Fatalf("coverage = %v ok=%v", cov, ok)
	}
}

func TestParameterCoverageUndefined(t *testing.T) {
	if _, ok := ParameterCoverage(method(nil, []string{"page"}, map[string]any{})); ok {
		t.Fatalf("method without user-facing parameters must be skipped")
	}
	m := method([]string{"a"}, nil)
	m.Utterances = types.FailedSet()
	if _, ok := ParameterCoverage(m); ok {
		t.Fatalf("failed set must be skipped")
	}
	if _, ok := CombinationCoverage(m); ok {
		t.Fatalf("failed set must be skipped")
	}
}

func TestCombinationCoverage(t *testing.T) {
	m := method([]string{"a", "b", "c"}, []string{"page"},
		map[string]any{"a": 1, "b": 2},
		map[string]any{"b": 2, "a": 1, "page": 3},
		map[string]any{"c": 1},
		map[string]any{"page": 1},
	)
	n, ok := CombinationCoverage(m)
	if !ok || n != 2 {
		t.Fatalf("combinations = %d ok=%v", n, ok)
	}
}

func TestToolSummary(t *testing.T) {
	tool := &types.ToolSpec{Methods: []types.APIMethod{
		method([]string{"a", "b"}, nil, map[string]any{"a": 1}),
		method([]string{"x"}, nil, map[string]any{"x": 1}),
		{Name: "failed", Utterances: types.FailedSet()},
	}}
	s := Tool(tool)
	if s.ParameterMethods != 2 || s.ParameterCoverage != 0.75 || s.Combinations != 2 || s.Methods != 2 {
		t.Fatalf("summary = %+v", s)
	}
	var total Summary
	total.Merge(s)
	total.Merge(Summary{ParameterMethods: 2, ParameterCoverage: 0.25, Methods: 2, Combinations: 1})
	if total.ParameterCoverage != 0.5 || total.Combinations != 3 {
		t.Fatalf("merged = %+v", total)
	}
}
