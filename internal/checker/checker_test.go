package checker

import (
	"encoding/json"
	"testing"

	"github.com/yourorg/capgen/pkg/types"
)

func ptr(f float64) *float64 { return &f }

func ruleParam(name, text string) types.Parameter {
	return types.Parameter{Name: name, Constraints: &types.Constraint{InterDependency: types.NewInterDependency(text)}}
}

func utterances(maps ...map[string]any) *types.UtteranceSet {
	set := &types.UtteranceSet{}
	for _, m := range maps {
		set.Items = append(set.Items, types.GeneratedUtterance{Utterance: "u", Parameters: m})
	}
	return set
}

func TestAllOrNone(t *testing.T) {
	m := types.APIMethod{Name: "m", Parameters: []types.Parameter{
		ruleParam("a", "a, b: all or none"),
		ruleParam("b", "a, b: all or none"),
	}}
	c := New()
	cases := []struct {
		params map[string]any
		want   int
	}{
		{map[string]any{"a": 1}, 1},
		{map[string]any{"a": 1, "b": 2}, 0},
		{map[string]any{}, 0},
	}
	for _, tc := range cases {
		rep := c.CheckMethod(m, utterances(tc.params))
		if rep.InterDependency != tc.want {
			t.Fatalf("params %v: got %d violations, want %d", tc.params, rep.InterDependency, tc.want)
		}
	}
}

func TestOnlyOne(t *testing.T) {
	m := types.APIMethod{Name: "venues", Parameters: []types.Parameter{
		ruleParam("q", `OnlyOne: [["q"], ["name", "name_equals"]]`),
		{Name: "name"},
		{Name: "name_equals"},
	}}
	c := New()
	if rep := c.CheckMethod(m, utterances(map[string]any{"q": "pizza"})); rep.InterDependency != 0 {
		t.Fatalf("only q: got %d", rep.InterDependency)
	}
	if rep := c.CheckMethod(m, utterances(map[string]any{"q": "pizza", "name": "Luigi"})); rep.InterDependency != 1 {
		t.Fatalf("q and name: got %d", rep.InterDependency)
	}
	if rep := c.CheckMethod(m, utterances(map[string]any{})); rep.InterDependency != 1 {
		t.Fatalf("neither: got %d", rep.InterDependency)
	}
}

func TestValueBounds(t *testing.T) {
	m := types.APIMethod{Name: "flights", Parameters: []types.Parameter{
		{Name: "adults", Constraints: &types.Constraint{Values: &types.Values{Min: ptr(1), Max: ptr(9)}}},
	}}
	c := New()
	if rep := c.CheckMethod(m, utterances(map[string]any{"adults": json.Number("10")})); rep.Value != 1 {
		t.Fatalf("adults=10: got %d", rep.Value)
	}
	if rep := c.CheckMethod(m, utterances(map[string]any{"adults": json.Number("5")})); rep.Value != 0 {
		t.Fatalf("adults=5: got %d", rep.Value)
	}
	if rep := c.CheckMethod(m, utterances(map[string]any{"adults": "a few"})); rep.Value != 0 {
		t.Fatalf("non-numeric value must not be checked: got %d", rep.Value)
	}
}

func TestEnumeratedAndFormat(t *testing.T) {
	m := types.APIMethod{Name: "flights", Parameters: []types.Parameter{
		{Name: "travelClass", Constraints: &types.Constraint{Values: &types.Values{Enumerated: []any{"ECONOMY", "BUSINESS"}}}},
		{Name: "departureDate", Constraints: &types.Constraint{Format: "ISO 8601 date"}},
		{Name: "when", Constraints: &types.Constraint{Format: "date"}},
		{Name: "origin", Constraints: &types.Constraint{Format: "IATA code"}},
	}}
	rep := New().CheckMethod(m, utterances(
		map[string]any{"travelClass": "FIRST", "when": "tomorrow", "origin": "BOS"},
		map[string]any{"travelClass": "economy,business", "when": "2024-05-01"},
	))
	if rep.Value != 1 {
		t.Fatalf("value violations = %d", rep.Value)
	}
	if rep.Format != 1 {
		t.Fatalf("format violations = %d", rep.Format)
	}
	if rep.Unverifiable != 1 {
		t.Fatalf("unknown format should be unverifiable, got %d", rep.Unverifiable)
	}
	if len(rep.Violations) != 2 || rep.Violations[0].Param != "travelClass" {
		t.Fatalf("violations = %+v", rep.Violations)
	}
}

func TestFormatNamesWithProse(t *testing.T) {
	m := types.APIMethod{Name: "hotels", Parameters: []types.Parameter{
		{Name: "checkin", Constraints: &types.Constraint{Format: "ISO 8601 YYYY-MM-DD format"}},
		{Name: "countries", Constraints: &types.Constraint{Format: "comma-separated list of ISO 3166 country codes"}},
		{Name: "cand", Constraints: &types.Constraint{Format: "candidate slug"}},
	}}
	c := New()
	rep := c.CheckMethod(m, utterances(map[string]any{"checkin": "2024-05-01", "countries": "US,GB", "cand": "jane-doe"}))
	if rep.Format != 0 {
		t.Fatalf("valid values flagged: %+v", rep.Violations)
	}
	if rep.Unverifiable != 1 {
		t.Fatalf("candidate slug should be unverifiable, got %d", rep.Unverifiable)
	}
	rep = c.CheckMethod(m, utterances(map[string]any{"checkin": "01/05/2024", "countries": "US,XX1"}))
	if rep.Format != 2 {
		t.Fatalf("format violations = %d, want 2", rep.Format)
	}
}

func TestRequiresAndAtLeastOne(t *testing.T) {
	m := types.APIMethod{Name: "m", Parameters: []types.Parameter{
		ruleParam("returnDate", "RequireOtherParameters: [\"returnDate\", \"departureDate\", \"origin\"]"),
		ruleParam("city", "city, zip: at least one of the parameters must be provided"),
		{Name: "zip"},
	}}
	c := New()
	rep := c.CheckMethod(m, utterances(
		map[string]any{"returnDate": "2024-05-02", "city": "Paris"},
		map[string]any{"departureDate": "2024-05-01"},
	))
	// first: returnDate without departureDate and origin (2); second: neither city nor zip (1)
	if rep.InterDependency != 3 {
		t.Fatalf("got %d inter-dependency violations: %+v", rep.InterDependency, rep.Violations)
	}
}

func TestArithmeticConditionalVerification(t *testing.T) {
	rule := "adults, children: the combined number of adults and children must not exceed 9"
	m := types.APIMethod{Name: "m", Parameters: []types.Parameter{ruleParam("adults", rule), ruleParam("children", rule)}}
	rep := New().CheckMethod(m, utterances(
		map[string]any{"adults": json.Number("6"), "children": json.Number("5")},
		map[string]any{"adults": json.Number("2"), "children": json.Number("1")},
		map[string]any{"adults": json.Number("6")},
		map[string]any{"adults": "six", "children": json.Number("5")},
	))
	if rep.InterDependency != 1 {
		t.Fatalf("expected one violation (shared rule counted once), got %d", rep.InterDependency)
	}
	if rep.Unverifiable != 2 {
		t.Fatalf("expected 2 unverifiable, got %d", rep.Unverifiable)
	}
}

func TestCheckSkipsFailedAndUnmatchedMethods(t *testing.T) {
	truth := &types.ToolSpec{Methods: []types.APIMethod{
		{Name: "a", Parameters: []types.Parameter{{Name: "n", Constraints: &types.Constraint{Values: &types.Values{Max: ptr(1)}}}}},
		{Name: "b"},
	}}
	candidate := &types.ToolSpec{Methods: []types.APIMethod{
		{Name: "a", Utterances: utterances(map[string]any{"n": 2})},
		{Name: "b", Utterances: types.FailedSet()},
		{Name: "c", Utterances: utterances(map[string]any{})},
	}}
	rep := New().Check(truth, candidate)
	v, f, d := rep.Counts()
	if v != 1 || f != 0 || d != 0 {
		t.Fatalf("counts = %d %d %d", v, f, d)
	}
	if rep.SkippedMethods != 2 || rep.Utterances != 1 {
		t.Fatalf("skipped=%d utterances=%d", rep.SkippedMethods, rep.Utterances)
	}
}
