// Package coverage measures how much of a method's parameter space generated utterances exercise.
package coverage

import (
	"sort"
	"strings"

	"github.com/yourorg/capgen/pkg/types"
)

// ParameterCoverage is the fraction of m's non-technical parameters used by at least
// one utterance. ok is false when m has no such parameters or no usable utterances.
func ParameterCoverage(m types.APIMethod) (float64, bool) {
	if !m.Utterances.Usable() {
		return 0, false
	}
	declared := m.UserFacing()
	if len(declared) == 0 {
		return 0, false
	}
	used := make(map[string]struct{})
	for _, u := range m.Utterances.Items {
		for name := range u.Parameters {
			used[name] = struct{}{}
		}
	}
	hit := 0
	for _, p := range declared {
		if _, ok := used[p.Name]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(declared)), true
}

// CombinationCoverage counts distinct non-empty parameter-name sets across m's
// utterances after dropping technical names. ok is false for unusable utterances.
func CombinationCoverage(m types.APIMethod) (int, bool) {
	if !m.Utterances.Usable() {
		return 0, false
	}
	technical := m.TechnicalNames()
	seen := make(map[string]struct{})
	for _, u := range m.Utterances.Items {
		names := u.ParamNames(technical)
		if len(names) == 0 {
			continue
		}
		sort.Strings(names)
		seen[strings.Join(names, "\x00")] = struct{}{}
	}
	return len(seen), true
}

// Summary aggregates coverage over a set of methods.
type Summary struct {
	Methods           int     `json:"methods"`
	ParameterMethods  int     `json:"parameter_methods"`
	ParameterCoverage float64 `json:"parameter_coverage"`
	Combinations      int     `json:"combinations"`
}

// Add folds one method into the summary. ParameterCoverage holds the running mean.
func (s *Summary) Add(m types.APIMethod) {
	if cov, ok := ParameterCoverage(m); ok {
		s.ParameterCoverage = (s.ParameterCoverage*float64(s.ParameterMethods) + cov) / float64(s.ParameterMethods+1)
		s.ParameterMethods++
	}
	if n, ok := CombinationCoverage(m); ok {
		s.Combinations += n
		s.Methods++
	}
}

// Merge folds another summary in.
func (s *Summary) Merge(o Summary) {
	if total := s.ParameterMethods + o.ParameterMethods; total > 0 {
		s.ParameterCoverage = (s.ParameterCoverage*float64(s.ParameterMethods) + o.ParameterCoverage*float64(o.ParameterMethods)) / float64(total)
	}
	s.ParameterMethods += o.ParameterMethods
	s.Methods += o.Methods
	s.Combinations += o.Combinations
}

// Tool summarises every method of t.
func Tool(t *types.ToolSpec) Summary {
	var s Summary
	if t == nil {
		return s
	}
	for _, m := range t.Methods {
		s.Add(m)
	}
	return s
}
