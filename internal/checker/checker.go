// Package checker replays extracted constraints against generated utterances.
package checker

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yourorg/capgen/internal/constraint"
	"github.com/yourorg/capgen/pkg/types"
)

// Category is a violation bucket.
type Category string

const (
	CategoryValue           Category = "value"
	CategoryFormat          Category = "format"
	CategoryInterDependency Category = "inter-dependency"
)

// Violation is one failed check.
type Violation struct {
	Method    string   `json:"method"`
	Utterance int      `json:"utterance"`
	Text      string   `json:"text"`
	Category  Category `json:"category"`
	Param     string   `json:"param,omitempty"`
	Rule      string   `json:"rule,omitempty"`
	Detail    string   `json:"detail"`
}

// Report aggregates violations for one tool or a whole batch.
type Report struct {
	Value           int `json:"value_violations"`
	Format          int `json:"format_violations"`
	InterDependency int `json:"inter_dependency_violations"`
	// Unverifiable counts checks that could not run: unknown formats and arithmetic
	// rules whose operands were missing or non-numeric.
	Unverifiable   int         `json:"unverifiable"`
	Utterances     int         `json:"utterances"`
	SkippedMethods int         `json:"skipped_methods"`
	Violations     []Violation `json:"violations,omitempty"`
}

// Counts returns (value, format, inter-dependency) violations.
func (r Report) Counts() (int, int, int) {
	return r.Value, r.Format, r.InterDependency
}

// Total is the sum of the three violation buckets.
func (r Report) Total() int {
	return r.Value + r.Format + r.InterDependency
}

// Add merges other into r.
func (r *Report) Add(other Report) {
	r.Value += other.Value
	r.Format += other.Format
	r.InterDependency += other.InterDependency
	r.Unverifiable += other.Unverifiable
	r.Utterances += other.Utterances
	r.SkippedMethods += other.SkippedMethods
	r.Violations = append(r.Violations, other.Violations...)
}

func (r *Report) record(v Violation) {
	switch v.Category {
	case CategoryValue:
		r.Value++
	case CategoryFormat:
		r.Format++
	case CategoryInterDependency:
		r.InterDependency++
	}
	r.Violations = append(r.Violations, v)
}

// Checker holds the format registry and arithmetic evaluator used for every check.
type Checker struct {
	Formats *constraint.Registry
	Eval    *constraint.Evaluator
}

// New returns a checker with the built-in formats.
func New() *Checker {
	return &Checker{Formats: constraint.NewRegistry(), Eval: constraint.NewEvaluator()}
}

// Check compares candidate utterances against the ground-truth constraints, matching
// methods by name. Methods without usable utterances or without a ground-truth
// counterpart contribute no checks.
func (c *Checker) Check(truth, candidate *types.ToolSpec) Report {
	var rep Report
	if truth == nil || candidate == nil {
		return rep
	}
	for _, cm := range candidate.Methods {
		tm, ok := truth.Method(cm.Name)
		if !ok || !cm.Utterances.Usable() {
			rep.SkippedMethods++
			continue
		}
		rep.Add(c.CheckMethod(*tm, cm.Utterances))
	}
	return rep
}

// CheckMethod runs every constraint of m against each utterance in set.
func (c *Checker) CheckMethod(m types.APIMethod, set *types.UtteranceSet) Report {
	var rep Report
	if !set.Usable() {
		rep.SkippedMethods++
		return rep
	}
	rules := methodRules(m)
	for i, u := range set.Items {
		rep.Utterances++
		for _, p := range m.Parameters {
			if p.Constraints == nil {
				continue
			}
			val, ok := u.Parameters[p.Name]
			if !ok || absent(val) {
				continue
			}
			c.checkValues(&rep, m.Name, i, u.Utterance, p, val)
			c.checkFormat(&rep, m.Name, i, u.Utterance, p, val)
		}
		for _, r := range rules {
			c.checkRule(&rep, m.Name, i, u, r)
		}
	}
	return rep
}

func (c *Checker) checkValues(rep *Report, method string, idx int, text string, p types.Parameter, val any) {
	v := p.Constraints.Values
	if v == nil {
		return
	}
	base := Violation{Method: method, Utterance: idx, Text: text, Category: CategoryValue, Param: p.Name}
	if v.Min != nil || v.Max != nil {
		var low, high bool
		for _, el := range constraint.Elements(val) {
			f, ok := constraint.Numeric(el)
			if !ok {
				continue
			}
			low = low || (v.Min != nil && f < *v.Min)
			high = high || (v.Max != nil && f > *v.Max)
		}
		if low {
			base.Detail = fmt.Sprintf("%s below min %v", constraint.Text(val), *v.Min)
			rep.record(base)
		}
		if high {
			base.Detail = fmt.Sprintf("%s above max %v", constraint.Text(val), *v.Max)
			rep.record(base)
		}
	}
	if len(v.Enumerated) > 0 && !enumerated(v.Enumerated, val) {
		base.Detail = fmt.Sprintf("%s not in enumerated values", constraint.Text(val))
		rep.record(base)
	}
}

func (c *Checker) checkFormat(rep *Report, method string, idx int, text string, p types.Parameter, val any) {
	format := p.Constraints.Format
	if format == "" {
		return
	}
	ok, known := c.Formats.Check(format, val)
	if !known {
		rep.Unverifiable++
		return
	}
	if !ok {
		rep.record(Violation{
			Method: method, Utterance: idx, Text: text, Category: CategoryFormat, Param: p.Name,
			Detail: fmt.Sprintf("%s does not match format %q", constraint.Text(val), format),
		})
	}
}

func (c *Checker) checkRule(rep *Report, method string, idx int, u types.GeneratedUtterance, r rule) {
	present := func(name string) bool {
		val, ok := u.Parameters[name]
		return ok && !absent(val)
	}
	fail := func(detail string) {
		rep.record(Violation{Method: method, Utterance: idx, Text: u.Utterance, Category: CategoryInterDependency, Rule: r.text, Detail: detail})
	}
	switch d := r.dep.(type) {
	case types.Requires:
		if !present(d.Governing) {
			return
		}
		for _, dep := range d.Dependents {
			if !present(dep) {
				fail(fmt.Sprintf("%s requires %s", d.Governing, dep))
			}
		}
	case types.AtLeastOne:
		if len(d.Params) == 0 {
			return
		}
		for _, n := range d.Params {
			if present(n) {
				return
			}
		}
		fail("none of " + strings.Join(d.Params, ", ") + " present")
	case types.OnlyOne:
		if len(d.Groups) == 0 {
			return
		}
		count := 0
		for _, g := range d.Groups {
			for _, n := range g {
				if present(n) {
					count++
					break
				}
			}
		}
		if count != 1 {
			fail(fmt.Sprintf("%d groups present, want exactly 1", count))
		}
	case types.AllOrNone:
		count := 0
		for _, n := range d.Params {
			if present(n) {
				count++
			}
		}
		if count != 0 && count != len(d.Params) {
			fail(fmt.Sprintf("%d of %d present", count, len(d.Params)))
		}
	case types.Arithmetic:
		if d.Expr == "" {
			rep.Unverifiable++
			return
		}
		ok, err := c.Eval.Eval(d.Expr, d.Params, u.Parameters)
		if errors.Is(err, constraint.ErrNotApplicable) {
			rep.Unverifiable++
			return
		}
		if err == nil && !ok {
			fail(d.Expr + " is false")
		}
	case types.Unrecognized:
	}
}

type rule struct {
	text string
	dep  types.Dependency
}

// methodRules collects the distinct inter-dependency rules of m. The same rule is
// usually attached to every parameter it names and must be evaluated once.
func methodRules(m types.APIMethod) []rule {
	var out []rule
	seen := make(map[string]struct{})
	for _, p := range m.Parameters {
		if p.Constraints == nil || p.Constraints.InterDependency == nil || p.Constraints.InterDependency.Rule == nil {
			continue
		}
		dep := p.Constraints.InterDependency
		key := ruleKey(dep.Rule)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rule{text: dep.Text, dep: dep.Rule})
	}
	return out
}

func ruleKey(d types.Dependency) string {
	names := append([]string(nil), d.Names()...)
	if _, ordered := d.(types.Requires); !ordered {
		sort.Strings(names)
	}
	key := string(d.Kind()) + "|" + strings.Join(names, ",")
	if a, ok := d.(types.Arithmetic); ok {
		key += "|" + a.Expr
	}
	if o, ok := d.(types.OnlyOne); ok {
		key += "|" + fmt.Sprint(o.Groups)
	}
	return key
}

func enumerated(allowed []any, val any) bool {
	for _, el := range constraint.Elements(val) {
		if member(allowed, el) {
			continue
		}
		s, ok := el.(string)
		if !ok || !strings.Contains(s, ",") {
			return false
		}
		for _, part := range strings.Split(s, ",") {
			if !member(allowed, part) {
				return false
			}
		}
	}
	return true
}

func member(allowed []any, v any) bool {
	for _, a := range allowed {
		if constraint.SameLiteral(a, v) {
			return true
		}
	}
	return false
}

func absent(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
