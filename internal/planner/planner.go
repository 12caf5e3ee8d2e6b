// Package planner suggests which optional parameters each generated utterance should use.
package planner

import (
	"github.com/yourorg/capgen/pkg/types"
)

// Subset is the hint for one utterance. RequiredOnly asks for the required
// parameters alone.
type Subset struct {
	Params       []string
	RequiredOnly bool
}

// Group is a set of optional parameters bound by a multi-parameter rule. Groups are
// windowed as one unit and their rule text is shown to the model unchanged.
type Group struct {
	Params []string
	Rules  []string
}

// Plan is the full hint set for one method.
type Plan struct {
	Required []string
	Optional []string
	Groups   []Group
	// Subsets has exactly one entry per requested utterance when the method has
	// optional parameters, and is empty otherwise.
	Subsets []Subset
}

// RequiredOnly reports a method whose user-facing parameters are all required.
func (p Plan) RequiredOnly() bool {
	return len(p.Optional) == 0 && len(p.Required) > 0
}

// Build plans count utterances for m. Technical parameters never appear.
//
// Optional parameters are grouped into units (singletons, or the members of a
// shared inter-dependency rule). A window of w = min(n/count+1, n) units slides
// over the n units, advancing by its own size so the first pass covers every unit
// within count subsets. When the start passes the end the window grows by one;
// once it exceeds n it resets, emitting a required-only hint if the method has
// required parameters.
func Build(m types.APIMethod, count int) Plan {
	var plan Plan
	for _, p := range m.UserFacing() {
		if p.Required {
			plan.Required = append(plan.Required, p.Name)
		} else {
			plan.Optional = append(plan.Optional, p.Name)
		}
	}
	units, groups := unitsOf(m, plan.Optional)
	plan.Groups = groups
	if count <= 0 || len(units) == 0 {
		return plan
	}

	n := len(units)
	initial := n/count + 1
	if initial > n {
		initial = n
	}
	size, start := initial, 0
	hasRequired := len(plan.Required) > 0
	plan.Subsets = make([]Subset, 0, count)
	for len(plan.Subsets) < count {
		if start >= n {
			start = 0
			size++
		}
		if size > n {
			size, start = initial, 0
			if hasRequired {
				plan.Subsets = append(plan.Subsets, Subset{RequiredOnly: true})
			}
			continue
		}
		end := start + size
		if end > n {
			end = n
		}
		var params []string
		for _, u := range units[start:end] {
			params = append(params, u...)
		}
		plan.Subsets = append(plan.Subsets, Subset{Params: params})
		start += size
	}
	return plan
}

// unitsOf merges optional parameters that share a rule naming two or more of them.
// Units keep the order in which their first member was declared.
func unitsOf(m types.APIMethod, optional []string) ([][]string, []Group) {
	index := make(map[string]int, len(optional))
	for i, name := range optional {
		index[name] = i
	}
	parent := make([]int, len(optional))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	rules := make(map[int][]string) // member index -> rule texts touching it
	seenRule := make(map[string]struct{})
	for _, p := range m.Parameters {
		if p.Constraints == nil || p.Constraints.InterDependency == nil || p.Constraints.InterDependency.Rule == nil {
			continue
		}
		dep := p.Constraints.InterDependency
		var members []int
		for _, name := range dep.Rule.Names() {
			if i, ok := index[name]; ok {
				members = append(members, i)
			}
		}
		if len(members) < 2 {
			continue
		}
		for _, i := range members[1:] {
			union(members[0], i)
		}
		if _, dup := seenRule[dep.Text]; !dup {
			seenRule[dep.Text] = struct{}{}
			rules[members[0]] = append(rules[members[0]], dep.Text)
		}
	}

	var units [][]string
	byRoot := make(map[int]int)
	for i, name := range optional {
		root := find(i)
		if u, ok := byRoot[root]; ok {
			units[u] = append(units[u], name)
			continue
		}
		byRoot[root] = len(units)
		units = append(units, []string{name})
	}

	var groups []Group
	groupAt := make(map[int]int)
	for i := range optional {
		root := find(i)
		u := byRoot[root]
		if len(units[u]) < 2 {
			continue
		}
		g, ok := groupAt[root]
		if !ok {
			g = len(groups)
			groupAt[root] = g
			groups = append(groups, Group{Params: units[u]})
		}
		groups[g].Rules = append(groups[g].Rules, rules[i]...)
	}
	return units, groups
}
