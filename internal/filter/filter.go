package filter

import (
	"sort"
	"strings"

	"github.com/yourorg/capgen/internal/config"
	"github.com/yourorg/capgen/internal/source"
	"github.com/yourorg/capgen/pkg/types"
)

// SelectConfig is an alias of config.SelectConfig.
type SelectConfig = config.SelectConfig

// Candidate is a loaded tool considered for selection.
type Candidate struct {
	Entry source.Entry
	Tool  *types.ToolSpec
}

// Rejection explains why a candidate was dropped.
type Rejection struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Eligible reports whether tool passes the quality gates: at least one parameter,
// a description of at least MinDescriptionWords words and at most MaxMethods methods.
func Eligible(tool *types.ToolSpec, cfg SelectConfig) (bool, string) {
	if source.ParameterCount(tool) == 0 {
		return false, "no parameters"
	}
	if cfg.MinDescriptionWords > 0 && len(strings.Fields(tool.Description)) < cfg.MinDescriptionWords {
		return false, "description too short"
	}
	if cfg.MaxMethods > 0 && len(tool.Methods) > cfg.MaxMethods {
		return false, "too many methods"
	}
	return true, ""
}

// Select keeps eligible candidates and returns the top PerCategory of each category,
// ordered by popularity (desc), then method count (asc), then key.
func Select(cands []Candidate, cfg SelectConfig) ([]Candidate, []Rejection) {
	byCategory := make(map[string][]Candidate)
	var order []string
	var rejected []Rejection
	for _, c := range cands {
		if ok, reason := Eligible(c.Tool, cfg); !ok {
			rejected = append(rejected, Rejection{Key: c.Entry.Key, Reason: reason})
			continue
		}
		cat := c.Entry.Category
		if _, seen := byCategory[cat]; !seen {
			order = append(order, cat)
		}
		byCategory[cat] = append(byCategory[cat], c)
	}
	sort.Strings(order)

	var out []Candidate
	for _, cat := range order {
		list := byCategory[cat]
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i], list[j]
			if a.Tool.Popularity != b.Tool.Popularity {
				return a.Tool.Popularity > b.Tool.Popularity
			}
			if len(a.Tool.Methods) != len(b.Tool.Methods) {
				return len(a.Tool.Methods) < len(b.Tool.Methods)
			}
			return a.Entry.Key < b.Entry.Key
		})
		if cfg.PerCategory > 0 && len(list) > cfg.PerCategory {
			for _, c := range list[cfg.PerCategory:] {
				rejected = append(rejected, Rejection{Key: c.Entry.Key, Reason: "below category cutoff"})
			}
			list = list[:cfg.PerCategory]
		}
		out = append(out, list...)
	}
	return out, rejected
}
