package filter

import (
	"strings"

	"github.com/yourorg/capgen/internal/config"
	"github.com/yourorg/capgen/pkg/types"
)

// SanitizeConfig is an alias of config.SanitizeConfig.
type SanitizeConfig = config.SanitizeConfig

// Sanitize returns a copy of tool whose sensitive parameters carry no example or
// default value. A parameter is sensitive when its lower-cased name equals or ends
// with a configured name ("x_api_key" matches "api_key").
func Sanitize(tool *types.ToolSpec, cfg SanitizeConfig) *types.ToolSpec {
	if tool == nil {
		return nil
	}
	set := toLowerSet(cfg.Parameters)
	out := *tool
	out.Methods = make([]types.APIMethod, len(tool.Methods))
	for i, m := range tool.Methods {
		out.Methods[i] = m
		out.Methods[i].Parameters = make([]types.Parameter, len(m.Parameters))
		for j, p := range m.Parameters {
			if sensitive(p.Name, set) {
				if p.Default != nil {
					p.Default = cfg.Replacement
				}
				if p.Example != nil {
					p.Example = cfg.Replacement
				}
			}
			out.Methods[i].Parameters[j] = p
		}
	}
	return &out
}

func sensitive(name string, set map[string]struct{}) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := set[name]; ok {
		return true
	}
	for s := range set {
		if strings.HasSuffix(name, "_"+s) || strings.HasSuffix(name, "-"+s) {
			return true
		}
	}
	return false
}

func toLowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, v := range items {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}
