// Package source reads tool documentation files into ToolSpecs.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/yourorg/capgen/pkg/types"
)

// ErrSchema marks a documentation file that cannot be turned into a ToolSpec.
var ErrSchema = errors.New("documentation schema violation")

var codec = jsoniter.Config{UseNumber: true, EscapeHTML: false}.Froze()

// Entry locates one tool file. Key is "<category>/<file>" and identifies the tool
// across stages.
type Entry struct {
	Key      string
	Category string
	Path     string
}

// Walk lists dir/<category>/*.json sorted by key.
func Walk(dir string) ([]Entry, error) {
	categories, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, c := range categories {
		if !c.IsDir() || strings.HasPrefix(c.Name(), ".") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, c.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), ".json") {
				continue
			}
			out = append(out, Entry{
				Key:      c.Name() + "/" + f.Name(),
				Category: c.Name(),
				Path:     filepath.Join(dir, c.Name(), f.Name()),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Load reads and parses the entry's file.
func Load(e Entry) (*types.ToolSpec, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, err
	}
	tool, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Key, err)
	}
	if tool.Category == "" {
		tool.Category = e.Category
	}
	return tool, nil
}

type rawParam struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Required    *bool  `json:"required"`
	Default     any    `json:"default"`
	Example     any    `json:"example"`
	XExample    any    `json:"x-example"`
	Enum        []any  `json:"enum"`
}

type rawMethod struct {
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	URL                string     `json:"url"`
	RequiredParameters []rawParam `json:"required_parameters"`
	OptionalParameters []rawParam `json:"optional_parameters"`
	Parameters         []rawParam `json:"parameters"`
}

type rawTool struct {
	ToolName        string      `json:"tool_name"`
	ToolDescription any         `json:"tool_description"`
	HomeURL         string      `json:"home_url"`
	Category        string      `json:"category"`
	Score           *rawScore   `json:"score"`
	APIList         []rawMethod `json:"api_list"`
}

type rawScore struct {
	PopularityScore float64 `json:"popularityScore"`
}

// Parse accepts a ToolBench-style file (tool_name, api_list) or a previously
// written artifact (name, api_methods).
func Parse(data []byte) (*types.ToolSpec, error) {
	var probe map[string]jsoniter.RawMessage
	if err := codec.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	var tool *types.ToolSpec
	switch {
	case probe["api_list"] != nil:
		var raw rawTool
		if err := codec.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
		tool = convert(raw)
	case probe["api_methods"] != nil:
		tool = &types.ToolSpec{}
		if err := codec.Unmarshal(data, tool); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
	default:
		return nil, fmt.Errorf("%w: neither api_list nor api_methods present", ErrSchema)
	}
	if err := Validate(tool); err != nil {
		return nil, err
	}
	return tool, nil
}

func convert(raw rawTool) *types.ToolSpec {
	tool := &types.ToolSpec{
		Name:     raw.ToolName,
		URL:      raw.HomeURL,
		Category: raw.Category,
		Methods:  make([]types.APIMethod, 0, len(raw.APIList)),
	}
	// tool_description is occasionally null or a non-string in the corpus
	if s, ok := raw.ToolDescription.(string); ok {
		tool.Description = s
	}
	if raw.Score != nil {
		tool.Popularity = raw.Score.PopularityScore
	}
	for _, rm := range raw.APIList {
		m := types.APIMethod{Name: rm.Name, Description: rm.Description, URL: rm.URL}
		for _, p := range rm.RequiredParameters {
			m.Parameters = append(m.Parameters, p.param(true))
		}
		for _, p := range rm.OptionalParameters {
			m.Parameters = append(m.Parameters, p.param(false))
		}
		for _, p := range rm.Parameters {
			m.Parameters = append(m.Parameters, p.param(p.Required != nil && *p.Required))
		}
		tool.Methods = append(tool.Methods, m)
	}
	return tool
}

func (p rawParam) param(required bool) types.Parameter {
	example := p.Example
	if example == nil {
		example = p.XExample
	}
	def := p.Default
	if s, ok := def.(string); ok && s == "" {
		def = nil
	}
	return types.Parameter{
		Name:        strings.TrimSpace(p.Name),
		Description: p.Description,
		Required:    required,
		Type:        p.Type,
		Default:     def,
		Example:     example,
		Enum:        p.Enum,
	}
}

// Validate enforces unique method names and named, unique parameters.
func Validate(tool *types.ToolSpec) error {
	if strings.TrimSpace(tool.Name) == "" {
		return fmt.Errorf("%w: tool has no name", ErrSchema)
	}
	methods := make(map[string]struct{}, len(tool.Methods))
	for _, m := range tool.Methods {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("%w: method without name", ErrSchema)
		}
		if _, dup := methods[m.Name]; dup {
			return fmt.Errorf("%w: duplicate method %q", ErrSchema, m.Name)
		}
		methods[m.Name] = struct{}{}
		params := make(map[string]struct{}, len(m.Parameters))
		for i, p := range m.Parameters {
			if p.Name == "" {
				return fmt.Errorf("%w: method %q parameter %d has no name", ErrSchema, m.Name, i)
			}
			if _, dup := params[p.Name]; dup {
				return fmt.Errorf("%w: method %q duplicate parameter %q", ErrSchema, m.Name, p.Name)
			}
			params[p.Name] = struct{}{}
		}
	}
	return nil
}

// ParameterCount counts parameters across all methods.
func ParameterCount(tool *types.ToolSpec) int {
	n := 0
	for _, m := range tool.Methods {
		n += len(m.Parameters)
	}
	return n
}
