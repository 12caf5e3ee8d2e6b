package types

import "time"

// ToolSpec is one API/tool with its methods.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	URL         string      `json:"url"`
	Category    string      `json:"category,omitempty"`
	Popularity  float64     `json:"popularity,omitempty"`
	Methods     []APIMethod `json:"api_methods"`
}

// APIMethod is one callable endpoint of a tool.
type APIMethod struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	URL         string        `json:"url"`
	Parameters  []Parameter   `json:"parameters"`
	Utterances  *UtteranceSet `json:"utterances,omitempty"`
}

// Parameter is one input of an API method.
type Parameter struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Type        string      `json:"type,omitempty"`
	Default     any         `json:"default,omitempty"`
	Example     any         `json:"example,omitempty"`
	Enum        []any       `json:"enum,omitempty"`
	Constraints *Constraint `json:"constraints,omitempty"`
}

// Technical reports whether the parameter is developer-facing.
func (p Parameter) Technical() bool {
	return p.Constraints != nil && bool(p.Constraints.Technical)
}

// Method returns the method with the given name.
func (t *ToolSpec) Method(name string) (*APIMethod, bool) {
	for i := range t.Methods {
		if t.Methods[i].Name == name {
			return &t.Methods[i], true
		}
	}
	return nil, false
}

// UserFacing returns the parameters that are not technical, in declaration order.
func (m APIMethod) UserFacing() []Parameter {
	out := make([]Parameter, 0, len(m.Parameters))
	for _, p := range m.Parameters {
		if p.Technical() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// TechnicalNames returns the set of technical parameter names.
func (m APIMethod) TechnicalNames() map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range m.Parameters {
		if p.Technical() {
			set[p.Name] = struct{}{}
		}
	}
	return set
}

// Run statuses stored in the ledger.
const (
	RunDone   = "done"
	RunFailed = "failed"
)

// Run is one ledger row: a stage completed (or failed) for one tool.
type Run struct {
	ToolKey       string    `json:"tool_key"`
	Stage         string    `json:"stage"`
	Status        string    `json:"status"`
	Methods       int       `json:"methods"`
	ParseFailures int       `json:"parse_failures"`
	Model         string    `json:"model"`
	ErrorMsg      string    `json:"error_msg,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LLMCache stores the raw completion for one method of one stage.
type LLMCache struct {
	ToolKey   string    `json:"tool_key"`
	Stage     string    `json:"stage"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	RawOutput string    `json:"raw_output"`
	Model     string    `json:"model"`
	ErrorMsg  string    `json:"error_msg"`
	CreatedAt time.Time `json:"created_at"`
}
