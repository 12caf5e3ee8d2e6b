package generator

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yourorg/capgen/internal/llm"
	"github.com/yourorg/capgen/internal/planner"
	"github.com/yourorg/capgen/pkg/types"
)

const systemPrompt = `You write the requests real users type or say when they need one API method.
You receive the API name and description, the method name and description, and its parameters with their constraints.
Write %d utterances that this method must answer.

Rules:
- Include every required parameter in every utterance.
- Use only the documented parameters; never invent new ones.
- Respect every constraint listed under "constraints":
  - values follow the stated format (ISO 8601 dates, country or currency codes, emails...);
  - numbers stay within min and max; enumerated parameters take one of the listed values, cycling through them across utterances;
  - when "id" is true, write what the identifier stands for (a hotel name for hotelId, a zodiac sign for signId) instead of an opaque code;
  - parameter combinations satisfy every inter-dependency rule.
- Do not name the API or the method unless it is a well-known brand users would mention.
- Avoid vague placeholders ("some city", "a date"); every value must be stated literally in the sentence so it can be recovered from the text.
- Vary vocabulary and sentence structure from one utterance to the next.
- Do not reuse a parameter value across utterances unless its enumerated set is smaller than the number of utterances.
- Sound like a person, not like documentation.

Return only a JSON list. Each element has an "utterance" string and a "parameters" object mapping each parameter used to its literal value, typed as documented (numbers as numbers, booleans as true/false).`

type promptParam struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Required    bool              `json:"required"`
	Type        string            `json:"type,omitempty"`
	Enum        []any             `json:"enum,omitempty"`
	Constraints *types.Constraint `json:"constraints,omitempty"`
}

type promptMethod struct {
	APIName           string        `json:"API Name"`
	APIDescription    string        `json:"API Description"`
	MethodName        string        `json:"API Method Name"`
	MethodDescription string        `json:"API Method Description"`
	Parameters        []promptParam `json:"Parameters"`
}

// BuildSystemPrompt returns the generation rules for count utterances.
func BuildSystemPrompt(count int) string {
	return fmt.Sprintf(systemPrompt, count)
}

// BuildUserPrompt renders the method (technical parameters removed) and the plan's hints.
func BuildUserPrompt(tool *types.ToolSpec, m types.APIMethod, plan planner.Plan, count, descLimit int) (string, error) {
	spec := promptMethod{
		APIName:           tool.Name,
		APIDescription:    truncate(tool.Description, descLimit),
		MethodName:        m.Name,
		MethodDescription: truncate(m.Description, descLimit),
		Parameters:        []promptParam{},
	}
	for _, p := range m.UserFacing() {
		spec.Parameters = append(spec.Parameters, promptParam{
			Name:        p.Name,
			Description: p.Description,
			Required:    p.Required,
			Type:        p.Type,
			Enum:        p.Enum,
			Constraints: userConstraint(p.Constraints),
		})
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", err
	}

	b := &strings.Builder{}
	b.Write(data)
	b.WriteString("\n\n")
	switch {
	case len(plan.Required) == 0 && len(plan.Optional) == 0:
		fmt.Fprintf(b, "This method takes no parameters. Write %d general requests for what it does; use an empty \"parameters\" object.\n", count)
		return b.String(), nil
	case plan.RequiredOnly():
		fmt.Fprintf(b, "Every utterance must include all required parameters: %s.\n", strings.Join(plan.Required, ", "))
		return b.String(), nil
	}
	if len(plan.Required) > 0 {
		fmt.Fprintf(b, "Required parameters (include them in every utterance): %s.\n", strings.Join(plan.Required, ", "))
	}
	fmt.Fprintf(b, "Optional parameters: %s.\n", strings.Join(plan.Optional, ", "))
	for _, g := range plan.Groups {
		fmt.Fprintf(b, "Parameters %s are used as a unit:", strings.Join(g.Params, ", "))
		for _, r := range g.Rules {
			fmt.Fprintf(b, " %q", r)
		}
		b.WriteString("\n")
	}
	if len(plan.Subsets) > 0 {
		b.WriteString("\nOptional parameters to use in each utterance:\n")
		for i, s := range plan.Subsets {
			if s.RequiredOnly {
				fmt.Fprintf(b, "%d. required parameters only\n", i+1)
				continue
			}
			fmt.Fprintf(b, "%d. %s\n", i+1, strings.Join(s.Params, ", "))
		}
	}
	return b.String(), nil
}

// BuildMessages assembles the completion request for one method.
func BuildMessages(tool *types.ToolSpec, m types.APIMethod, plan planner.Plan, count, descLimit int) ([]llm.Message, error) {
	user, err := BuildUserPrompt(tool, m, plan, count, descLimit)
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: BuildSystemPrompt(count)},
		{Role: llm.RoleUser, Content: user},
	}, nil
}

// userConstraint hides the technical flag, which is meaningless to the generator.
func userConstraint(c *types.Constraint) *types.Constraint {
	if c == nil {
		return nil
	}
	out := *c
	out.Technical = false
	if out.Empty() {
		return nil
	}
	return &out
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
