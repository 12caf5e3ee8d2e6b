package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxEnumerated is the largest values.enumerated a valid constraint may carry.
const MaxEnumerated = 40

// Constraint is the sparse set of rules extracted for one parameter.
// Fields are present only when the documentation states them.
type Constraint struct {
	Format          string           `json:"format,omitempty"`
	Values          *Values          `json:"values,omitempty"`
	IsIdentifier    Flag             `json:"id,omitempty"`
	Technical       Flag             `json:"technical,omitempty"`
	InterDependency *InterDependency `json:"inter-dependency,omitempty"`
}

// Values holds numeric bounds and the closed set of accepted literals.
type Values struct {
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Enumerated []any    `json:"enumerated,omitempty"`
}

// Flag is a boolean that also accepts the "True"/"False" strings models tend to emit.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "null" || s == "" {
		*f = false
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("flag %q: %w", s, err)
	}
	*f = Flag(b)
	return nil
}

// Empty reports whether no field is set.
func (c *Constraint) Empty() bool {
	if c == nil {
		return true
	}
	return c.Format == "" && c.Values.empty() && !bool(c.IsIdentifier) && !bool(c.Technical) && c.InterDependency == nil
}

func (v *Values) empty() bool {
	return v == nil || (v.Min == nil && v.Max == nil && len(v.Enumerated) == 0)
}

// Validate checks the shape invariants of a constraint.
func (c *Constraint) Validate() error {
	if c == nil {
		return nil
	}
	if c.Values != nil {
		if len(c.Values.Enumerated) > MaxEnumerated {
			return fmt.Errorf("values.enumerated has %d entries, max %d", len(c.Values.Enumerated), MaxEnumerated)
		}
		if c.Values.Min != nil && c.Values.Max != nil && *c.Values.Min > *c.Values.Max {
			return fmt.Errorf("values.min %v greater than values.max %v", *c.Values.Min, *c.Values.Max)
		}
	}
	if c.InterDependency != nil && strings.TrimSpace(c.InterDependency.Text) == "" {
		return errors.New("inter-dependency text is empty")
	}
	return nil
}

// constraint keys accepted on input; aliases map onto the five canonical fields.
var constraintKeys = map[string]string{
	"format":           "format",
	"values":           "values",
	"id":               "id",
	"is_identifier":    "id",
	"identifier":       "id",
	"technical":        "technical",
	"is_technical":     "technical",
	"api_related":      "technical",
	"inter-dependency": "inter-dependency",
	"inter_dependency": "inter-dependency",
	"interdependency":  "inter-dependency",
	"conditional":      "inter-dependency",
}

// DecodeConstraint builds a Constraint from one JSON object and returns the keys
// that fall outside the taxonomy. Unknown keys are dropped, never interpreted.
func DecodeConstraint(data []byte) (*Constraint, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("constraint object: %w", err)
	}
	c := &Constraint{}
	var unknown []string
	for key, val := range raw {
		canon, ok := constraintKeys[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if isNull(val) {
			continue
		}
		switch canon {
		case "format":
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				return nil, unknown, fmt.Errorf("format: %w", err)
			}
			c.Format = strings.TrimSpace(s)
		case "values":
			var v Values
			if err := json.Unmarshal(val, &v); err != nil {
				return nil, unknown, fmt.Errorf("values: %w", err)
			}
			if !v.empty() {
				c.Values = &v
			}
		case "id":
			if err := json.Unmarshal(val, &c.IsIdentifier); err != nil {
				return nil, unknown, fmt.Errorf("id: %w", err)
			}
		case "technical":
			if err := json.Unmarshal(val, &c.Technical); err != nil {
				return nil, unknown, fmt.Errorf("technical: %w", err)
			}
		case "inter-dependency":
			var dep InterDependency
			if err := json.Unmarshal(val, &dep); err != nil {
				return nil, unknown, fmt.Errorf("inter-dependency: %w", err)
			}
			if strings.TrimSpace(dep.Text) != "" {
				c.InterDependency = &dep
			}
		}
	}
	sort.Strings(unknown)
	return c, unknown, nil
}

// UnmarshalJSON ignores keys outside the taxonomy.
func (c *Constraint) UnmarshalJSON(data []byte) error {
	decoded, _, err := DecodeConstraint(data)
	if err != nil {
		return err
	}
	*c = *decoded
	return nil
}

func (v *Values) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Values{}
	for key, val := range raw {
		switch strings.ToLower(key) {
		case "min", "minimum":
			out.Min = parseBound(val)
		case "max", "maximum":
			out.Max = parseBound(val)
		case "enumerated", "enum", "specific":
			dec := json.NewDecoder(bytes.NewReader(val))
			dec.UseNumber()
			var list []any
			if err := dec.Decode(&list); err != nil {
				return fmt.Errorf("enumerated: %w", err)
			}
			out.Enumerated = list
		}
	}
	*v = out
	return nil
}

// parseBound accepts a number or a numeric string; anything else is treated as absent.
func parseBound(val json.RawMessage) *float64 {
	s := strings.Trim(strings.TrimSpace(string(val)), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func isNull(val json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(val), []byte("null"))
}
