package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseFailed is stored in place of the utterance list when a completion could not be parsed.
const ParseFailed = "error parsing the information"

// GeneratedUtterance is one sentence plus the literal parameter values it carries.
type GeneratedUtterance struct {
	Utterance  string         `json:"utterance"`
	Parameters map[string]any `json:"parameters"`
}

// UnmarshalJSON keeps numbers as json.Number so values survive a round trip unchanged.
func (u *GeneratedUtterance) UnmarshalJSON(data []byte) error {
	var raw struct {
		Utterance  string         `json:"utterance"`
		Parameters map[string]any `json:"parameters"`
		Parameter  map[string]any `json:"parameter"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	u.Utterance = raw.Utterance
	u.Parameters = raw.Parameters
	if u.Parameters == nil {
		u.Parameters = raw.Parameter
	}
	if u.Parameters == nil {
		u.Parameters = map[string]any{}
	}
	return nil
}

// ParamNames returns the parameter names used, excluding those in skip.
func (u GeneratedUtterance) ParamNames(skip map[string]struct{}) []string {
	out := make([]string, 0, len(u.Parameters))
	for k := range u.Parameters {
		if _, ok := skip[k]; ok {
			continue
		}
		out = append(out, k)
	}
	return out
}

// UtteranceSet is a method's generated batch. Failed marks a batch whose completion
// could not be parsed; it is distinct from an empty batch.
type UtteranceSet struct {
	Items  []GeneratedUtterance
	Failed bool
}

// FailedSet returns the parse-failure sentinel.
func FailedSet() *UtteranceSet {
	return &UtteranceSet{Failed: true}
}

// Usable reports whether the set holds parsed utterances.
func (s *UtteranceSet) Usable() bool {
	return s != nil && !s.Failed
}

func (s UtteranceSet) MarshalJSON() ([]byte, error) {
	if s.Failed {
		return json.Marshal(ParseFailed)
	}
	items := s.Items
	if items == nil {
		items = []GeneratedUtterance{}
	}
	return json.Marshal(items)
}

func (s *UtteranceSet) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		*s = UtteranceSet{Failed: true}
		return nil
	}
	var items []GeneratedUtterance
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return fmt.Errorf("utterances: %w", err)
	}
	*s = UtteranceSet{Items: items}
	return nil
}
