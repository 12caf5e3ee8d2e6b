package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yourorg/capgen/internal/llm"
	"github.com/yourorg/capgen/pkg/types"
)

// Verdicts.
const (
	Natural   = "natural"
	Unnatural = "unnatural"
	Invalid   = "invalid response"
)

const rubric = `Naturalness is how close an utterance is to the way a real user would ask a chatbot for a service.

Label it as one of:
- natural: reads like a genuine user request. Conversational, possibly casual, something a person would actually type.
- unnatural: sounds generated or robotic. Awkward phrasing, raw parameter names, or API-like language.

Guidelines:
1. Judge the wording, not whether the request is useful.
2. Technical terms are fine when used the way people use them ("filter by price" is natural, "apply filtering on cost attribute" is not).
3. Parameter values written as they would be typed (dates, codes, amounts) do not make an utterance unnatural.

Respond only with 'natural' or 'unnatural'.`

// Verdict is one judged utterance.
type Verdict struct {
	Judge     string `json:"llm_as_judge"`
	API       string `json:"api"`
	Method    string `json:"api_method"`
	Utterance string `json:"utterance"`
	Label     string `json:"evaluation"`
}

// Result aggregates the verdicts for one tool.
type Result struct {
	Natural   int       `json:"natural_count"`
	Unnatural int       `json:"unnatural_count"`
	Invalid   int       `json:"wrong_count"`
	Verdicts  []Verdict `json:"detailed_results"`
}

// Ratio is the share of natural verdicts among the valid ones.
func (r Result) Ratio() float64 {
	valid := r.Natural + r.Unnatural
	if valid == 0 {
		return 0
	}
	return float64(r.Natural) / float64(valid)
}

// Merge adds o's counts and verdicts to r.
func (r *Result) Merge(o Result) {
	r.Natural += o.Natural
	r.Unnatural += o.Unnatural
	r.Invalid += o.Invalid
	r.Verdicts = append(r.Verdicts, o.Verdicts...)
}

// Judge labels generated utterances with a completion model at temperature 0.
type Judge struct {
	LLM       llm.Completer
	Model     string
	MaxTokens int
	// Cache is keyed by "<method>#<index>".
	Cache  llm.Cache
	Logger *slog.Logger
}

// Evaluate judges every utterance of tool. Methods whose batch failed to parse are
// skipped. Service errors abort the tool.
func (j *Judge) Evaluate(ctx context.Context, tool *types.ToolSpec) (Result, error) {
	var res Result
	if tool == nil {
		return res, errors.New("tool is nil")
	}
	for _, m := range tool.Methods {
		if !m.Utterances.Usable() {
			continue
		}
		for i, u := range m.Utterances.Items {
			key := fmt.Sprintf("%s#%d", m.Name, i)
			raw, err := j.complete(ctx, key, u.Utterance)
			if err != nil {
				return res, fmt.Errorf("judge %s: %w", key, err)
			}
			label := Label(raw)
			switch label {
			case Natural:
				res.Natural++
			case Unnatural:
				res.Unnatural++
			default:
				res.Invalid++
				j.logger().Debug("judge answer not recognised", "method", m.Name, "answer", raw)
			}
			res.Verdicts = append(res.Verdicts, Verdict{
				Judge:     j.Model,
				API:       tool.Name,
				Method:    m.Name,
				Utterance: u.Utterance,
				Label:     label,
			})
		}
	}
	return res, nil
}

// Label normalises a judge answer to one of the verdicts.
func Label(answer string) string {
	s := strings.ToLower(strings.TrimSpace(llm.StripCodeFence(answer)))
	s = strings.Trim(s, " .'\"`")
	switch s {
	case Natural, Unnatural:
		return s
	}
	return Invalid
}

// Messages builds the judge prompt for one utterance.
func Messages(utterance string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: rubric},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Evaluate the following utterance for naturalness: '%s'", utterance)},
	}
}

func (j *Judge) complete(ctx context.Context, key, utterance string) (string, error) {
	if j.Cache != nil {
		if raw, ok := j.Cache.Get(key); ok {
			return raw, nil
		}
	}
	maxTokens := j.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	raw, err := j.LLM.Complete(ctx, llm.Request{
		Messages:    Messages(utterance),
		Temperature: 0,
		MaxTokens:   maxTokens,
		Model:       j.Model,
	})
	if err != nil {
		return "", err
	}
	if j.Cache != nil {
		if err := j.Cache.Put(key, raw); err != nil {
			j.logger().Warn("cache write failed", "key", key, "error", err)
		}
	}
	return raw, nil
}

func (j *Judge) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
