package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourorg/capgen/internal/llm"
	"github.com/yourorg/capgen/pkg/types"
)

// Extractor annotates API methods with constraints inferred by a completion model.
type Extractor struct {
	LLM              llm.Completer
	Model            string
	Temperature      float64
	MaxTokens        int
	DescriptionLimit int
	// Cache, when set, is consulted by method name before calling the model.
	Cache  llm.Cache
	Logger *slog.Logger
}

// Result counts what happened to one tool.
type Result struct {
	Methods       int
	Skipped       int // methods without parameters
	Cached        int
	ParseFailures int
	// PromptTokens estimates the prompt size of the calls actually sent.
	PromptTokens int
	UnknownKeys   int
	Constrained   int // parameters that received a constraint
}

// Extract fills Parameter.Constraints for every method of tool in place. A completion
// that cannot be parsed leaves that method unconstrained and is counted; service
// errors abort the tool.
func (e *Extractor) Extract(ctx context.Context, tool *types.ToolSpec) (Result, error) {
	var res Result
	if tool == nil {
		return res, errors.New("tool is nil")
	}
	for i := range tool.Methods {
		m := &tool.Methods[i]
		if len(m.Parameters) == 0 {
			res.Skipped++
			continue
		}
		res.Methods++
		if raw, ok := e.cached(m.Name); ok {
			applied, err := Apply(m, raw, e.logger())
			if err == nil {
				res.Cached++
				res.UnknownKeys += applied.UnknownKeys
				res.Constrained += applied.Constrained
				continue
			}
			e.logger().Info("cached constraint output unparseable, asking again", "tool", tool.Name, "method", m.Name, "error", err)
		}
		raw, tokens, err := e.call(ctx, tool, m)
		if err != nil {
			return res, fmt.Errorf("extract %s: %w", m.Name, err)
		}
		res.PromptTokens += tokens
		applied, err := Apply(m, raw, e.logger())
		e.record(m.Name, raw, err)
		if err != nil {
			res.ParseFailures++
			e.logger().Warn("constraint output unparseable", "tool", tool.Name, "method", m.Name, "error", err)
			continue
		}
		res.UnknownKeys += applied.UnknownKeys
		res.Constrained += applied.Constrained
	}
	return res, nil
}

func (e *Extractor) cached(method string) (string, bool) {
	if e.Cache == nil {
		return "", false
	}
	return e.Cache.Get(method)
}

// record stores raw as usable, or as failed when parsing returned parseErr.
func (e *Extractor) record(method, raw string, parseErr error) {
	if e.Cache == nil {
		return
	}
	var err error
	if parseErr != nil {
		err = e.Cache.Fail(method, raw, parseErr)
	} else {
		err = e.Cache.Put(method, raw)
	}
	if err != nil {
		e.logger().Warn("cache write failed", "method", method, "error", err)
	}
}

func (e *Extractor) call(ctx context.Context, tool *types.ToolSpec, m *types.APIMethod) (string, int, error) {
	msgs, err := BuildMessages(tool, m, e.DescriptionLimit)
	if err != nil {
		return "", 0, err
	}
	raw, err := e.LLM.Complete(ctx, llm.Request{
		Messages:    msgs,
		Temperature: e.Temperature,
		MaxTokens:   e.MaxTokens,
		Model:       e.Model,
	})
	if err != nil {
		return "", 0, err
	}
	return raw, llm.EstimateMessages(msgs), nil
}

// Applied reports the outcome of attaching one completion to a method.
type Applied struct {
	Constrained int
	UnknownKeys int
}

// Apply decodes a completion keyed by parameter name and attaches the non-empty
// constraints to m. Keys outside the taxonomy are dropped; a malformed entry for one
// parameter leaves only that parameter unconstrained.
func Apply(m *types.APIMethod, raw string, logger *slog.Logger) (Applied, error) {
	var out Applied
	if logger == nil {
		logger = slog.Default()
	}
	var byName map[string]json.RawMessage
	if err := llm.DecodeJSON(raw, &byName); err != nil {
		return out, err
	}
	for i := range m.Parameters {
		p := &m.Parameters[i]
		p.Constraints = nil
		data, ok := byName[p.Name]
		if !ok {
			continue
		}
		c, unknown, err := types.DecodeConstraint(data)
		if err != nil {
			logger.Warn("constraint dropped", "method", m.Name, "param", p.Name, "error", err)
			continue
		}
		if len(unknown) > 0 {
			out.UnknownKeys += len(unknown)
			logger.Debug("unknown constraint keys dropped", "method", m.Name, "param", p.Name, "keys", unknown)
		}
		if err := c.Validate(); err != nil {
			logger.Warn("constraint values dropped", "method", m.Name, "param", p.Name, "error", err)
			c.Values = nil
		}
		if c.Empty() {
			continue
		}
		p.Constraints = c
		out.Constrained++
	}
	return out, nil
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
