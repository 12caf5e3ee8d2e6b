package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourorg/capgen/internal/llm"
	"github.com/yourorg/capgen/internal/planner"
	"github.com/yourorg/capgen/pkg/types"
)

// ProgressFunc reports generation progress.
type ProgressFunc func(stage string)

// Generator writes utterances for every method of a constrained tool.
type Generator struct {
	LLM              llm.Completer
	Model            string
	Count            int
	Temperature      float64
	MaxTokens        int
	DescriptionLimit int
	Cache            llm.Cache
	Logger           *slog.Logger
	OnProgress       ProgressFunc
}

// Result counts what happened to one tool.
type Result struct {
	Methods       int
	Cached        int
	ParseFailures int
	// PromptTokens estimates the prompt size of the calls actually sent.
	PromptTokens int
	Utterances    int
	// Dropped counts parameter keys removed from outputs: technical or undeclared names.
	Dropped int
}

// Generate attaches an UtteranceSet to every method of tool. Unparseable output
// stores the failure sentinel for that method and generation moves on; service
// errors abort the tool.
func (g *Generator) Generate(ctx context.Context, tool *types.ToolSpec) (Result, error) {
	var res Result
	if tool == nil {
		return res, errors.New("tool is nil")
	}
	count := g.Count
	if count <= 0 {
		count = 10
	}
	for i := range tool.Methods {
		m := &tool.Methods[i]
		report(g.OnProgress, fmt.Sprintf("method %d/%d: %s", i+1, len(tool.Methods), m.Name))
		res.Methods++
		if raw, ok := g.cached(m.Name); ok {
			set, dropped, err := Parse(raw, *m)
			if err == nil {
				res.Cached++
				m.Utterances = set
				res.Utterances += len(set.Items)
				res.Dropped += dropped
				continue
			}
			g.logger().Info("cached utterance output unparseable, asking again", "tool", tool.Name, "method", m.Name, "error", err)
		}
		raw, tokens, err := g.call(ctx, tool, *m, count)
		if err != nil {
			return res, fmt.Errorf("generate %s: %w", m.Name, err)
		}
		res.PromptTokens += tokens
		set, dropped, err := Parse(raw, *m)
		g.record(m.Name, raw, err)
		if err != nil {
			res.ParseFailures++
			m.Utterances = types.FailedSet()
			g.logger().Warn("utterance output unparseable", "tool", tool.Name, "method", m.Name, "error", err)
			continue
		}
		m.Utterances = set
		res.Utterances += len(set.Items)
		res.Dropped += dropped
	}
	return res, nil
}

func (g *Generator) cached(method string) (string, bool) {
	if g.Cache == nil {
		return "", false
	}
	return g.Cache.Get(method)
}

// record stores raw as usable, or as failed when parsing returned parseErr.
func (g *Generator) record(method, raw string, parseErr error) {
	if g.Cache == nil {
		return
	}
	var err error
	if parseErr != nil {
		err = g.Cache.Fail(method, raw, parseErr)
	} else {
		err = g.Cache.Put(method, raw)
	}
	if err != nil {
		g.logger().Warn("cache write failed", "method", method, "error", err)
	}
}

func (g *Generator) call(ctx context.Context, tool *types.ToolSpec, m types.APIMethod, count int) (string, int, error) {
	plan := planner.Build(m, count)
	msgs, err := BuildMessages(tool, m, plan, count, g.DescriptionLimit)
	if err != nil {
		return "", 0, err
	}
	raw, err := g.LLM.Complete(ctx, llm.Request{
		Messages:    msgs,
		Temperature: g.Temperature,
		MaxTokens:   g.MaxTokens,
		Model:       g.Model,
	})
	if err != nil {
		return "", 0, err
	}
	return raw, llm.EstimateMessages(msgs), nil
}

// Parse decodes a completion into utterances for m. Technical and undeclared
// parameter keys are removed and counted. A bare list and a {"utterances": [...]}
// wrapper are both accepted; anything partial is an error.
func Parse(raw string, m types.APIMethod) (*types.UtteranceSet, int, error) {
	var items []types.GeneratedUtterance
	if err := llm.DecodeJSON(raw, &items); err != nil {
		var wrapped struct {
			Utterances []types.GeneratedUtterance `json:"utterances"`
		}
		if err2 := llm.DecodeJSON(raw, &wrapped); err2 != nil || wrapped.Utterances == nil {
			return nil, 0, err
		}
		items = wrapped.Utterances
	}
	declared := make(map[string]bool, len(m.Parameters))
	for _, p := range m.Parameters {
		declared[p.Name] = !p.Technical()
	}
	dropped := 0
	for i := range items {
		for name := range items[i].Parameters {
			if !declared[name] {
				delete(items[i].Parameters, name)
				dropped++
			}
		}
	}
	if items == nil {
		items = []types.GeneratedUtterance{}
	}
	return &types.UtteranceSet{Items: items}, dropped, nil
}

func report(fn ProgressFunc, stage string) {
	if fn != nil {
		fn(stage)
	}
}

func (g *Generator) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}
