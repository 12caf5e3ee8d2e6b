// Package pipeline runs the batch stages over a set of tools: extraction,
// generation, adherence checking and evaluation. Tools are processed one at a
// time; a completed tool is recorded in the ledger and skipped on the next run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/yourorg/capgen/internal/artifact"
	"github.com/yourorg/capgen/internal/checker"
	"github.com/yourorg/capgen/internal/config"
	"github.com/yourorg/capgen/internal/coverage"
	"github.com/yourorg/capgen/internal/extractor"
	"github.com/yourorg/capgen/internal/filter"
	"github.com/yourorg/capgen/internal/generator"
	"github.com/yourorg/capgen/internal/judge"
	"github.com/yourorg/capgen/internal/metrics"
	"github.com/yourorg/capgen/internal/source"
	"github.com/yourorg/capgen/internal/store"
	"github.com/yourorg/capgen/internal/ui"
	"github.com/yourorg/capgen/pkg/types"
)

// Stage names shared by the ledger, the completion cache and metric labels.
const (
	StageExtract  = "extract"
	StageGenerate = "generate"
	StageCheck    = "check"
	StageJudge    = "judge"
)

// SelectionKey is the file under the output directory listing selected tool keys.
const SelectionKey = "selection.json"

// Tool outcomes used as metric labels.
const (
	outcomeDone    = "done"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// Pipeline wires the stage components to the ledger and the artifact directory.
// Extractor, Generator and Judge are templates: their Cache and Logger are set per tool.
type Pipeline struct {
	Store     store.Store
	Artifacts artifact.Dir
	Extractor *extractor.Extractor
	Generator *generator.Generator
	Checker   *checker.Checker
	Judge     *judge.Judge
	Sanitize  config.SanitizeConfig
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Progress receives a progress bar per stage when set.
	Progress io.Writer
	// NoCache drops stored completions before a tool is processed.
	NoCache bool
	// Force reprocesses tools the ledger marks as done.
	Force bool
}

// Failure is one tool that could not be processed.
type Failure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Summary is the batch-level outcome of one stage.
type Summary struct {
	Stage         string           `json:"stage"`
	Tools         int              `json:"tools"`
	Processed     int              `json:"processed"`
	Skipped       int              `json:"skipped"`
	Failures      []Failure        `json:"failures,omitempty"`
	Methods       int              `json:"methods"`
	Cached        int              `json:"cached"`
	ParseFailures int              `json:"parse_failures"`
	Utterances    int              `json:"utterances"`
	PromptTokens  int              `json:"prompt_tokens"`
	Violations    checker.Report   `json:"violations"`
	Coverage      coverage.Summary `json:"coverage"`
	Naturalness   judge.Result     `json:"naturalness"`
}

// ToolReport is the per-tool outcome of the check stage, stored under artifact.Reports.
type ToolReport struct {
	Key        string           `json:"key"`
	Tool       string           `json:"tool"`
	Violations checker.Report   `json:"violations"`
	Coverage   coverage.Summary `json:"coverage"`
}

// Select loads every entry, applies the quality gates and keeps the top tools per
// category. The selected keys are written to SelectionKey.
func (p *Pipeline) Select(entries []source.Entry, cfg config.SelectConfig) ([]source.Entry, []filter.Rejection, error) {
	byKey := make(map[string]source.Entry, len(entries))
	var cands []filter.Candidate
	var rejected []filter.Rejection
	for _, e := range entries {
		tool, err := source.Load(e)
		if err != nil {
			p.logger().Warn("tool rejected", "key", e.Key, "error", err)
			rejected = append(rejected, filter.Rejection{Key: e.Key, Reason: err.Error()})
			continue
		}
		byKey[e.Key] = e
		cands = append(cands, filter.Candidate{Entry: e, Tool: tool})
	}
	kept, dropped := filter.Select(cands, cfg)
	rejected = append(rejected, dropped...)

	out := make([]source.Entry, 0, len(kept))
	keys := make([]string, 0, len(kept))
	for _, c := range kept {
		out = append(out, byKey[c.Entry.Key])
		keys = append(keys, c.Entry.Key)
	}
	if err := p.Artifacts.WriteValue("", SelectionKey, keys); err != nil {
		return nil, nil, err
	}
	return out, rejected, nil
}

// Selected filters entries down to the stored selection. Without a selection file
// every entry is returned.
func (p *Pipeline) Selected(entries []source.Entry) ([]source.Entry, error) {
	var keys []string
	if err := p.Artifacts.ReadValue("", SelectionKey, &keys); err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return entries, nil
		}
		return nil, err
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	out := make([]source.Entry, 0, len(keys))
	for _, e := range entries {
		if _, ok := set[e.Key]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Extract writes a constraints artifact for every entry.
func (p *Pipeline) Extract(ctx context.Context, entries []source.Entry) (Summary, error) {
	if p.Extractor == nil {
		return Summary{}, errors.New("extractor is not configured")
	}
	sum := Summary{Stage: StageExtract, Tools: len(entries)}
	bar := p.bar(StageExtract, len(entries))
	defer bar.Finish()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		bar.Step(e.Key)
		if p.done(StageExtract, e.Key, artifact.Constraints) {
			p.skip(&sum, e.Key)
			continue
		}
		tool, err := source.Load(e)
		if err != nil {
			p.fail(&sum, e.Key, p.Extractor.Model, err)
			continue
		}
		tool = filter.Sanitize(tool, p.Sanitize)

		cache, err := p.cache(e.Key, StageExtract, p.Extractor.Model)
		if err != nil {
			return sum, err
		}
		ex := *p.Extractor
		ex.Cache = cache
		ex.Logger = p.logger().With("tool", e.Key)
		res, err := ex.Extract(ctx, tool)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			p.fail(&sum, e.Key, ex.Model, err)
			continue
		}
		if err := p.Artifacts.Write(artifact.Constraints, e.Key, tool); err != nil {
			return sum, err
		}
		if err := p.finish(&sum, e.Key, ex.Model, res.Methods, res.ParseFailures); err != nil {
			return sum, err
		}
		sum.Cached += res.Cached
		sum.PromptTokens += res.PromptTokens
		p.logger().Info("constraints extracted", "key", e.Key, "methods", res.Methods, "constrained", res.Constrained,
			"parse_failures", res.ParseFailures, "cached", res.Cached)
	}
	return sum, nil
}

// Generate writes an utterances artifact for every key with a constraints artifact.
func (p *Pipeline) Generate(ctx context.Context, keys []string) (Summary, error) {
	if p.Generator == nil {
		return Summary{}, errors.New("generator is not configured")
	}
	sum := Summary{Stage: StageGenerate, Tools: len(keys)}
	bar := p.bar(StageGenerate, len(keys))
	defer bar.Finish()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		bar.Step(key)
		if p.done(StageGenerate, key, artifact.Utterances) {
			p.skip(&sum, key)
			continue
		}
		tool, err := p.Artifacts.Read(artifact.Constraints, key)
		if err != nil {
			p.fail(&sum, key, p.Generator.Model, err)
			continue
		}
		cache, err := p.cache(key, StageGenerate, p.Generator.Model)
		if err != nil {
			return sum, err
		}
		gen := *p.Generator
		gen.Cache = cache
		gen.Logger = p.logger().With("tool", key)
		gen.OnProgress = func(s string) { bar.Describe(key + " " + s) }
		res, err := gen.Generate(ctx, tool)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			p.fail(&sum, key, gen.Model, err)
			continue
		}
		if err := p.Artifacts.Write(artifact.Utterances, key, tool); err != nil {
			return sum, err
		}
		if err := p.finish(&sum, key, gen.Model, res.Methods, res.ParseFailures); err != nil {
			return sum, err
		}
		sum.Cached += res.Cached
		sum.Utterances += res.Utterances
		sum.PromptTokens += res.PromptTokens
		p.logger().Info("utterances generated", "key", key, "methods", res.Methods, "utterances", res.Utterances,
			"parse_failures", res.ParseFailures, "dropped_keys", res.Dropped)
	}
	return sum, nil
}

// Check replays each constraints artifact against the matching utterances artifact
// and stores a ToolReport. Reports are always recomputed.
func (p *Pipeline) Check(ctx context.Context, keys []string) (Summary, error) {
	chk := p.Checker
	if chk == nil {
		chk = checker.New()
	}
	sum := Summary{Stage: StageCheck, Tools: len(keys)}
	bar := p.bar(StageCheck, len(keys))
	defer bar.Finish()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		bar.Step(key)
		truth, err := p.Artifacts.Read(artifact.Constraints, key)
		if err != nil {
			p.fail(&sum, key, "", err)
			continue
		}
		cand, err := p.Artifacts.Read(artifact.Utterances, key)
		if err != nil {
			p.fail(&sum, key, "", err)
			continue
		}
		rep := chk.Check(truth, cand)
		cov := coverage.Tool(cand)
		tr := ToolReport{Key: key, Tool: cand.Name, Violations: rep, Coverage: cov}
		if err := p.Artifacts.WriteValue(artifact.Reports, key, tr); err != nil {
			return sum, err
		}
		if err := p.finish(&sum, key, "", len(cand.Methods)-rep.SkippedMethods, 0); err != nil {
			return sum, err
		}
		sum.Utterances += rep.Utterances
		sum.Violations.Add(rep)
		sum.Coverage.Merge(cov)
		p.Metrics.Violations(string(checker.CategoryValue), rep.Value)
		p.Metrics.Violations(string(checker.CategoryFormat), rep.Format)
		p.Metrics.Violations(string(checker.CategoryInterDependency), rep.InterDependency)
		p.Metrics.Violations("unverifiable", rep.Unverifiable)
		p.logger().Info("adherence checked", "key", key, "value", rep.Value, "format", rep.Format,
			"inter_dependency", rep.InterDependency, "unverifiable", rep.Unverifiable)
	}
	return sum, nil
}

// Evaluate computes coverage over the utterances artifacts and, when naturalness
// is set, asks the judge about every utterance.
func (p *Pipeline) Evaluate(ctx context.Context, keys []string, naturalness bool) (Summary, error) {
	if naturalness && p.Judge == nil {
		return Summary{}, errors.New("judge is not configured")
	}
	sum := Summary{Stage: StageJudge, Tools: len(keys)}
	bar := p.bar(StageJudge, len(keys))
	defer bar.Finish()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		bar.Step(key)
		tool, err := p.Artifacts.Read(artifact.Utterances, key)
		if err != nil {
			p.fail(&sum, key, "", err)
			continue
		}
		sum.Coverage.Merge(coverage.Tool(tool))
		if !naturalness {
			sum.Processed++
			continue
		}
		if p.done(StageJudge, key, artifact.Judgements) {
			var stored judge.Result
			if err := p.Artifacts.ReadValue(artifact.Judgements, key, &stored); err != nil {
				return sum, err
			}
			sum.Naturalness.Merge(stored)
			p.skip(&sum, key)
			continue
		}
		cache, err := p.cache(key, StageJudge, p.Judge.Model)
		if err != nil {
			return sum, err
		}
		j := *p.Judge
		j.Cache = cache
		j.Logger = p.logger().With("tool", key)
		res, err := j.Evaluate(ctx, tool)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			p.fail(&sum, key, j.Model, err)
			continue
		}
		if err := p.Artifacts.WriteValue(artifact.Judgements, key, res); err != nil {
			return sum, err
		}
		if err := p.finish(&sum, key, j.Model, len(res.Verdicts), res.Invalid); err != nil {
			return sum, err
		}
		sum.Naturalness.Merge(res)
	}
	return sum, nil
}

// Keys lists the tools that have an artifact of kind.
func (p *Pipeline) Keys(kind string) ([]string, error) {
	return p.Artifacts.Keys(kind)
}

func (p *Pipeline) done(stage, key, kind string) bool {
	if p.Force {
		return false
	}
	run, err := p.Store.GetRun(key, stage)
	if err != nil {
		p.logger().Warn("ledger read failed", "key", key, "stage", stage, "error", err)
		return false
	}
	return run != nil && run.Status == types.RunDone && p.Artifacts.Exists(kind, key)
}

func (p *Pipeline) cache(key, stage, model string) (*store.MethodCache, error) {
	if p.NoCache {
		if err := p.Store.ClearCaches(key, stage); err != nil {
			return nil, fmt.Errorf("clear cache %s: %w", key, err)
		}
	}
	return store.LoadMethodCache(p.Store, key, stage, model)
}

func (p *Pipeline) skip(sum *Summary, key string) {
	sum.Skipped++
	p.Metrics.Tool(sum.Stage, outcomeSkipped)
	p.logger().Debug("already done", "key", key, "stage", sum.Stage)
}

func (p *Pipeline) fail(sum *Summary, key, model string, cause error) {
	sum.Failures = append(sum.Failures, Failure{Key: key, Error: cause.Error()})
	p.Metrics.Tool(sum.Stage, outcomeFailed)
	p.logger().Error("tool failed", "key", key, "stage", sum.Stage, "error", cause)
	run := &types.Run{ToolKey: key, Stage: sum.Stage, Status: types.RunFailed, Model: model, ErrorMsg: cause.Error()}
	if err := p.Store.MarkRun(run); err != nil {
		p.logger().Warn("ledger write failed", "key", key, "error", err)
	}
}

func (p *Pipeline) finish(sum *Summary, key, model string, methods, parseFailures int) error {
	run := &types.Run{ToolKey: key, Stage: sum.Stage, Status: types.RunDone, Methods: methods, ParseFailures: parseFailures, Model: model}
	if err := p.Store.MarkRun(run); err != nil {
		return fmt.Errorf("mark %s %s: %w", sum.Stage, key, err)
	}
	sum.Processed++
	sum.Methods += methods
	sum.ParseFailures += parseFailures
	p.Metrics.Tool(sum.Stage, outcomeDone)
	p.Metrics.MethodsProcessed(sum.Stage, methods)
	p.Metrics.ParseFailures(sum.Stage, parseFailures)
	return nil
}

func (p *Pipeline) bar(stage string, total int) *ui.Progress {
	if p.Progress == nil || total == 0 {
		return nil
	}
	return ui.NewProgress(p.Progress, stage, total)
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
