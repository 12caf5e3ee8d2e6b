package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/yourorg/capgen/internal/artifact"
	"github.com/yourorg/capgen/internal/checker"
	"github.com/yourorg/capgen/internal/config"
	"github.com/yourorg/capgen/internal/extractor"
	"github.com/yourorg/capgen/internal/generator"
	"github.com/yourorg/capgen/internal/judge"
	"github.com/yourorg/capgen/internal/llm"
	"github.com/yourorg/capgen/internal/metrics"
	"github.com/yourorg/capgen/internal/source"
	"github.com/yourorg/capgen/internal/store"
	"github.com/yourorg/capgen/pkg/types"
)

const hotelsDoc = `{
  "tool_name": "Hotels",
  "tool_description": "Search hotels around the world by city and guests",
  "home_url": "https://hotels.example",
  "score": {"popularityScore": 9.1},
  "api_list": [
    {
      "name": "search",
      "url": "https://hotels.example/search",
      "description": "find hotels",
      "required_parameters": [{"name": "city", "type": "STRING", "description": "city name", "default": "Rome"}],
      "optional_parameters": [
        {"name": "adults", "type": "NUMBER", "description": "number of adults"},
        {"name": "api_key", "type": "STRING", "description": "account key", "default": "sk-live-123"}
      ]
    },
    {"name": "status", "url": "https://hotels.example/status", "description": "service status", "required_parameters": [], "optional_parameters": []}
  ]
}`

const brokenDoc = `{"tool_name": "Broken", "tool_description": "a tool with a nameless parameter in it",
  "api_list": [{"name": "m", "required_parameters": [{"description": "no name"}]}]}`

const extractReply = "```json\n" + `{"adults": {"values": {"min": 1, "max": 4}}, "api_key": {"technical": true}}` + "\n```"

const searchReply = `[
  {"utterance": "hotels in Rome for 6 adults", "parameters": {"city": "Rome", "adults": 6, "api_key": "x"}},
  {"utterance": "hotels in Paris", "parameters": {"city": "Paris"}}
]`

const statusReply = `[{"utterance": "is the hotel service up?", "parameters": {}}]`

type countingLLM struct {
	mu    sync.Mutex
	calls int
	reply func(req llm.Request) string
	seen  []string
}

func (c *countingLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.seen = append(c.seen, req.Messages[len(req.Messages)-1].Content)
	return c.reply(req), nil
}

func (c *countingLLM) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fixture struct {
	p       *Pipeline
	entries []source.Entry
	ext     *countingLLM
	gen     *countingLLM
	out     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs", "Travel")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"hotels.json": hotelsDoc, "broken.json": brokenDoc} {
		if err := os.WriteFile(filepath.Join(docs, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := source.Walk(filepath.Join(dir, "docs"))
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	st, err := store.NewSQLiteStore(filepath.Join(dir, "capgen.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ext := &countingLLM{reply: func(llm.Request) string { return extractReply }}
	gen := &countingLLM{reply: func(req llm.Request) string {
		if strings.Contains(req.Messages[len(req.Messages)-1].Content, `"city"`) {
			return searchReply
		}
		return statusReply
	}}
	cfg := config.Default()
	out := filepath.Join(dir, "output")
	p := &Pipeline{
		Store:     st,
		Artifacts: artifact.Dir{Root: out},
		Extractor: &extractor.Extractor{LLM: ext, Model: "m", MaxTokens: 1000, DescriptionLimit: 4000},
		Generator: &generator.Generator{LLM: gen, Model: "m", Count: 2, MaxTokens: 3000},
		Checker:   checker.New(),
		Sanitize:  cfg.Sanitize,
		Metrics:   metrics.New(),
	}
	return &fixture{p: p, entries: entries, ext: ext, gen: gen, out: out}
}

func TestExtractIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sum, err := f.p.Extract(ctx, f.entries)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if sum.Processed != 1 || len(sum.Failures) != 1 || sum.Failures[0].Key != "Travel/broken.json" {
		t.Fatalf("summary = %+v", sum)
	}
	// the parameterless method makes no call
	if f.ext.count() != 1 || sum.Methods != 1 {
		t.Fatalf("calls = %d, methods = %d", f.ext.count(), sum.Methods)
	}
	if strings.Contains(f.ext.seen[0], "sk-live-123") {
		t.Fatalf("sensitive default reached the prompt")
	}

	tool, err := f.p.Artifacts.Read(artifact.Constraints, "Travel/hotels.json")
	if err != nil {
		t.Fatalf("read constraints: %v", err)
	}
	m, _ := tool.Method("search")
	if m.Parameters[1].Constraints == nil || *m.Parameters[1].Constraints.Values.Max != 4 {
		t.Fatalf("adults constraint = %+v", m.Parameters[1].Constraints)
	}
	if !m.Parameters[2].Technical() {
		t.Fatalf("api_key should be technical")
	}
	if status, _ := tool.Method("status"); status.Parameters != nil && len(status.Parameters) != 0 {
		t.Fatalf("status gained parameters")
	}

	again, err := f.p.Extract(ctx, f.entries)
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if f.ext.count() != 1 || again.Skipped != 1 || again.Processed != 0 {
		t.Fatalf("rerun not idempotent: calls=%d summary=%+v", f.ext.count(), again)
	}

	// a lost artifact is rebuilt from the completion cache
	if err := os.Remove(f.p.Artifacts.Path(artifact.Constraints, "Travel/hotels.json")); err != nil {
		t.Fatal(err)
	}
	rebuilt, err := f.p.Extract(ctx, f.entries)
	if err != nil {
		t.Fatalf("third Extract: %v", err)
	}
	if f.ext.count() != 1 || rebuilt.Processed != 1 || rebuilt.Cached != 1 {
		t.Fatalf("cache not reused: calls=%d summary=%+v", f.ext.count(), rebuilt)
	}

	f.p.NoCache = true
	f.p.Force = true
	if _, err := f.p.Extract(ctx, f.entries); err != nil {
		t.Fatalf("forced Extract: %v", err)
	}
	if f.ext.count() != 2 {
		t.Fatalf("no-cache run should call the model again, calls=%d", f.ext.count())
	}

	snap, err := f.p.Metrics.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap["capgen_tools_total"] == 0 {
		t.Fatalf("tool outcomes not recorded: %v", snap)
	}
}

func TestGenerateCheckEvaluate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.p.Extract(ctx, f.entries); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	keys, err := f.p.Keys(artifact.Constraints)
	if err != nil || len(keys) != 1 {
		t.Fatalf("keys = %v, %v", keys, err)
	}

	gen, err := f.p.Generate(ctx, keys)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Processed != 1 || gen.Utterances != 3 || f.gen.count() != 2 {
		t.Fatalf("generate summary = %+v calls=%d", gen, f.gen.count())
	}
	tool, err := f.p.Artifacts.Read(artifact.Utterances, keys[0])
	if err != nil {
		t.Fatalf("read utterances: %v", err)
	}
	search, _ := tool.Method("search")
	if _, ok := search.Utterances.Items[0].Parameters["api_key"]; ok {
		t.Fatalf("technical key kept in utterance")
	}
	if _, err := f.p.Generate(ctx, keys); err != nil || f.gen.count() != 2 {
		t.Fatalf("generate rerun: err=%v calls=%d", err, f.gen.count())
	}

	chk, err := f.p.Check(ctx, append(keys, "Travel/missing.json"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if chk.Violations.Value != 1 || chk.Violations.Total() != 1 || chk.Utterances != 3 {
		t.Fatalf("violations = %+v", chk.Violations)
	}
	if len(chk.Failures) != 1 {
		t.Fatalf("missing artifact should fail that tool only: %+v", chk.Failures)
	}
	var rep ToolReport
	if err := f.p.Artifacts.ReadValue(artifact.Reports, keys[0], &rep); err != nil {
		t.Fatalf("read report: %v", err)
	}
	if rep.Tool != "Hotels" || rep.Violations.Value != 1 || rep.Coverage.ParameterCoverage != 1 {
		t.Fatalf("report = %+v", rep)
	}

	ev, err := f.p.Evaluate(ctx, keys, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Coverage.ParameterMethods != 1 || ev.Coverage.ParameterCoverage != 1 {
		t.Fatalf("coverage = %+v", ev.Coverage)
	}
}

func TestEvaluateNaturalness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.p.Extract(ctx, f.entries); err != nil {
		t.Fatal(err)
	}
	keys := []string{"Travel/hotels.json"}
	if _, err := f.p.Generate(ctx, keys); err != nil {
		t.Fatal(err)
	}
	if _, err := f.p.Evaluate(ctx, keys, true); err == nil {
		t.Fatalf("expected error without a judge")
	}

	judgeLLM := &countingLLM{reply: func(req llm.Request) string {
		if strings.Contains(req.Messages[1].Content, "6 adults") {
			return "unnatural"
		}
		return "natural"
	}}
	f.p.Judge = &judge.Judge{LLM: judgeLLM, Model: "judge"}
	sum, err := f.p.Evaluate(ctx, keys, true)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sum.Naturalness.Natural != 2 || sum.Naturalness.Unnatural != 1 || judgeLLM.count() != 3 {
		t.Fatalf("naturalness = %+v calls=%d", sum.Naturalness, judgeLLM.count())
	}
	again, err := f.p.Evaluate(ctx, keys, true)
	if err != nil {
		t.Fatal(err)
	}
	if judgeLLM.count() != 3 || again.Skipped != 1 || again.Naturalness.Natural != 2 {
		t.Fatalf("stored verdicts not reused: calls=%d summary=%+v", judgeLLM.count(), again)
	}
}

func TestSelectWritesSelection(t *testing.T) {
	f := newFixture(t)
	all, err := f.p.Selected(f.entries)
	if err != nil || len(all) != 2 {
		t.Fatalf("without selection: %v, %v", all, err)
	}
	kept, rejected, err := f.p.Select(f.entries, config.Default().Select)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(kept) != 1 || kept[0].Key != "Travel/hotels.json" || len(rejected) != 1 {
		t.Fatalf("kept=%v rejected=%v", kept, rejected)
	}
	sel, err := f.p.Selected(f.entries)
	if err != nil || len(sel) != 1 {
		t.Fatalf("selection = %v, %v", sel, err)
	}
}

type failingLLM struct{}

func (failingLLM) Complete(context.Context, llm.Request) (string, error) {
	return "", errors.New("service unavailable")
}

func TestServiceErrorFailsToolOnly(t *testing.T) {
	f := newFixture(t)
	f.p.Extractor.LLM = failingLLM{}
	sum, err := f.p.Extract(context.Background(), f.entries)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(sum.Failures) != 2 || sum.Processed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	run, err := f.p.Store.GetRun("Travel/hotels.json", StageExtract)
	if err != nil || run == nil || run.Status != types.RunFailed {
		t.Fatalf("run = %+v, %v", run, err)
	}
}
