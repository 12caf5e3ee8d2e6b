package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourorg/capgen/internal/artifact"
	"github.com/yourorg/capgen/pkg/types"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "output")
	cfg := filepath.Join(dir, "config.yaml")
	body := "data:\n  output_dir: " + out + "\n  docs_dir: " + filepath.Join(dir, "docs") + "\nlog:\n  level: warn\n"
	if err := os.WriteFile(cfg, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfg, out
}

func TestInitAndRuns(t *testing.T) {
	cfg, out := writeConfig(t)
	stdout, err := run(t, "--config", cfg, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(stdout, "exists") || !strings.Contains(stdout, "database ready") {
		t.Fatalf("init output = %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(out, "capgen.db")); err != nil {
		t.Fatalf("ledger not created: %v", err)
	}

	stdout, err = run(t, "--config", cfg, "runs")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.HasPrefix(stdout, "TOOL") {
		t.Fatalf("runs output = %q", stdout)
	}
}

func TestExportWorkbook(t *testing.T) {
	cfg, out := writeConfig(t)
	dir := artifact.Dir{Root: out}
	tool := &types.ToolSpec{Name: "Hotels", Methods: []types.APIMethod{{
		Name: "search",
		Utterances: &types.UtteranceSet{Items: []types.GeneratedUtterance{
			{Utterance: "hotels in Rome", Parameters: map[string]any{"city": "Rome"}},
		}},
	}}}
	if err := dir.Write(artifact.Utterances, "Travel/hotels.json", tool); err != nil {
		t.Fatal(err)
	}
	stdout, err := run(t, "--config", cfg, "--quiet", "export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(stdout, "1 utterances") {
		t.Fatalf("export output = %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(out, "annotations.xlsx")); err != nil {
		t.Fatalf("workbook missing: %v", err)
	}
}

func TestExtractNeedsAPIKey(t *testing.T) {
	cfg, _ := writeConfig(t)
	t.Setenv("CAPGEN_LLM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := run(t, "--config", cfg, "--env-file", filepath.Join(t.TempDir(), "none.env"), "extract"); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("err = %v", err)
	}
}
