package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/capgen/internal/checker"
	"github.com/yourorg/capgen/internal/coverage"
	"github.com/yourorg/capgen/internal/judge"
	"github.com/yourorg/capgen/internal/pipeline"
)

func sampleReports() []pipeline.ToolReport {
	return []pipeline.ToolReport{
		{
			Key:  "Travel/hotels.json",
			Tool: "Hotels",
			Violations: checker.Report{Value: 1, Utterances: 4, Violations: []checker.Violation{{
				Method: "search", Utterance: 0, Text: "rooms for 6", Category: checker.CategoryValue, Param: "adults", Detail: "6 above max 4",
			}}},
			Coverage: coverage.Summary{Methods: 1, ParameterMethods: 1, ParameterCoverage: 1, Combinations: 3},
		},
		{
			Key:        "Finance/fx.json",
			Tool:       "FX",
			Violations: checker.Report{InterDependency: 2, Unverifiable: 1, Utterances: 6},
			Coverage:   coverage.Summary{Methods: 2, ParameterMethods: 2, ParameterCoverage: 0.5, Combinations: 4},
		},
	}
}

func TestBuildTotals(t *testing.T) {
	b := Build(sampleReports(), &judge.Result{Natural: 3, Unnatural: 1})
	if b.Rows[0].Key != "Finance/fx.json" {
		t.Fatalf("rows not sorted: %+v", b.Rows)
	}
	tot := b.Totals
	if tot.Tools != 2 || tot.Utterances != 10 || tot.Value != 1 || tot.InterDependency != 2 || tot.Unverifiable != 1 || tot.Combinations != 7 {
		t.Fatalf("totals = %+v", tot)
	}
	// weighted by methods with parameters: (1*1 + 0.5*2) / 3
	if tot.ParameterCoverage < 0.666 || tot.ParameterCoverage > 0.667 {
		t.Fatalf("coverage = %v", tot.ParameterCoverage)
	}
	if b.Naturalness == nil || b.Naturalness.Ratio != 0.75 {
		t.Fatalf("naturalness = %+v", b.Naturalness)
	}
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	b := Build(sampleReports(), nil)
	if err := b.WriteFiles(dir); err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	md, err := os.ReadFile(filepath.Join(dir, "report.md"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"| Travel/hotels.json | 4 | 1 | 0 | 0 | 0 | 1.00 | 3 |", "## Travel/hotels.json", "`search` #1 [value] adults: 6 above max 4"} {
		if !strings.Contains(string(md), want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(string(md), "Naturalness") {
		t.Fatalf("naturalness rendered without a judge run")
	}

	data, err := os.ReadFile(filepath.Join(dir, "report.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Totals Totals `yaml:"totals"`
		Rows   []Row  `yaml:"tools"`
	}
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if decoded.Totals.Utterances != 10 || len(decoded.Rows) != 2 {
		t.Fatalf("decoded = %+v", decoded)
	}
}
