// Package report renders run results for people: a Markdown table per tool and a
// YAML summary for downstream evaluation scripts.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/capgen/internal/checker"
	"github.com/yourorg/capgen/internal/coverage"
	"github.com/yourorg/capgen/internal/judge"
	"github.com/yourorg/capgen/internal/pipeline"
)

// Batch is the rendered view of a set of tool reports.
type Batch struct {
	Tools       []pipeline.ToolReport `yaml:"-"`
	Totals      Totals                `yaml:"totals"`
	Rows        []Row                 `yaml:"tools"`
	Naturalness *Naturalness          `yaml:"naturalness,omitempty"`
}

// Totals sums every tool.
type Totals struct {
	Tools             int     `yaml:"tools"`
	Utterances        int     `yaml:"utterances"`
	Value             int     `yaml:"value_violations"`
	Format            int     `yaml:"format_violations"`
	InterDependency   int     `yaml:"inter_dependency_violations"`
	Unverifiable      int     `yaml:"unverifiable"`
	ParameterCoverage float64 `yaml:"parameter_coverage"`
	Combinations      int     `yaml:"combinations"`
}

// Row is one tool line.
type Row struct {
	Key               string  `yaml:"key"`
	Tool              string  `yaml:"tool"`
	Utterances        int     `yaml:"utterances"`
	Value             int     `yaml:"value"`
	Format            int     `yaml:"format"`
	InterDependency   int     `yaml:"inter_dependency"`
	Unverifiable      int     `yaml:"unverifiable"`
	ParameterCoverage float64 `yaml:"parameter_coverage"`
	Combinations      int     `yaml:"combinations"`
}

type Naturalness struct {
	Natural   int     `yaml:"natural"`
	Unnatural int     `yaml:"unnatural"`
	Invalid   int     `yaml:"invalid"`
	Ratio     float64 `yaml:"ratio"`
}

// Build orders reports by key and computes the totals.
func Build(reports []pipeline.ToolReport, nat *judge.Result) *Batch {
	sorted := append([]pipeline.ToolReport(nil), reports...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	b := &Batch{Tools: sorted}
	var all checker.Report
	var cov coverage.Summary
	for _, r := range sorted {
		all.Add(r.Violations)
		cov.Merge(r.Coverage)
		b.Rows = append(b.Rows, Row{
			Key:               r.Key,
			Tool:              r.Tool,
			Utterances:        r.Violations.Utterances,
			Value:             r.Violations.Value,
			Format:            r.Violations.Format,
			InterDependency:   r.Violations.InterDependency,
			Unverifiable:      r.Violations.Unverifiable,
			ParameterCoverage: r.Coverage.ParameterCoverage,
			Combinations:      r.Coverage.Combinations,
		})
	}
	b.Totals = Totals{
		Tools:             len(sorted),
		Utterances:        all.Utterances,
		Value:             all.Value,
		Format:            all.Format,
		InterDependency:   all.InterDependency,
		Unverifiable:      all.Unverifiable,
		ParameterCoverage: cov.ParameterCoverage,
		Combinations:      cov.Combinations,
	}
	if nat != nil && nat.Natural+nat.Unnatural+nat.Invalid > 0 {
		b.Naturalness = &Naturalness{Natural: nat.Natural, Unnatural: nat.Unnatural, Invalid: nat.Invalid, Ratio: nat.Ratio()}
	}
	return b
}

// WriteMarkdown renders the summary table followed by the violation details of each tool.
func (b *Batch) WriteMarkdown(w io.Writer) error {
	sb := &strings.Builder{}
	fmt.Fprintln(sb, "# Constraint adherence")
	fmt.Fprintln(sb)
	t := b.Totals
	fmt.Fprintf(sb, "- Tools: %d\n- Utterances: %d\n", t.Tools, t.Utterances)
	fmt.Fprintf(sb, "- Violations: value %d, format %d, inter-dependency %d\n", t.Value, t.Format, t.InterDependency)
	fmt.Fprintf(sb, "- Unverifiable checks: %d\n", t.Unverifiable)
	fmt.Fprintf(sb, "- Parameter coverage: %.2f\n- Parameter combinations: %d\n", t.ParameterCoverage, t.Combinations)
	if n := b.Naturalness; n != nil {
		fmt.Fprintf(sb, "- Naturalness: %d natural, %d unnatural, %d invalid (%.2f)\n", n.Natural, n.Unnatural, n.Invalid, n.Ratio)
	}

	fmt.Fprintln(sb)
	fmt.Fprintln(sb, "| Tool | Utterances | Value | Format | Inter-dependency | Unverifiable | Coverage | Combinations |")
	fmt.Fprintln(sb, "|---|---|---|---|---|---|---|---|")
	for _, r := range b.Rows {
		fmt.Fprintf(sb, "| %s | %d | %d | %d | %d | %d | %.2f | %d |\n",
			escapeCell(r.Key), r.Utterances, r.Value, r.Format, r.InterDependency, r.Unverifiable, r.ParameterCoverage, r.Combinations)
	}

	for _, tr := range b.Tools {
		if len(tr.Violations.Violations) == 0 {
			continue
		}
		fmt.Fprintf(sb, "\n## %s\n\n", tr.Key)
		for _, v := range tr.Violations.Violations {
			subject := v.Param
			if subject == "" {
				subject = v.Rule
			}
			fmt.Fprintf(sb, "- `%s` #%d [%s] %s: %s\n  > %s\n", v.Method, v.Utterance+1, v.Category, subject, v.Detail, v.Text)
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// YAML renders the totals and per-tool rows.
func (b *Batch) YAML() ([]byte, error) {
	return yaml.Marshal(b)
}

// WriteFiles writes report.md and report.yaml into dir.
func (b *Batch) WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	md := &strings.Builder{}
	if err := b.WriteMarkdown(md); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(md.String()), 0o644); err != nil {
		return err
	}
	data, err := b.YAML()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "report.yaml"), data, 0o644)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
