package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourorg/capgen/internal/artifact"
	"github.com/yourorg/capgen/internal/export"
	"github.com/yourorg/capgen/internal/pipeline"
	"github.com/yourorg/capgen/internal/report"
	"github.com/yourorg/capgen/internal/server"
	"github.com/yourorg/capgen/internal/source"
)

type batchFlags struct {
	noCache bool
	force   bool
	keys    []string
}

func (b *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&b.noCache, "no-cache", false, "drop stored completions and call the model again")
	cmd.Flags().BoolVar(&b.force, "force", false, "reprocess tools the ledger marks as done")
	cmd.Flags().StringSliceVar(&b.keys, "key", nil, "restrict to these tool keys (<category>/<file>)")
}

func (b *batchFlags) apply(p *pipeline.Pipeline) {
	p.NoCache = b.noCache
	p.Force = b.force
}

func (b *batchFlags) filter(keys []string) []string {
	if len(b.keys) == 0 {
		return keys
	}
	want := make(map[string]struct{}, len(b.keys))
	for _, k := range b.keys {
		want[k] = struct{}{}
	}
	out := make([]string, 0, len(b.keys))
	for _, k := range keys {
		if _, ok := want[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func newSelectCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "select",
		Short: "Pick the most popular eligible tools per category",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr(), needsSource)
			if err != nil {
				return err
			}
			defer a.Close()
			entries, err := source.Walk(a.cfg.Data.DocsDir)
			if err != nil {
				return err
			}
			kept, rejected, err := a.pipeline.Select(entries, a.cfg.Select)
			if err != nil {
				return err
			}
			for _, r := range rejected {
				a.logger.Debug("tool not selected", "key", r.Key, "reason", r.Reason)
			}
			out := cmd.OutOrStdout()
			for _, e := range kept {
				fmt.Fprintln(out, e.Key)
			}
			fmt.Fprintf(out, "selected %d of %d tools\n", len(kept), len(entries))
			return nil
		},
	}
}

func newExtractCmd(flags *rootFlags) *cobra.Command {
	var bf batchFlags
	var all bool
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract parameter constraints from tool documentation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr(), needsLLM)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.ValidateSource(); err != nil {
				return err
			}
			bf.apply(a.pipeline)
			entries, err := source.Walk(a.cfg.Data.DocsDir)
			if err != nil {
				return err
			}
			if !all {
				if entries, err = a.pipeline.Selected(entries); err != nil {
					return err
				}
			}
			entries = filterEntries(entries, bf.filter(entryKeys(entries)))
			sum, err := a.pipeline.Extract(cmd.Context(), entries)
			printSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
	bf.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "ignore the stored selection and process every tool")
	return cmd
}

func newGenerateCmd(flags *rootFlags) *cobra.Command {
	var bf batchFlags
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate constraint-aware utterances for every extracted tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr(), needsLLM)
			if err != nil {
				return err
			}
			defer a.Close()
			bf.apply(a.pipeline)
			keys, err := a.pipeline.Keys(artifact.Constraints)
			if err != nil {
				return err
			}
			sum, err := a.pipeline.Generate(cmd.Context(), bf.filter(keys))
			printSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
	bf.register(cmd)
	return cmd
}

func newCheckCmd(flags *rootFlags) *cobra.Command {
	var bf batchFlags
	var reportDir string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Count constraint violations in the generated utterances",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr(), needsNothing)
			if err != nil {
				return err
			}
			defer a.Close()
			keys, err := a.pipeline.Keys(artifact.Utterances)
			if err != nil {
				return err
			}
			keys = bf.filter(keys)
			sum, err := a.pipeline.Check(cmd.Context(), keys)
			printSummary(cmd.OutOrStdout(), sum)
			if err != nil {
				return err
			}
			reports := make([]pipeline.ToolReport, 0, len(keys))
			for _, k := range keys {
				var rep pipeline.ToolReport
				if err := a.pipeline.Artifacts.ReadValue(artifact.Reports, k, &rep); err != nil {
					continue
				}
				reports = append(reports, rep)
			}
			if reportDir == "" {
				reportDir = a.cfg.Data.OutputDir
			}
			if err := report.Build(reports, nil).WriteFiles(reportDir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "report written to", filepath.Join(reportDir, "report.md"))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&bf.keys, "key", nil, "restrict to these tool keys (<category>/<file>)")
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "directory for report.md and report.yaml (default output dir)")
	return cmd
}

func newEvaluateCmd(flags *rootFlags) *cobra.Command {
	var bf batchFlags
	var naturalness bool
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compute coverage metrics and optionally judge naturalness",
		RunE: func(cmd *cobra.Command, args []string) error {
			n := needsNothing
			if naturalness {
				n = needsLLM
			}
			a, err := newApp(flags, cmd.ErrOrStderr(), n)
			if err != nil {
				return err
			}
			defer a.Close()
			bf.apply(a.pipeline)
			keys, err := a.pipeline.Keys(artifact.Utterances)
			if err != nil {
				return err
			}
			sum, err := a.pipeline.Evaluate(cmd.Context(), bf.filter(keys), naturalness)
			printSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
	bf.register(cmd)
	cmd.Flags().BoolVar(&naturalness, "naturalness", false, "ask the judge model to rate every utterance")
	return cmd
}

func newExportCmd(flags *rootFlags) *cobra.Command {
	var outPath string
	var keys []string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the manual annotation workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr(), needsNothing)
			if err != nil {
				return err
			}
			defer a.Close()
			bf := batchFlags{keys: keys}
			all, err := a.pipeline.Keys(artifact.Utterances)
			if err != nil {
				return err
			}
			wb, err := export.NewWorkbook()
			if err != nil {
				return err
			}
			defer wb.Close()
			for _, k := range bf.filter(all) {
				tool, err := a.pipeline.Artifacts.Read(artifact.Utterances, k)
				if err != nil {
					return err
				}
				if err := wb.AddTool(tool); err != nil {
					return err
				}
				var rep pipeline.ToolReport
				if err := a.pipeline.Artifacts.ReadValue(artifact.Reports, k, &rep); err == nil {
					if err := wb.AddViolations(k, rep.Violations.Violations); err != nil {
						return err
					}
				}
			}
			if outPath == "" {
				outPath = filepath.Join(a.cfg.Data.OutputDir, "annotations.xlsx")
			}
			if err := wb.SaveAs(outPath); err != nil {
				return err
			}
			u, v := wb.Rows()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d utterances, %d violations)\n", outPath, u, v)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "workbook path (default <output_dir>/annotations.xlsx)")
	cmd.Flags().StringSliceVar(&keys, "key", nil, "restrict to these tool keys (<category>/<file>)")
	return cmd
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run status, reports and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr(), needsNothing)
			if err != nil {
				return err
			}
			defer a.Close()
			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			srv, err := server.New(a.cfg, a.store, a.metrics, a.logger)
			if err != nil {
				return err
			}
			addr := net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port))
			a.logger.Info("serving", "addr", addr)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	cmd.Flags().IntVar(&port, "port", 3000, "server port")
	return cmd
}

func newRunsCmd(flags *rootFlags) *cobra.Command {
	var stage, del string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List or delete ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr(), needsNothing)
			if err != nil {
				return err
			}
			defer a.Close()
			if del != "" {
				if stage == "" {
					return fmt.Errorf("--delete needs --stage")
				}
				if err := a.store.DeleteRun(del, stage); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted", del, stage)
				return nil
			}
			runs, err := a.store.ListRuns(stage)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOOL\tSTAGE\tSTATUS\tMETHODS\tPARSE FAILURES\tMODEL\tUPDATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n", r.ToolKey, r.Stage, r.Status, r.Methods, r.ParseFailures, r.Model, r.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "filter by stage (extract, generate, check, judge)")
	cmd.Flags().StringVar(&del, "delete", "", "delete the ledger row and cached completions of this tool key")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printSummary(w io.Writer, s pipeline.Summary) {
	fmt.Fprintf(w, "%s: %d tools, %d processed, %d skipped, %d failed\n", s.Stage, s.Tools, s.Processed, s.Skipped, len(s.Failures))
	switch s.Stage {
	case pipeline.StageExtract, pipeline.StageGenerate:
		fmt.Fprintf(w, "methods %d (cached %d), parse failures %d, utterances %d, ~%d prompt tokens\n",
			s.Methods, s.Cached, s.ParseFailures, s.Utterances, s.PromptTokens)
	case pipeline.StageCheck:
		v := s.Violations
		fmt.Fprintf(w, "utterances %d: value %d, format %d, inter-dependency %d, unverifiable %d\n",
			v.Utterances, v.Value, v.Format, v.InterDependency, v.Unverifiable)
		fmt.Fprintf(w, "parameter coverage %.2f, combinations %d\n", s.Coverage.ParameterCoverage, s.Coverage.Combinations)
	case pipeline.StageJudge:
		fmt.Fprintf(w, "parameter coverage %.2f, combinations %d\n", s.Coverage.ParameterCoverage, s.Coverage.Combinations)
		if n := s.Naturalness; n.Natural+n.Unnatural+n.Invalid > 0 {
			fmt.Fprintf(w, "naturalness: %d natural, %d unnatural, %d invalid (%.2f)\n", n.Natural, n.Unnatural, n.Invalid, n.Ratio())
		}
	}
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  failed %s: %s\n", f.Key, f.Error)
	}
}

func entryKeys(entries []source.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

func filterEntries(entries []source.Entry, keys []string) []source.Entry {
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
	return out
}
