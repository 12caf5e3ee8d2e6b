package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/yourorg/capgen/internal/artifact"
	"github.com/yourorg/capgen/internal/checker"
	"github.com/yourorg/capgen/internal/config"
	"github.com/yourorg/capgen/internal/extractor"
	"github.com/yourorg/capgen/internal/generator"
	"github.com/yourorg/capgen/internal/judge"
	"github.com/yourorg/capgen/internal/llm"
	"github.com/yourorg/capgen/internal/metrics"
	"github.com/yourorg/capgen/internal/pipeline"
	"github.com/yourorg/capgen/internal/store"
)

// app is everything one command invocation needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
}

// needs selects the validation a command runs before it starts.
type needs int

const (
	needsNothing needs = iota
	needsSource
	needsLLM
)

func newApp(flags *rootFlags, stderr io.Writer, n needs) (*app, error) {
	cfg, err := config.Load(flags.cfgPath)
	if err != nil {
		return nil, err
	}
	switch n {
	case needsLLM:
		err = cfg.ValidateLLM()
	default:
		err = cfg.Validate()
	}
	if err != nil {
		return nil, err
	}
	if n == needsSource {
		if err := cfg.ValidateSource(); err != nil {
			return nil, err
		}
	}
	logger, err := newLogger(cfg.Log, flags.verbose, stderr)
	if err != nil {
		return nil, err
	}
	logger = logger.With("run", uuid.NewString())

	st, err := store.NewSQLiteStore(cfg.Data.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	m := metrics.New()

	client := &llm.Client{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		HTTPClient: &http.Client{Timeout: cfg.LLM.Timeout},
		MaxRetries: cfg.LLM.MaxRetries,
		RetryDelay: cfg.LLM.RetryDelay,
		Limiter:    llm.NewLimiter(cfg.LLM.RequestsPerMinute),
		Logger:     logger,
		Metrics:    m,
	}
	judgeModel := cfg.Judge.Model
	if judgeModel == "" {
		judgeModel = cfg.LLM.Model
	}

	p := &pipeline.Pipeline{
		Store:     st,
		Artifacts: artifact.Dir{Root: cfg.Data.OutputDir},
		Extractor: &extractor.Extractor{
			LLM:              client,
			Model:            orDefault(cfg.Extraction.Model, cfg.LLM.Model),
			Temperature:      cfg.Extraction.Temperature,
			MaxTokens:        cfg.Extraction.MaxTokens,
			DescriptionLimit: cfg.Extraction.DescriptionLimit,
		},
		Generator: &generator.Generator{
			LLM:              client,
			Model:            orDefault(cfg.Generation.Model, cfg.LLM.Model),
			Count:            cfg.Generation.Utterances,
			Temperature:      cfg.Generation.Temperature,
			MaxTokens:        cfg.Generation.MaxTokens,
			DescriptionLimit: cfg.Extraction.DescriptionLimit,
		},
		Checker:  checker.New(),
		Judge:    &judge.Judge{LLM: client, Model: judgeModel, MaxTokens: cfg.Judge.MaxTokens},
		Sanitize: cfg.Sanitize,
		Metrics:  m,
		Logger:   logger,
	}
	if !flags.quiet {
		p.Progress = stderr
	}
	return &app{cfg: cfg, logger: logger, store: st, metrics: m, pipeline: p}, nil
}

// Close flushes the metrics textfile and closes the ledger.
func (a *app) Close() error {
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("metrics textfile not written", "path", a.cfg.Metrics.Textfile, "error", err)
	}
	return a.store.Close()
}

func newLogger(c config.LogConfig, verbose bool, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch c.Format {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
