package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/a3tai/pdf-doc-classifier/internal/batch"
	"github.com/a3tai/pdf-doc-classifier/internal/config"
	"github.com/a3tai/pdf-doc-classifier/internal/export"
	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/a3tai/pdf-doc-classifier/internal/logging"
	"github.com/a3tai/pdf-doc-classifier/internal/mcp"
	"github.com/a3tai/pdf-doc-classifier/internal/metadata"
	"github.com/a3tai/pdf-doc-classifier/internal/metrics"
	"github.com/a3tai/pdf-doc-classifier/internal/pdf"
	"github.com/a3tai/pdf-doc-classifier/internal/suppliers"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// app wires the classifier and its collaborators for one run
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	metrics    *metrics.ClassifierMetrics
	store      *suppliers.Store
	classifier *intelligence.Classifier
	reader     *pdf.Reader
}

// run executes the configured mode, serving metrics alongside it when
// requested. It returns once the mode finishes or ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	// stdout carries the MCP protocol or the command output, so logs go to stderr
	logOut := stderr
	if cfg.IsServerMode() {
		logOut = stdout
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)
	if err != nil {
		return err
	}
	logger.Debug().Str("config", cfg.String()).Msg("starting")

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr, a.metrics.Handler(), logger)
		})
	}
	g.Go(func() error {
		defer cancel()
		return a.runMode(gctx, stdout)
	})
	return g.Wait()
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	rules, err := intelligence.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	arb, err := cfg.Arbitration()
	if err != nil {
		return nil, err
	}
	store, err := suppliers.Open(cfg.SuppliersDB, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open supplier database: %w", err)
	}

	m := metrics.New()
	classifier, err := intelligence.NewClassifier(arb, rules, store,
		intelligence.WithLogger(logger),
		intelligence.WithRecorder(m),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		store:      store,
		classifier: classifier,
		reader:     pdf.NewReader(cfg.MaxFileSize, logger),
	}, nil
}

func (a *app) runMode(ctx context.Context, stdout io.Writer) error {
	switch a.cfg.Mode {
	case config.ModeBatch:
		return a.runBatch(ctx, stdout)
	case config.ModeClassify:
		return a.runClassify(ctx, stdout)
	default:
		server, err := mcp.NewServer(a.cfg, mcp.Dependencies{
			Classifier: a.classifier,
			Suppliers:  a.store,
			Reader:     a.reader,
			Validator:  pdf.NewValidator(a.cfg.MaxFileSize, a.logger),
			Logger:     a.logger,
			Recorder:   a.metrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		return server.Run(ctx)
	}
}

// runBatch classifies the document directory and prints the summary as JSON
func (a *app) runBatch(ctx context.Context, stdout io.Writer) error {
	processor := batch.NewProcessor(batch.Config{
		Workers:     a.cfg.Workers,
		BatchSize:   a.cfg.BatchSize,
		DocTimeout:  a.cfg.DocTimeout,
		MaxFileSize: a.cfg.MaxFileSize,
		Recursive:   a.cfg.Recursive,
	}, a.classifier, a.reader, batch.WithLogger(a.logger), batch.WithRecorder(a.metrics))

	report, err := processor.ProcessDirectory(ctx, a.cfg.PDFDirectory)
	if err != nil {
		return err
	}

	if a.cfg.ExportPath != "" {
		if err := export.WriteFile(a.cfg.ExportPath, report); err != nil {
			return err
		}
		a.logger.Info().Str("path", a.cfg.ExportPath).Msg("report exported")
	}
	return writeJSON(stdout, report.Summary)
}

type classifyOutput struct {
	File           string                             `json:"file"`
	Classification *intelligence.ClassificationRecord `json:"classification"`
	Metadata       metadata.Metadata                  `json:"metadata"`
}

// runClassify classifies a single file and prints the record as JSON
func (a *app) runClassify(ctx context.Context, stdout io.Writer) error {
	path := a.cfg.File
	if !filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			path = filepath.Join(a.cfg.PDFDirectory, path)
		}
	}

	text, err := a.reader.ExtractText(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if text == "" {
		return fmt.Errorf("no extractable text in %s", path)
	}

	rec, classifyErr := a.classifier.Classify(ctx, intelligence.Input{Text: text, Geometry: a.reader.Geometry(path)})
	out := classifyOutput{
		File:           path,
		Classification: rec,
		Metadata:       metadata.NewExtractor(a.logger).Extract(text),
	}
	if err := writeJSON(stdout, out); err != nil {
		return err
	}
	return classifyErr
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// serveMetrics exposes /metrics until ctx is done
func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		return nil
	}
}
