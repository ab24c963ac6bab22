// Package batch classifies every PDF in a directory with a bounded worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/a3tai/pdf-doc-classifier/internal/metadata"
	"github.com/go-pkgz/pool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is the outcome of processing a single document
type Status string

const (
	StatusClassified Status = "classified"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
)

// ErrNoDocuments is returned when a directory holds no eligible PDF files
var ErrNoDocuments = errors.New("no pdf documents found")

// DocumentClassifier classifies extracted document content
type DocumentClassifier interface {
	Classify(ctx context.Context, in intelligence.Input) (*intelligence.ClassificationRecord, error)
}

// TextSource supplies text and layout for a PDF path
type TextSource interface {
	ExtractText(ctx context.Context, path string) (string, error)
	Geometry(path string) intelligence.GeometrySource
}

// Recorder receives per-document outcomes
type Recorder interface {
	ObserveDocument(status string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDocument(string) {}

// Config controls discovery and concurrency
type Config struct {
	Workers     int
	BatchSize   int
	DocTimeout  time.Duration
	MaxFileSize int64
	Recursive   bool
}

// DefaultConfig returns the settings used when none are configured
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		BatchSize:   1,
		DocTimeout:  30 * time.Second,
		MaxFileSize: 50 * 1024 * 1024,
	}
}

// DocumentResult is the outcome for one file
type DocumentResult struct {
	ID             string                             `json:"id"`
	Path           string                             `json:"path"`
	FileName       string                             `json:"filename"`
	Status         Status                             `json:"status"`
	Classification *intelligence.ClassificationRecord `json:"classification,omitempty"`
	Metadata       *metadata.Metadata                 `json:"metadata,omitempty"`
	Error          string                             `json:"error,omitempty"`
	DurationMS     int64                              `json:"duration_ms"`
	ProcessedAt    time.Time                          `json:"processed_at"`
}

// Type returns the assigned document type, or desconocido when none
func (r DocumentResult) Type() intelligence.DocumentType {
	if r.Classification == nil {
		return intelligence.DocumentTypeUnknown
	}
	return r.Classification.Type
}

// Confidence returns the final confidence, zero when unclassified
func (r DocumentResult) Confidence() float64 {
	if r.Classification == nil {
		return 0
	}
	return r.Classification.Confidence
}

// Summary aggregates a batch run
type Summary struct {
	BatchID    string                            `json:"batch_id"`
	Directory  string                            `json:"directory,omitempty"`
	Total      int                               `json:"total"`
	Succeeded  int                               `json:"succeeded"`
	Failed     int                               `json:"failed"`
	TimedOut   int                               `json:"timed_out"`
	ByType     map[intelligence.DocumentType]int `json:"by_type"`
	StartedAt  time.Time                         `json:"started_at"`
	FinishedAt time.Time                         `json:"finished_at"`
	ElapsedMS  int64                             `json:"elapsed_ms"`
}

// Report is the complete result of a batch run, ordered by input path
type Report struct {
	Summary Summary          `json:"summary"`
	Results []DocumentResult `json:"results"`
}

// Option configures a Processor
type Option func(*Processor)

// WithLogger sets the processor logger
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger.With().Str("component", "batch").Logger()
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(p *Processor) {
		if r != nil {
			p.recorder = r
		}
	}
}

// Processor runs classification over many files
type Processor struct {
	cfg        Config
	classifier DocumentClassifier
	source     TextSource
	extractor  *metadata.Extractor
	logger     zerolog.Logger
	recorder   Recorder
}

// NewProcessor creates a batch processor
func NewProcessor(cfg Config, classifier DocumentClassifier, source TextSource, opts ...Option) *Processor {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.DocTimeout <= 0 {
		cfg.DocTimeout = def.DocTimeout
	}

	p := &Processor{
		cfg:        cfg,
		classifier: classifier,
		source:     source,
		logger:     zerolog.Nop(),
		recorder:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.extractor = metadata.NewExtractor(p.logger)
	return p
}

// Discover lists the .pdf files under dir that are within the size limit
func (p *Processor) Discover(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			p.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable entry")
			return nil
		}
		if d.IsDir() {
			if path != dir && !p.cfg.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() == 0 || (p.cfg.MaxFileSize > 0 && fi.Size() > p.cfg.MaxFileSize) {
			p.logger.Warn().Str("path", path).Int64("size", fi.Size()).Msg("skipping file outside size limits")
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// ProcessDirectory discovers and classifies every PDF in dir
func (p *Processor) ProcessDirectory(ctx context.Context, dir string) (*Report, error) {
	paths, err := p.Discover(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, dir)
	}
	report, err := p.ProcessFiles(ctx, paths)
	if report != nil {
		report.Summary.Directory = dir
	}
	return report, err
}

// ProcessFiles classifies paths concurrently. Each document gets its own
// timeout; a document that exceeds it is reported without stalling the rest.
func (p *Processor) ProcessFiles(ctx context.Context, paths []string) (*Report, error) {
	started := time.Now()
	batchID := uuid.NewString()
	logger := p.logger.With().Str("batch_id", batchID).Logger()
	logger.Info().Int("documents", len(paths)).Int("workers", p.cfg.Workers).Msg("batch started")

	var mu sync.Mutex
	results := make(map[string]DocumentResult, len(paths))

	worker := pool.WorkerFunc[string](func(ctx context.Context, path string) error {
		res := p.processOne(ctx, path)
		p.recorder.ObserveDocument(string(res.Status))

		mu.Lock()
		results[path] = res
		mu.Unlock()

		logger.Debug().
			Str("path", path).
			Str("status", string(res.Status)).
			Str("type", string(res.Type())).
			Float64("confidence", res.Confidence()).
			Msg("document processed")
		return nil
	})

	wg := pool.New[string](p.cfg.Workers, worker).
		WithBatchSize(p.cfg.BatchSize).
		WithWorkerChanSize(max(len(paths), 1)).
		WithContinueOnError()
	poolErr := wg.Go(ctx)
	if poolErr == nil {
		for _, path := range paths {
			if ctx.Err() != nil {
				break
			}
			wg.Submit(path)
		}
		poolErr = wg.Close(ctx)
	}

	report := &Report{
		Summary: Summary{
			BatchID:   batchID,
			Total:     len(paths),
			ByType:    make(map[intelligence.DocumentType]int),
			StartedAt: started.UTC(),
		},
		Results: make([]DocumentResult, 0, len(paths)),
	}

	for _, path := range paths {
		res, ok := results[path]
		if !ok {
			res = p.newResult(path)
			res.Status = StatusFailed
			res.Error = "batch cancelled before processing"
		}
		report.Results = append(report.Results, res)

		switch res.Status {
		case StatusClassified:
			report.Summary.Succeeded++
			report.Summary.ByType[res.Type()]++
		case StatusTimeout:
			report.Summary.TimedOut++
			report.Summary.Failed++
		default:
			report.Summary.Failed++
		}
	}

	finished := time.Now()
	report.Summary.FinishedAt = finished.UTC()
	report.Summary.ElapsedMS = finished.Sub(started).Milliseconds()

	logger.Info().
		Int("succeeded", report.Summary.Succeeded).
		Int("failed", report.Summary.Failed).
		Int("timed_out", report.Summary.TimedOut).
		Dur("elapsed", finished.Sub(started)).
		Msg("batch finished")

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	if poolErr != nil {
		return report, fmt.Errorf("worker pool: %w", poolErr)
	}
	return report, nil
}

func (p *Processor) newResult(path string) DocumentResult {
	return DocumentResult{
		ID:          uuid.NewString(),
		Path:        path,
		FileName:    filepath.Base(path),
		ProcessedAt: time.Now().UTC(),
	}
}

// processOne classifies path under the per-document timeout
func (p *Processor) processOne(ctx context.Context, path string) DocumentResult {
	start := time.Now()
	docCtx, cancel := context.WithTimeout(ctx, p.cfg.DocTimeout)
	defer cancel()

	done := make(chan DocumentResult, 1)
	go func() {
		done <- p.classify(docCtx, path)
	}()

	var res DocumentResult
	select {
	case res = <-done:
	case <-docCtx.Done():
		res = p.newResult(path)
		res.Status = StatusFailed
		res.Error = "batch cancelled"
		if ctx.Err() == nil {
			res.Status = StatusTimeout
			res.Error = fmt.Sprintf("classification exceeded %s", p.cfg.DocTimeout)
			p.logger.Warn().Str("path", path).Dur("timeout", p.cfg.DocTimeout).Msg("document timed out")
		}
	}
	res.DurationMS = time.Since(start).Milliseconds()
	return res
}

func (p *Processor) classify(ctx context.Context, path string) DocumentResult {
	res := p.newResult(path)

	text, err := p.source.ExtractText(ctx, path)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}

	rec, err := p.classifier.Classify(ctx, intelligence.Input{Text: text, Geometry: p.source.Geometry(path)})
	res.Classification = rec
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}

	md := p.extractor.Extract(text)
	res.Metadata = &md
	res.Status = StatusClassified
	return res
}
