package pdf

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"
)

const (
	sampledPages      = 3
	minSampleChars    = 10
	minExtractedChars = 50
)

// ValidationChecks records which validation stages a file passed
type ValidationChecks struct {
	Exists    bool `json:"exists"`
	Extension bool `json:"extension"`
	Size      bool `json:"size"`
	Structure bool `json:"structure"`
	Content   bool `json:"content"`
}

// ValidationResult describes whether a file can be classified
type ValidationResult struct {
	Path             string           `json:"path"`
	Valid            bool             `json:"valid"`
	Checks           ValidationChecks `json:"checks"`
	Pages            int              `json:"pages"`
	SizeBytes        int64            `json:"size_bytes"`
	ExtractableChars int              `json:"extractable_chars"`
	Warnings         []string         `json:"warnings,omitempty"`
	Message          string           `json:"message,omitempty"`
}

// Validator checks PDF files before classification
type Validator struct {
	maxFileSize int64
	reader      *Reader
	logger      zerolog.Logger
}

// NewValidator creates a validator with the specified size limit
func NewValidator(maxFileSize int64, logger zerolog.Logger) *Validator {
	return &Validator{
		maxFileSize: maxFileSize,
		reader:      NewReader(maxFileSize, logger),
		logger:      logger.With().Str("component", "pdf_validator").Logger(),
	}
}

// Validate runs every check on path. Files that fail a check are reported
// through the result; the error return is reserved for cancellation.
func (v *Validator) Validate(ctx context.Context, path string) (*ValidationResult, error) {
	result := &ValidationResult{Path: path}

	if path == "" {
		result.Message = "path cannot be empty"
		return result, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		result.Message = fmt.Sprintf("file does not exist: %s", path)
		return result, nil
	}
	result.Checks.Exists = true

	if info.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".pdf") {
		result.Message = fmt.Sprintf("file is not a PDF: %s", path)
		return result, nil
	}
	result.Checks.Extension = true

	result.SizeBytes = info.Size()
	if err := checkInfo(path, info, v.maxFileSize); err != nil {
		result.Message = err.Error()
		return result, nil
	}
	result.Checks.Size = true

	pages, err := v.PageCount(path)
	if err != nil || pages < 1 {
		if err == nil {
			err = fmt.Errorf("document has no pages")
		}
		result.Message = fmt.Sprintf("invalid PDF structure: %v", err)
		return result, nil
	}
	result.Pages = pages
	result.Checks.Structure = true

	text, err := v.reader.ExtractText(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.Message = fmt.Sprintf("cannot extract text: %v", err)
		return result, nil
	}
	result.Checks.Content = true
	result.ExtractableChars = len(stripPageMarkers(text))

	if len(sampleText(text, sampledPages)) < minSampleChars {
		result.Warnings = append(result.Warnings, "El PDF podría ser una imagen escaneada")
	}
	if result.ExtractableChars < minExtractedChars {
		result.Warnings = append(result.Warnings, "Poco texto extraíble, podría necesitar OCR")
	}

	result.Valid = true
	result.Message = "PDF válido"
	v.logger.Debug().
		Str("path", path).
		Int("pages", pages).
		Int("chars", result.ExtractableChars).
		Int("warnings", len(result.Warnings)).
		Msg("validated pdf")
	return result, nil
}

// IsValid reports whether path passes validation
func (v *Validator) IsValid(ctx context.Context, path string) bool {
	r, err := v.Validate(ctx, path)
	return err == nil && r.Valid
}

// CheckFileInfo applies the cheap stat-based checks to an already listed file
func (v *Validator) CheckFileInfo(path string, info os.FileInfo) error {
	return checkInfo(path, info, v.maxFileSize)
}

// PageCount reads the page tree with pdfcpu in relaxed mode
func (v *Validator) PageCount(path string) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			n, err = 0, fmt.Errorf("%w: %v", ErrUnreadable, p)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pctx, err := api.ReadContext(f, conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if err := pctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return pctx.PageCount, nil
}

// sampleText returns the text of the first n pages without their markers
func sampleText(text string, n int) string {
	var sb strings.Builder
	page := 0
	for _, line := range strings.Split(text, "\n") {
		if isPageMarker(line) {
			page++
			if page > n {
				break
			}
			continue
		}
		sb.WriteString(strings.TrimSpace(line))
	}
	return sb.String()
}

func stripPageMarkers(text string) string {
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if isPageMarker(line) {
			continue
		}
		sb.WriteString(strings.TrimSpace(line))
	}
	return sb.String()
}

func isPageMarker(line string) bool {
	return strings.HasPrefix(line, "--- Página ") && strings.HasSuffix(line, " ---")
}
