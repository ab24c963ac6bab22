package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
)

var (
	// ErrUnreadable is returned when a file cannot be parsed as a PDF
	ErrUnreadable = errors.New("unreadable pdf")
	// ErrNotPDF is returned for paths without a .pdf extension or for directories
	ErrNotPDF = errors.New("not a pdf file")
	// ErrTooLarge is returned for files above the configured size limit
	ErrTooLarge = errors.New("file too large")
	// ErrEmptyFile is returned for zero-byte files
	ErrEmptyFile = errors.New("file is empty")
)

const defaultMaxTextSize = 10 * 1024 * 1024

// Reader extracts text and first-page geometry from PDF files
type Reader struct {
	maxFileSize int64
	maxTextSize int
	logger      zerolog.Logger
}

// NewReader creates a reader that refuses files larger than maxFileSize bytes
func NewReader(maxFileSize int64, logger zerolog.Logger) *Reader {
	return &Reader{
		maxFileSize: maxFileSize,
		maxTextSize: defaultMaxTextSize,
		logger:      logger.With().Str("component", "pdf_reader").Logger(),
	}
}

// CheckFile verifies that path is a regular, non-empty .pdf file within the size limit
func (r *Reader) CheckFile(path string) (os.FileInfo, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot access file: %w", err)
	}
	if err := checkInfo(path, info, r.maxFileSize); err != nil {
		return nil, err
	}
	return info, nil
}

func checkInfo(path string, info os.FileInfo, maxSize int64) error {
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotPDF, path)
	}
	if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return fmt.Errorf("%w: %s", ErrNotPDF, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return fmt.Errorf("%w: %d bytes (max: %d bytes)", ErrTooLarge, info.Size(), maxSize)
	}
	return nil
}

// ExtractText returns the text of every page, each preceded by a
// "--- Página N ---" line. A PDF without extractable text yields "".
func (r *Reader) ExtractText(ctx context.Context, path string) (string, error) {
	if _, err := r.CheckFile(path); err != nil {
		return "", err
	}

	f, reader, err := openPDF(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	hasText := false
	total := 0
	for n := 1; n <= reader.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := pageText(reader, n)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", path).Int("page", n).Msg("skipping unreadable page")
			continue
		}
		if strings.TrimSpace(text) != "" {
			hasText = true
		}

		truncated := total+len(text) > r.maxTextSize
		if truncated {
			text = truncateUTF8(text, r.maxTextSize-total)
		}
		fmt.Fprintf(&sb, "\n--- Página %d ---\n%s", n, text)
		total += len(text)
		if truncated || total >= r.maxTextSize {
			r.logger.Warn().Str("path", path).Int("limit", r.maxTextSize).Msg("text truncated")
			break
		}
	}

	if !hasText {
		r.logger.Warn().Str("path", path).Msg("no extractable text")
		return "", nil
	}
	return strings.TrimSpace(sb.String()), nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// PageCount returns the number of pages reported by the page tree
func (r *Reader) PageCount(path string) (int, error) {
	if _, err := r.CheckFile(path); err != nil {
		return 0, err
	}
	f, reader, err := openPDF(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return reader.NumPage(), nil
}

// Geometry returns a lazy source for the first-page layout of path. The
// file is opened when the layout scorer asks for it.
func (r *Reader) Geometry(path string) intelligence.GeometrySource {
	return intelligence.GeometryFunc(func(ctx context.Context) (*intelligence.PageGeometry, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return r.PageGeometry(path, 1)
	})
}

// PageGeometry groups the glyphs of page n into blocks, lines and spans
func (r *Reader) PageGeometry(path string, n int) (*intelligence.PageGeometry, error) {
	if _, err := r.CheckFile(path); err != nil {
		return nil, err
	}
	f, reader, err := openPDF(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if n < 1 || n > reader.NumPage() {
		return nil, fmt.Errorf("%w: page %d of %d", intelligence.ErrNoGeometry, n, reader.NumPage())
	}
	page := reader.Page(n)
	if page.V.IsNull() {
		return nil, fmt.Errorf("%w: page %d is empty", intelligence.ErrNoGeometry, n)
	}

	glyphs, err := pageGlyphs(page)
	if err != nil {
		return nil, err
	}
	width, height := mediaBox(page)
	return buildGeometry(glyphs, width, height), nil
}

// openPDF wraps pdf.Open, which panics on some malformed files
func openPDF(path string) (f *os.File, reader *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			if f != nil {
				f.Close()
			}
			f, reader, err = nil, nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, p)
		}
	}()

	f, reader, err = pdf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	return f, reader, nil
}

func pageText(reader *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("page %d: %v", n, p)
		}
	}()

	page := reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func pageGlyphs(page pdf.Page) (glyphs []pdf.Text, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrUnreadable, p)
		}
	}()
	return page.Content().Text, nil
}
