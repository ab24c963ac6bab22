package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/a3tai/pdf-doc-classifier/internal/pdf"
	"github.com/a3tai/pdf-doc-classifier/internal/pdf/pdftest"
	"github.com/a3tai/pdf-doc-classifier/internal/suppliers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	texts map[string]string
	errs  map[string]error
}

func (s fakeSource) ExtractText(_ context.Context, path string) (string, error) {
	if err := s.errs[filepath.Base(path)]; err != nil {
		return "", err
	}
	return s.texts[filepath.Base(path)], nil
}

func (s fakeSource) Geometry(string) intelligence.GeometrySource { return nil }

// fakeClassifier maps text to a type; the text "hang" blocks until released
type fakeClassifier struct {
	release chan struct{}
}

func (c fakeClassifier) Classify(_ context.Context, in intelligence.Input) (*intelligence.ClassificationRecord, error) {
	switch in.Text {
	case "hang":
		<-c.release
		return &intelligence.ClassificationRecord{Type: intelligence.DocumentTypeUnknown}, nil
	case "boom":
		return &intelligence.ClassificationRecord{Type: intelligence.DocumentTypeUnknown, Error: "boom"}, errors.New("boom")
	}
	return &intelligence.ClassificationRecord{Type: intelligence.DocumentType(in.Text), Confidence: 0.8}, nil
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) ObserveDocument(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[status]++
}

func touch(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, dir, "a.pdf", 10)
	b := touch(t, dir, "B.PDF", 10)
	touch(t, dir, "notes.txt", 10)
	touch(t, dir, "empty.pdf", 0)
	touch(t, dir, "huge.pdf", 200)
	nested := touch(t, dir, "sub/c.pdf", 10)

	p := NewProcessor(Config{MaxFileSize: 100}, fakeClassifier{}, fakeSource{})
	paths, err := p.Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{b, a}, paths)

	p = NewProcessor(Config{MaxFileSize: 100, Recursive: true}, fakeClassifier{}, fakeSource{})
	paths, err = p.Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{b, a, nested}, paths)

	_, err = p.Discover(filepath.Join(dir, "missing"))
	assert.Error(t, err)
	_, err = p.Discover(a)
	assert.Error(t, err)
}

func TestProcessFiles(t *testing.T) {
	src := fakeSource{
		texts: map[string]string{
			"1.pdf": string(intelligence.DocumentTypeInvoice),
			"2.pdf": string(intelligence.DocumentTypeInvoice),
			"3.pdf": string(intelligence.DocumentTypeDeliveryNote),
			"4.pdf": "boom",
		},
		errs: map[string]error{"5.pdf": pdf.ErrUnreadable},
	}
	rec := &countingRecorder{}
	p := NewProcessor(Config{Workers: 3}, fakeClassifier{}, src, WithRecorder(rec), WithLogger(zerolog.Nop()))

	paths := []string{"/docs/1.pdf", "/docs/2.pdf", "/docs/3.pdf", "/docs/4.pdf", "/docs/5.pdf"}
	report, err := p.ProcessFiles(context.Background(), paths)
	require.NoError(t, err)

	s := report.Summary
	assert.NotEmpty(t, s.BatchID)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 3, s.Succeeded)
	assert.Equal(t, 2, s.Failed)
	assert.Zero(t, s.TimedOut)
	assert.Equal(t, map[intelligence.DocumentType]int{
		intelligence.DocumentTypeInvoice:      2,
		intelligence.DocumentTypeDeliveryNote: 1,
	}, s.ByType)

	require.Len(t, report.Results, 5)
	for i, r := range report.Results {
		assert.Equal(t, paths[i], r.Path)
		assert.NotEmpty(t, r.ID)
	}
	assert.Equal(t, "1.pdf", report.Results[0].FileName)
	assert.NotNil(t, report.Results[0].Metadata)
	assert.Equal(t, StatusFailed, report.Results[3].Status)
	assert.Equal(t, "boom", report.Results[3].Error)
	assert.NotNil(t, report.Results[3].Classification)
	assert.Contains(t, report.Results[4].Error, "unreadable")
	assert.Equal(t, intelligence.DocumentTypeUnknown, report.Results[4].Type())

	assert.Equal(t, map[string]int{"classified": 3, "failed": 2}, rec.counts)
}

func TestProcessFilesTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	src := fakeSource{texts: map[string]string{
		"slow.pdf": "hang",
		"ok.pdf":   string(intelligence.DocumentTypeReceipt),
	}}
	p := NewProcessor(Config{Workers: 2, DocTimeout: 50 * time.Millisecond}, fakeClassifier{release: release}, src)

	report, err := p.ProcessFiles(context.Background(), []string{"/d/slow.pdf", "/d/ok.pdf"})
	require.NoError(t, err)

	assert.Equal(t, StatusTimeout, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Error, "exceeded")
	assert.Equal(t, StatusClassified, report.Results[1].Status)
	assert.Equal(t, 1, report.Summary.TimedOut)
	assert.Equal(t, 1, report.Summary.Succeeded)
}

func TestProcessFilesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProcessor(Config{}, fakeClassifier{}, fakeSource{})
	report, err := p.ProcessFiles(ctx, []string{"/d/a.pdf", "/d/b.pdf"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Summary.Failed)
}

func TestProcessDirectoryEndToEnd(t *testing.T) {
	dir := t.TempDir()
	pdftest.Write(t, dir, "remito.pdf", []pdftest.Run{
		{X: 50, Y: 720, Size: 16, Text: "REMITO R"},
		pdftest.Line(50, 690, "Remito de entrega de mercaderia"),
		pdftest.Line(50, 675, "Transportista: Logistica Sur"),
		pdftest.Line(50, 660, "Recibi conforme la mercaderia detallada"),
	})

	cl, err := intelligence.NewClassifier(intelligence.DefaultArbitrationConfig(), nil, suppliers.NewMemory())
	require.NoError(t, err)
	reader := pdf.NewReader(1<<20, zerolog.Nop())

	p := NewProcessor(Config{Workers: 2, MaxFileSize: 1 << 20}, cl, reader)
	report, err := p.ProcessDirectory(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, dir, report.Summary.Directory)
	require.Len(t, report.Results, 1)
	r := report.Results[0]
	assert.Equal(t, StatusClassified, r.Status, r.Error)
	require.NotNil(t, r.Classification)
	assert.NotEmpty(t, r.Classification.Reasoning)

	_, err = p.ProcessDirectory(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoDocuments)
}
