package pdf

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/a3tai/pdf-doc-classifier/internal/pdf/pdftest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoicePages() [][]pdftest.Run {
	return [][]pdftest.Run{
		{
			{X: 50, Y: 712, Size: 18, Text: "FACTURA A"},
			pdftest.Line(50, 600, "Codigo"),
			pdftest.Line(200, 600, "Cantidad"),
			pdftest.Line(50, 588, "Total"),
		},
		{
			pdftest.Line(50, 700, "REMITO R"),
		},
	}
}

func writeInvoice(t *testing.T) string {
	t.Helper()
	return pdftest.Write(t, t.TempDir(), "factura.pdf", invoicePages()...)
}

func TestNewReader(t *testing.T) {
	r := NewReader(1024, zerolog.Nop())
	assert.Equal(t, int64(1024), r.maxFileSize)
	assert.Equal(t, 10*1024*1024, r.maxTextSize)
}

func TestReaderCheckFile(t *testing.T) {
	dir := t.TempDir()
	r := NewReader(64, zerolog.Nop())

	empty := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	big := filepath.Join(dir, "big.pdf")
	require.NoError(t, os.WriteFile(big, make([]byte, 65), 0o644))
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hola"), 0o644))

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "empty file", path: empty, wantErr: ErrEmptyFile},
		{name: "too large", path: big, wantErr: ErrTooLarge},
		{name: "wrong extension", path: txt, wantErr: ErrNotPDF},
		{name: "directory", path: dir, wantErr: ErrNotPDF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.CheckFile(tt.path)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := r.CheckFile(filepath.Join(dir, "missing.pdf"))
	assert.ErrorContains(t, err, "does not exist")
	_, err = r.CheckFile("")
	assert.Error(t, err)
}

func TestExtractText(t *testing.T) {
	path := writeInvoice(t)
	r := NewReader(1<<20, zerolog.Nop())

	text, err := r.ExtractText(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, len(text) > 0 && text[:3] == "---", "text starts with the first page marker")
	assert.Contains(t, text, "--- Página 1 ---")
	assert.Contains(t, text, "--- Página 2 ---")
	assert.Contains(t, text, "FACTURA A")
	assert.Contains(t, text, "REMITO R")

	pages, err := r.PageCount(path)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
}

func TestExtractTextWithoutText(t *testing.T) {
	path := pdftest.Write(t, t.TempDir(), "blank.pdf", nil)
	r := NewReader(1<<20, zerolog.Nop())

	text, err := r.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractTextUnreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf document"), 0o644))

	_, err := NewReader(1<<20, zerolog.Nop()).ExtractText(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestExtractTextCancelled(t *testing.T) {
	path := writeInvoice(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReader(1<<20, zerolog.Nop()).ExtractText(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReaderGeometry(t *testing.T) {
	path := writeInvoice(t)
	r := NewReader(1<<20, zerolog.Nop())

	geo, err := r.Geometry(path).PageGeometry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 612.0, geo.Width)
	assert.Equal(t, 792.0, geo.Height)
	require.Len(t, geo.Blocks, 2)
	assert.Equal(t, "FACTURA A", geo.Blocks[0].Text())

	_, err = r.PageGeometry(path, 3)
	assert.ErrorIs(t, err, intelligence.ErrNoGeometry)
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "fits", in: "remito", n: 10, want: "remito"},
		{name: "ascii cut", in: "remito", n: 3, want: "rem"},
		{name: "inside two byte rune", in: "liquidación", n: 9, want: "liquidaci"},
		{name: "after two byte rune", in: "liquidación", n: 11, want: "liquidació"},
		{name: "inside three byte rune", in: "a€b", n: 3, want: "a"},
		{name: "zero", in: "ó", n: 0, want: ""},
		{name: "negative", in: "ó", n: -2, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateUTF8(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestExtractTextStopsAtLimit(t *testing.T) {
	path := writeInvoice(t)
	r := NewReader(0, zerolog.Nop())
	r.maxTextSize = 4

	text, err := r.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, text, "--- Página 1 ---")
	assert.NotContains(t, text, "Página 2")
	assert.True(t, utf8.ValidString(text))
}
