package pdf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/a3tai/pdf-doc-classifier/internal/pdf/pdftest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidPDF(t *testing.T) {
	path := writeInvoice(t)
	v := NewValidator(1<<20, zerolog.Nop())

	res, err := v.Validate(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Message)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, ValidationChecks{Exists: true, Extension: true, Size: true, Structure: true, Content: true}, res.Checks)
	assert.Positive(t, res.SizeBytes)
	assert.Positive(t, res.ExtractableChars)
	assert.Contains(t, res.Warnings, "Poco texto extraíble, podría necesitar OCR")
	assert.NotContains(t, res.Warnings, "El PDF podría ser una imagen escaneada")
	assert.True(t, v.IsValid(context.Background(), path))
}

func TestValidateScannedPDF(t *testing.T) {
	path := pdftest.Write(t, t.TempDir(), "scan.pdf", nil)
	v := NewValidator(1<<20, zerolog.Nop())

	res, err := v.Validate(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Zero(t, res.ExtractableChars)
	assert.Equal(t, []string{
		"El PDF podría ser una imagen escaneada",
		"Poco texto extraíble, podría necesitar OCR",
	}, res.Warnings)
}

func TestValidateFailures(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(broken, []byte("garbage"), 0o644))
	txt := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(txt, []byte("garbage"), 0o644))
	big := pdftest.Write(t, dir, "big.pdf", invoicePages()...)

	v := NewValidator(200, zerolog.Nop())

	tests := []struct {
		name   string
		path   string
		checks ValidationChecks
	}{
		{name: "missing", path: filepath.Join(dir, "missing.pdf")},
		{name: "extension", path: txt, checks: ValidationChecks{Exists: true}},
		{name: "too large", path: big, checks: ValidationChecks{Exists: true, Extension: true}},
		{name: "structure", path: broken, checks: ValidationChecks{Exists: true, Extension: true, Size: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(context.Background(), tt.path)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.NotEmpty(t, res.Message)
			assert.Equal(t, tt.checks, res.Checks)
		})
	}
}

func TestValidatorPageCount(t *testing.T) {
	path := writeInvoice(t)
	v := NewValidator(1<<20, zerolog.Nop())

	n, err := v.PageCount(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCheckFileInfo(t *testing.T) {
	path := writeInvoice(t)
	info, err := os.Stat(path)
	require.NoError(t, err)

	assert.NoError(t, NewValidator(1<<20, zerolog.Nop()).CheckFileInfo(path, info))
	assert.ErrorIs(t, NewValidator(10, zerolog.Nop()).CheckFileInfo(path, info), ErrTooLarge)
}

func TestSampleText(t *testing.T) {
	text := "--- Página 1 ---\nab\n--- Página 2 ---\ncd\n--- Página 3 ---\nef\n--- Página 4 ---\ngh"
	assert.Equal(t, "abcdef", sampleText(text, 3))
	assert.Equal(t, "abcdefgh", stripPageMarkers(text))
}
