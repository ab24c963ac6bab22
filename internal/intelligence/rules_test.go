package intelligence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultRules(t *testing.T) {
	rs, err := LoadDefaultRules()
	require.NoError(t, err)

	assert.Equal(t, 0.7, rs.Keyword.Threshold)
	assert.Equal(t, 100, rs.Keyword.OpeningWords)
	assert.Equal(t, 3, rs.Regex.MaxMatchesPerPattern)
	assert.Equal(t, 2, rs.Regex.Compliance.MinMatches)
	assert.Equal(t, "agro", rs.Agro.Name)
	assert.Len(t, rs.Agro.Types, 6)
	assert.Len(t, rs.Commercial.Types, 5)
	assert.Len(t, rs.Layout.Types, 4)
	assert.Len(t, rs.Training.Samples, 18)
	assert.NoError(t, rs.Validate())
}

func TestRuleTablesCoverTaxonomy(t *testing.T) {
	rs := MustLoadDefaultRules()

	covered := make(map[DocumentType]bool)
	for _, r := range rs.Keyword.Types {
		covered[r.Type] = true
	}
	for _, r := range rs.Agro.Types {
		covered[r.Type] = true
	}
	for _, r := range rs.Commercial.Types {
		covered[r.Type] = true
	}
	for _, dt := range AllDocumentTypes() {
		assert.True(t, covered[dt], "no rule produces %s", dt)
	}
}

func TestLoadRulesWithOverlay(t *testing.T) {
	overlay := `
keyword:
  - type: facturas
    keywords: [comprobante electronico]
regex:
  - type: cheques
    patterns: ['ECHEQ\s+\d+']
commercial:
  - type: cheques
    keywords: [echeq]
training:
  - label: cheques
    text: "ECHEQ 123 banco galicia"
`
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o644))

	rs, err := LoadRules(path)
	require.NoError(t, err)

	var facturas KeywordRule
	for _, r := range rs.Keyword.Types {
		if r.Type == DocumentTypeInvoice {
			facturas = r
		}
	}
	assert.Contains(t, facturas.Keywords, "comprobante electronico")
	assert.Contains(t, facturas.Keywords, "factura")

	var cheques RegexRule
	for _, r := range rs.Regex.Types {
		if r.Type == DocumentTypeCheque {
			cheques = r
		}
	}
	assert.Equal(t, []string{`ECHEQ\s+\d+`}, cheques.Patterns)
	assert.Len(t, rs.Training.Samples, 19)

	defaults := MustLoadDefaultRules()
	assert.Len(t, defaults.Training.Samples, 18)
}

func TestLoadRulesRejectsUnknownType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keyword:\n  - type: pasaportes\n    keywords: [pasaporte]\n"), 0o644))

	_, err := LoadRules(path)
	assert.Error(t, err)
}

func TestLoadRulesMissingOverlay(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	rs, err := LoadRules("")
	require.NoError(t, err)
	assert.NotEmpty(t, rs.Keyword.Types)
}
