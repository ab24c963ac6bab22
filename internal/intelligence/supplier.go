package intelligence

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/a3tai/pdf-doc-classifier/internal/suppliers"
	"github.com/rs/zerolog"
)

const (
	supplierMinScore    = 0.3
	supplierNameScore   = 0.4
	supplierPartialName = 0.3
	supplierCUITScore   = 0.3
	supplierTermWeight  = 0.2
	supplierIndWeight   = 0.1
)

// SupplierCatalog is the read side of the supplier database
type SupplierCatalog interface {
	Suppliers() ([]suppliers.Record, error)
}

type generalField struct {
	name     string
	patterns []*regexp.Regexp
}

// SupplierDetector recognizes known suppliers by name, CUIT and the terms
// they print on their documents.
type SupplierDetector struct {
	catalog SupplierCatalog
	general []generalField
	logger  zerolog.Logger
}

// NewSupplierDetector creates a detector over catalog
func NewSupplierDetector(catalog SupplierCatalog, logger zerolog.Logger) *SupplierDetector {
	logger = logger.With().Str("component", "supplier_detector").Logger()
	fields := []struct {
		name     string
		patterns []string
	}{
		{"razon_social", []string{
			`RAZÓN\s+SOCIAL\s*:?\s*([A-Z\s&\.]{5,50})`,
			`EMPRESA\s*:?\s*([A-Z\s&\.]{5,50})`,
			`PROVEEDOR\s*:?\s*([A-Z\s&\.]{5,50})`,
		}},
		{"nombre_comercial", []string{
			`NOMBRE\s+COMERCIAL\s*:?\s*([A-Z\s&\.]{3,30})`,
			`DENOMINACIÓN\s*:?\s*([A-Z\s&\.]{3,30})`,
		}},
		{"cuit_empresa", []string{
			`CUIT\s*:?\s*(\d{2}-\d{8}-\d)`,
			`C\.U\.I\.T\.?\s*:?\s*(\d{2}-\d{8}-\d)`,
		}},
		{"domicilio", []string{
			`DOMICILIO\s*:?\s*([A-Za-z\s\d\.]{10,80})`,
			`DIRECCIÓN\s*:?\s*([A-Za-z\s\d\.]{10,80})`,
		}},
		{"telefono", []string{
			`TEL[ÉE]FONO\s*:?\s*([\d\s\-\(\)]{8,20})`,
			`TEL\s*:?\s*([\d\s\-\(\)]{8,20})`,
		}},
	}

	d := &SupplierDetector{catalog: catalog, logger: logger}
	for _, f := range fields {
		d.general = append(d.general, generalField{
			name:     f.name,
			patterns: compilePatterns(f.patterns, "i", logger),
		})
	}
	return d
}

// Detect returns the best matching supplier, or nil when no supplier
// reaches the minimum score. A catalog failure is returned as an error.
func (d *SupplierDetector) Detect(_ context.Context, text string) (*SupplierMatch, error) {
	records, err := d.catalog.Suppliers()
	if err != nil {
		return nil, &ScorerError{Method: MethodSupplier, Err: fmt.Errorf("failed to read supplier catalog: %w", err)}
	}

	upper := upperText(text)
	if strings.TrimSpace(upper) == "" {
		return nil, nil
	}

	var best *suppliers.Record
	bestScore := 0.0
	for i := range records {
		if score := supplierScore(upper, records[i]); score > bestScore {
			best, bestScore = &records[i], score
		}
	}
	if best == nil || bestScore < supplierMinScore {
		return nil, nil
	}

	m := &SupplierMatch{
		ID:         best.ID,
		Confidence: bestScore,
		boosts:     make(map[DocumentType]float64, len(best.Patterns)),
	}
	if len(best.Names) > 0 {
		m.Name = best.Names[0]
	}
	for dt, p := range best.Patterns {
		m.boosts[DocumentType(dt)] = p.ConfidenceBoost
	}
	d.logger.Debug().Str("supplier", m.ID).Float64("confidence", m.Confidence).Msg("supplier detected")
	return m, nil
}

func supplierScore(upper string, r suppliers.Record) float64 {
	score := 0.0

	nameScore := 0.0
	for _, name := range r.Names {
		n := upperText(name)
		if strings.Contains(upper, n) {
			nameScore = supplierNameScore
			break
		}
		if len([]rune(name)) > 10 {
			words := strings.Fields(n)
			if len(words) >= 2 {
				found := 0
				for _, w := range words {
					if strings.Contains(upper, w) {
						found++
					}
				}
				if found >= 2 {
					nameScore = supplierPartialName
				}
			}
		}
	}
	score += nameScore

	if r.CUIT != "" && strings.Contains(upper, r.CUIT) {
		score += supplierCUITScore
	}

	patternScore := 0.0
	for _, p := range r.Patterns {
		typeScore := 0.0
		if n := len(p.SpecificTerms); n > 0 {
			typeScore += float64(countPresent(upper, p.SpecificTerms)) / float64(n) * supplierTermWeight
		}
		if n := len(p.LayoutIndicators); n > 0 {
			typeScore += float64(countPresent(upper, p.LayoutIndicators)) / float64(n) * supplierIndWeight
		}
		if typeScore > patternScore {
			patternScore = typeScore
		}
	}
	score += patternScore

	return clamp01(score)
}

func countPresent(upper string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(upper, upperText(t)) {
			n++
		}
	}
	return n
}

// Boost returns the confidence boost a supplier grants to a document type
func (d *SupplierDetector) Boost(supplierID string, dt DocumentType) float64 {
	records, err := d.catalog.Suppliers()
	if err != nil {
		return 0
	}
	for _, r := range records {
		if r.ID == supplierID {
			return r.Patterns[string(dt)].ConfidenceBoost
		}
	}
	return 0
}

// ExtractSupplierData pulls the generic counterparty fields (razón social,
// nombre comercial, CUIT, domicilio, teléfono) out of text
func (d *SupplierDetector) ExtractSupplierData(text string) map[string]string {
	text = normalize(text)
	out := make(map[string]string)
	for _, f := range d.general {
		for _, re := range f.patterns {
			if m := re.FindStringSubmatch(text); m != nil {
				out[f.name] = strings.TrimSpace(m[1])
				break
			}
		}
	}
	return out
}
