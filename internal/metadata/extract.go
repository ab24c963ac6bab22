// Package metadata pulls identifiers, dates and amounts out of document text.
package metadata

import (
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const supplierSearchLines = 10

var (
	cuitPattern   = regexp.MustCompile(`\d{2}-\d{8}-\d`)
	amountPattern = regexp.MustCompile(`\$\s*[\d,]+\.?\d*`)

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d{1,2}[/\-]\d{1,2}[/\-]\d{4}`),
		regexp.MustCompile(`\d{4}[/\-]\d{1,2}[/\-]\d{1,2}`),
		regexp.MustCompile(`(?i)\d{1,2}\s+de\s+\pL+\s+de\s+\d{4}`),
	}

	supplierPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Razón Social:?\s*([A-Z][A-Za-z\s&\.]{3,50})`),
		regexp.MustCompile(`(?i)Proveedor:?\s*([A-Z][A-Za-z\s&\.]{3,50})`),
		regexp.MustCompile(`(?i)Empresa:?\s*([A-Z][A-Za-z\s&\.]{3,50})`),
		regexp.MustCompile(`(?i)^([A-Z][A-Za-z\s&\.]{10,50})\s*(S\.A\.|SRL|SA|LTDA)`),
	}

	documentNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)N[úu]mero:?\s*(\d+[-/]?\d*)`),
		regexp.MustCompile(`(?i)N[°º]:?\s*(\d+[-/]?\d*)`),
		regexp.MustCompile(`(?i)Factura N[°º]:?\s*(\d+[-/]?\d*)`),
		regexp.MustCompile(`(?i)Remito N[°º]:?\s*(\d+[-/]?\d*)`),
		regexp.MustCompile(`(?i)Documento N[°º]:?\s*(\d+[-/]?\d*)`),
	}
)

// Metadata holds the fields found in a document
type Metadata struct {
	CUIT           string    `json:"cuit,omitempty"`
	CUITValid      bool      `json:"cuit_valid"`
	Dates          []string  `json:"dates"`
	Amounts        []string  `json:"amounts"`
	Supplier       string    `json:"supplier,omitempty"`
	DocumentNumber string    `json:"document_number,omitempty"`
	ExtractedAt    time.Time `json:"extraction_timestamp"`
}

// Extractor finds metadata in plain text
type Extractor struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewExtractor creates an extractor
func NewExtractor(logger zerolog.Logger) *Extractor {
	return &Extractor{
		logger: logger.With().Str("component", "metadata").Logger(),
		now:    time.Now,
	}
}

// Extract runs every field extractor over text
func (e *Extractor) Extract(text string) Metadata {
	md := Metadata{
		CUIT:           CUIT(text),
		Dates:          Dates(text),
		Amounts:        Amounts(text),
		Supplier:       SupplierName(text),
		DocumentNumber: DocumentNumber(text),
		ExtractedAt:    e.now().UTC(),
	}
	md.CUITValid = md.CUIT != "" && ValidCUIT(md.CUIT)

	e.logger.Debug().
		Str("cuit", md.CUIT).
		Int("dates", len(md.Dates)).
		Int("amounts", len(md.Amounts)).
		Str("supplier", md.Supplier).
		Str("document_number", md.DocumentNumber).
		Msg("metadata extracted")
	return md
}

// CUIT returns the first tax id formatted as 00-00000000-0
func CUIT(text string) string {
	return cuitPattern.FindString(text)
}

// ValidCUIT checks the modulo 11 verification digit of a formatted CUIT
func ValidCUIT(cuit string) bool {
	digits := strings.ReplaceAll(cuit, "-", "")
	if len(digits) != 11 {
		return false
	}
	weights := [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}
	sum := 0
	for i, w := range weights {
		d := digits[i]
		if d < '0' || d > '9' {
			return false
		}
		sum += int(d-'0') * w
	}
	check := 11 - sum%11
	switch check {
	case 11:
		check = 0
	case 10:
		return false
	}
	return int(digits[10]-'0') == check
}

// Dates returns every date found, in pattern order and without duplicates
func Dates(text string) []string {
	seen := make(map[string]bool)
	dates := []string{}
	for _, re := range datePatterns {
		for _, m := range re.FindAllString(text, -1) {
			if seen[m] {
				continue
			}
			seen[m] = true
			dates = append(dates, m)
		}
	}
	return dates
}

// Amounts returns every currency amount in order of appearance
func Amounts(text string) []string {
	amounts := amountPattern.FindAllString(text, -1)
	if amounts == nil {
		return []string{}
	}
	return amounts
}

// SupplierName looks for a company name in the first lines of the document
func SupplierName(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > supplierSearchLines {
		lines = lines[:supplierSearchLines]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		for _, re := range supplierPatterns {
			if m := re.FindStringSubmatch(line); m != nil {
				return strings.TrimSpace(m[1])
			}
		}
	}
	return ""
}

// DocumentNumber returns the first document number label found
func DocumentNumber(text string) string {
	for _, re := range documentNumberPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
