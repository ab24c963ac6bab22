package intelligence

import (
	"embed"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed rules/*.yaml
var ruleFiles embed.FS

// KeywordRule lists the keywords that vote for one document type
type KeywordRule struct {
	Type     DocumentType `yaml:"type"`
	Keywords []string     `yaml:"keywords"`
}

// KeywordRules configures the keyword scorer
type KeywordRules struct {
	Threshold        float64       `yaml:"threshold"`
	OpeningWords     int           `yaml:"opening_words"`
	OccurrenceWeight float64       `yaml:"occurrence_weight"`
	OpeningBonus     float64       `yaml:"opening_bonus"`
	Types            []KeywordRule `yaml:"types"`
}

// RegexRule lists the structural patterns of one document type
type RegexRule struct {
	Type     DocumentType `yaml:"type"`
	Patterns []string     `yaml:"patterns"`
}

// StructureRules holds the generic header, table and totals patterns
type StructureRules struct {
	Header []string `yaml:"header"`
	Table  []string `yaml:"table"`
	Totals []string `yaml:"totals"`
}

// ComplianceRules holds the fiscal markers a compliant document carries
type ComplianceRules struct {
	MinMatches int               `yaml:"min_matches"`
	Patterns   map[string]string `yaml:"patterns"`
}

// RegexRules configures the regex/structural scorer
type RegexRules struct {
	MaxMatchesPerPattern int             `yaml:"max_matches_per_pattern"`
	Types                []RegexRule     `yaml:"types"`
	Structure            StructureRules  `yaml:"structure"`
	Compliance           ComplianceRules `yaml:"compliance"`
}

// DomainRule describes one document type of a sector
type DomainRule struct {
	Type     DocumentType `yaml:"type"`
	Keywords []string     `yaml:"keywords"`
	Patterns []string     `yaml:"patterns"`
	Required []string     `yaml:"required"`
}

// ElementRule maps a required element to the patterns that satisfy it
type ElementRule struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
}

// BonusRule awards Weight for every term of a group found in the text
type BonusRule struct {
	Name      string   `yaml:"name"`
	Weight    float64  `yaml:"weight"`
	WholeWord bool     `yaml:"whole_word"`
	Terms     []string `yaml:"terms"`
}

// IndicatorRule extracts a value list from the text. Either Terms (substring
// presence) or Pattern with an expansion Template is set.
type IndicatorRule struct {
	Name     string   `yaml:"name"`
	Pattern  string   `yaml:"pattern"`
	Template string   `yaml:"template"`
	Terms    []string `yaml:"terms"`
}

// DomainRules configures a sector scorer (agro, commercial)
type DomainRules struct {
	Name              string          `yaml:"name"`
	KeywordWeight     float64         `yaml:"keyword_weight"`
	PatternWeight     float64         `yaml:"pattern_weight"`
	RequiredWeight    float64         `yaml:"required_weight"`
	BonusCap          float64         `yaml:"bonus_cap"`
	DocumentThreshold float64         `yaml:"document_threshold"`
	Types             []DomainRule    `yaml:"types"`
	Elements          []ElementRule   `yaml:"elements"`
	Bonus             []BonusRule     `yaml:"bonus"`
	Indicators        []IndicatorRule `yaml:"indicators"`
}

// LayoutZones are vertical page fractions
type LayoutZones struct {
	Header float64 `yaml:"header"`
	Title  float64 `yaml:"title"`
	Footer float64 `yaml:"footer"`
}

// LayoutRule is the visual signature of one document type
type LayoutRule struct {
	Type             DocumentType `yaml:"type"`
	TitleKeywords    []string     `yaml:"title_keywords"`
	TableIndicators  []string     `yaml:"table_indicators"`
	HasTaxSection    bool         `yaml:"has_tax_section"`
	TypicalFontSizes []float64    `yaml:"typical_font_sizes"`
}

// LayoutRules configures the layout scorer
type LayoutRules struct {
	MaxScore        float64      `yaml:"max_score"`
	MarginThreshold float64      `yaml:"margin_threshold"`
	Zones           LayoutZones  `yaml:"zones"`
	TitleWords      []string     `yaml:"title_words"`
	TableKeywords   []string     `yaml:"table_keywords"`
	TaxTerms        []string     `yaml:"tax_terms"`
	Types           []LayoutRule `yaml:"types"`
}

// TrainingSample is one labelled text of the seed corpus
type TrainingSample struct {
	Label DocumentType `yaml:"label"`
	Text  string       `yaml:"text"`
}

// TrainingRules configures the statistical text scorer
type TrainingRules struct {
	StopWords []string         `yaml:"stop_words"`
	MinDF     int              `yaml:"min_df"`
	MaxDF     float64          `yaml:"max_df"`
	Samples   []TrainingSample `yaml:"samples"`
}

// RuleSet bundles every scorer's rule table. Each scorer owns its own table.
type RuleSet struct {
	Keyword    KeywordRules
	Regex      RegexRules
	Agro       DomainRules
	Commercial DomainRules
	Layout     LayoutRules
	Training   TrainingRules
}

// LoadDefaultRules decodes the embedded rule tables. Every call returns a
// fresh copy that the caller may modify.
func LoadDefaultRules() (*RuleSet, error) {
	rs := &RuleSet{}
	files := []struct {
		name string
		dst  any
	}{
		{"keyword.yaml", &rs.Keyword},
		{"regex.yaml", &rs.Regex},
		{"agro.yaml", &rs.Agro},
		{"commercial.yaml", &rs.Commercial},
		{"layout.yaml", &rs.Layout},
		{"training.yaml", &rs.Training},
	}
	for _, f := range files {
		data, err := ruleFiles.ReadFile(path.Join("rules", f.name))
		if err != nil {
			return nil, fmt.Errorf("failed to read rule table %s: %w", f.name, err)
		}
		if err := yaml.Unmarshal(data, f.dst); err != nil {
			return nil, fmt.Errorf("failed to parse rule table %s: %w", f.name, err)
		}
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

// MustLoadDefaultRules is LoadDefaultRules for package initialization and tests
func MustLoadDefaultRules() *RuleSet {
	rs, err := LoadDefaultRules()
	if err != nil {
		panic(err)
	}
	return rs
}

// Validate checks that every rule names a document type of the taxonomy
func (rs *RuleSet) Validate() error {
	check := func(table string, dt DocumentType) error {
		if !dt.IsKnown() {
			return fmt.Errorf("%s rules: unknown document type %q", table, dt)
		}
		return nil
	}
	for _, r := range rs.Keyword.Types {
		if err := check("keyword", r.Type); err != nil {
			return err
		}
	}
	for _, r := range rs.Regex.Types {
		if err := check("regex", r.Type); err != nil {
			return err
		}
	}
	for _, r := range rs.Agro.Types {
		if err := check("agro", r.Type); err != nil {
			return err
		}
	}
	for _, r := range rs.Commercial.Types {
		if err := check("commercial", r.Type); err != nil {
			return err
		}
	}
	for _, r := range rs.Layout.Types {
		if err := check("layout", r.Type); err != nil {
			return err
		}
	}
	for _, s := range rs.Training.Samples {
		if err := check("training", s.Label); err != nil {
			return err
		}
	}
	return nil
}

// RuleOverlay adds keywords and patterns to the default tables at startup
type RuleOverlay struct {
	Keyword    []KeywordRule    `yaml:"keyword"`
	Regex      []RegexRule      `yaml:"regex"`
	Agro       []DomainRule     `yaml:"agro"`
	Commercial []DomainRule     `yaml:"commercial"`
	Training   []TrainingSample `yaml:"training"`
}

// LoadRuleOverlay reads a YAML overlay file
func LoadRuleOverlay(filePath string) (*RuleOverlay, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule overlay: %w", err)
	}

	var overlay RuleOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse rule overlay: %w", err)
	}
	return &overlay, nil
}

// LoadRules returns the default tables with the overlay at overlayPath
// applied. An empty path yields the defaults.
func LoadRules(overlayPath string) (*RuleSet, error) {
	rs, err := LoadDefaultRules()
	if err != nil {
		return nil, err
	}
	if overlayPath == "" {
		return rs, nil
	}
	overlay, err := LoadRuleOverlay(overlayPath)
	if err != nil {
		return nil, err
	}
	if err := rs.Apply(overlay); err != nil {
		return nil, err
	}
	return rs, nil
}

// Apply merges the overlay into the rule set. Entries for a type already in
// a table are appended to it; new types are added at the end.
func (rs *RuleSet) Apply(o *RuleOverlay) error {
	if o == nil {
		return nil
	}

	for _, add := range o.Keyword {
		idx := -1
		for i := range rs.Keyword.Types {
			if rs.Keyword.Types[i].Type == add.Type {
				idx = i
				break
			}
		}
		if idx < 0 {
			rs.Keyword.Types = append(rs.Keyword.Types, KeywordRule{Type: add.Type})
			idx = len(rs.Keyword.Types) - 1
		}
		rs.Keyword.Types[idx].Keywords = append(rs.Keyword.Types[idx].Keywords, add.Keywords...)
	}

	for _, add := range o.Regex {
		idx := -1
		for i := range rs.Regex.Types {
			if rs.Regex.Types[i].Type == add.Type {
				idx = i
				break
			}
		}
		if idx < 0 {
			rs.Regex.Types = append(rs.Regex.Types, RegexRule{Type: add.Type})
			idx = len(rs.Regex.Types) - 1
		}
		rs.Regex.Types[idx].Patterns = append(rs.Regex.Types[idx].Patterns, add.Patterns...)
	}

	mergeDomain(&rs.Agro, o.Agro)
	mergeDomain(&rs.Commercial, o.Commercial)
	rs.Training.Samples = append(rs.Training.Samples, o.Training...)

	return rs.Validate()
}

func mergeDomain(dst *DomainRules, adds []DomainRule) {
	for _, add := range adds {
		idx := -1
		for i := range dst.Types {
			if dst.Types[i].Type == add.Type {
				idx = i
				break
			}
		}
		if idx < 0 {
			dst.Types = append(dst.Types, DomainRule{Type: add.Type})
			idx = len(dst.Types) - 1
		}
		t := &dst.Types[idx]
		t.Keywords = append(t.Keywords, add.Keywords...)
		t.Patterns = append(t.Patterns, add.Patterns...)
		t.Required = append(t.Required, add.Required...)
	}
}
