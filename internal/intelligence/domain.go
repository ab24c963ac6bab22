package intelligence

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

type domainType struct {
	typ      DocumentType
	keywords []string
	patterns []*regexp.Regexp
	required []string
}

type domainBonus struct {
	weight float64
	terms  []string
	words  []*regexp.Regexp
}

type domainIndicator struct {
	name     string
	re       *regexp.Regexp
	template string
	terms    []string
}

// DomainScorer scores the document types of one business sector. The agro
// and commercial scorers share this engine and differ only in their tables.
type DomainScorer struct {
	method     Method
	rules      DomainRules
	types      []domainType
	elements   map[string][]*regexp.Regexp
	bonus      []domainBonus
	indicators []domainIndicator
	names      []string
}

// DomainDetails is the full breakdown of a sector scoring pass
type DomainDetails struct {
	Classification   DocumentType              `json:"classification"`
	Confidence       float64                   `json:"confidence"`
	TermsFound       []string                  `json:"terms_found"`
	PatternsFound    map[DocumentType][]string `json:"patterns_found"`
	RequiredFound    map[DocumentType][]string `json:"required_found"`
	IsDomainDocument bool                      `json:"is_domain_document"`
	Indicators       map[string][]string       `json:"indicators"`
}

// NewAgroScorer creates the grain and agriculture scorer
func NewAgroScorer(rules DomainRules, logger zerolog.Logger) *DomainScorer {
	return NewDomainScorer(MethodAgro, rules, logger)
}

// NewCommercialScorer creates the banking and payments scorer
func NewCommercialScorer(rules DomainRules, logger zerolog.Logger) *DomainScorer {
	return NewDomainScorer(MethodCommercial, rules, logger)
}

// NewDomainScorer compiles a sector rule table
func NewDomainScorer(method Method, rules DomainRules, logger zerolog.Logger) *DomainScorer {
	logger = logger.With().Str("component", string(method)+"_scorer").Logger()

	s := &DomainScorer{
		method:   method,
		rules:    rules,
		elements: make(map[string][]*regexp.Regexp, len(rules.Elements)),
	}

	for _, e := range rules.Elements {
		s.elements[e.Name] = append(s.elements[e.Name], compilePatterns(e.Patterns, "i", logger)...)
	}

	for _, r := range rules.Types {
		dt := domainType{typ: r.Type, required: r.Required}
		seen := make(map[string]bool, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = lowerText(kw)
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			dt.keywords = append(dt.keywords, kw)
		}
		dt.patterns = compilePatterns(r.Patterns, "i", logger)
		for _, req := range r.Required {
			if _, ok := s.elements[req]; !ok {
				logger.Warn().Str("type", string(r.Type)).Str("element", req).Msg("required element has no patterns")
			}
		}
		s.types = append(s.types, dt)
	}

	for _, b := range rules.Bonus {
		db := domainBonus{weight: b.Weight}
		for _, term := range b.Terms {
			term = lowerText(term)
			if b.WholeWord {
				re, err := compilePattern(`\b`+regexp.QuoteMeta(term)+`\b`, "")
				if err != nil {
					logger.Warn().Err(err).Str("term", term).Msg("skipping invalid bonus term")
					continue
				}
				db.words = append(db.words, re)
				continue
			}
			db.terms = append(db.terms, term)
		}
		s.bonus = append(s.bonus, db)
	}

	for _, ind := range rules.Indicators {
		if !containsString(s.names, ind.Name) {
			s.names = append(s.names, ind.Name)
		}
		di := domainIndicator{name: ind.Name, template: ind.Template}
		if len(ind.Terms) > 0 {
			for _, term := range ind.Terms {
				di.terms = append(di.terms, lowerText(term))
			}
			s.indicators = append(s.indicators, di)
			continue
		}
		re, err := compilePattern(ind.Pattern, "i")
		if err != nil {
			logger.Warn().Err(err).Str("indicator", ind.Name).Msg("skipping invalid indicator")
			continue
		}
		di.re = re
		s.indicators = append(s.indicators, di)
	}

	return s
}

func (s *DomainScorer) Method() Method { return s.method }

type domainPass struct {
	best          DocumentType
	confidence    float64
	termsFound    []string
	patternsFound map[DocumentType][]string
	requiredFound map[DocumentType][]string
}

// Score returns the best sector type with the sector bonus applied
func (s *DomainScorer) Score(_ context.Context, in Input) (ScoreResult, error) {
	p := s.evaluate(in.Text)
	res := ScoreResult{
		Type:       p.best,
		Confidence: p.confidence,
		Details: map[string]any{
			"terms_found":        p.termsFound,
			"patterns_found":     p.patternsFound,
			"required_found":     p.requiredFound,
			"is_domain_document": p.confidence > s.rules.DocumentThreshold,
		},
	}
	return res, nil
}

func (s *DomainScorer) evaluate(text string) domainPass {
	p := domainPass{
		best:          DocumentTypeUnknown,
		termsFound:    []string{},
		patternsFound: make(map[DocumentType][]string),
		requiredFound: make(map[DocumentType][]string),
	}
	if strings.TrimSpace(text) == "" {
		return p
	}

	lower := lowerText(text)
	order := make([]DocumentType, 0, len(s.types))
	scores := make(map[DocumentType]float64, len(s.types))
	for _, t := range s.types {
		order = append(order, t.typ)
		scores[t.typ] = s.typeScore(lower, t, &p)
	}

	best, score := argmax(order, scores)
	if score <= 0 {
		return p
	}

	p.best = best
	p.confidence = clamp01(score + s.sectorBonus(lower))
	return p
}

func (s *DomainScorer) typeScore(lower string, t domainType, p *domainPass) float64 {
	keywordScore := 0.0
	for _, kw := range t.keywords {
		if strings.Contains(lower, kw) {
			keywordScore += s.rules.KeywordWeight
			if !containsString(p.termsFound, kw) {
				p.termsFound = append(p.termsFound, kw)
			}
		}
	}

	patternScore := 0.0
	for _, re := range t.patterns {
		found := re.FindAllString(lower, -1)
		if len(found) > 0 {
			patternScore += s.rules.PatternWeight * float64(len(found))
			p.patternsFound[t.typ] = append(p.patternsFound[t.typ], found...)
		}
	}

	requiredScore := 0.0
	var found []string
	for _, req := range t.required {
		if anyMatch(s.elements[req], lower) {
			requiredScore += s.rules.RequiredWeight
			found = append(found, req)
		}
	}
	if len(found) > 0 {
		p.requiredFound[t.typ] = found
	}

	total := keywordScore + patternScore + requiredScore
	if len(t.required) > 0 {
		ratio := float64(len(found)) / float64(len(t.required))
		total *= 0.5 + 0.5*ratio
	}
	return clamp01(total)
}

func (s *DomainScorer) sectorBonus(lower string) float64 {
	bonus := 0.0
	for _, b := range s.bonus {
		for _, term := range b.terms {
			if strings.Contains(lower, term) {
				bonus += b.weight
			}
		}
		for _, re := range b.words {
			if re.MatchString(lower) {
				bonus += b.weight
			}
		}
	}
	return min(bonus, s.rules.BonusCap)
}

// IsDocument reports whether text belongs to this sector with confidence
// above threshold. A non-positive threshold uses the table default.
func (s *DomainScorer) IsDocument(text string, threshold float64) bool {
	if threshold <= 0 {
		threshold = s.rules.DocumentThreshold
	}
	return s.evaluate(text).confidence > threshold
}

// Indicators extracts the sector values (amounts, weights, banks, dates, ...) found in text
func (s *DomainScorer) Indicators(text string) map[string][]string {
	text = normalize(text)
	lower := strings.ToLower(text)

	out := make(map[string][]string, len(s.names))
	for _, name := range s.names {
		out[name] = []string{}
	}

	for _, ind := range s.indicators {
		if ind.re == nil {
			for _, term := range ind.terms {
				if strings.Contains(lower, term) {
					out[ind.name] = append(out[ind.name], term)
				}
			}
			continue
		}
		for _, m := range ind.re.FindAllStringSubmatchIndex(text, -1) {
			value := ind.re.ExpandString(nil, ind.template, text, m)
			out[ind.name] = append(out[ind.name], string(value))
		}
	}
	return out
}

// Details runs a full scoring pass including indicators
func (s *DomainScorer) Details(text string) DomainDetails {
	p := s.evaluate(text)
	return DomainDetails{
		Classification:   p.best,
		Confidence:       p.confidence,
		TermsFound:       p.termsFound,
		PatternsFound:    p.patternsFound,
		RequiredFound:    p.requiredFound,
		IsDomainDocument: p.confidence > s.rules.DocumentThreshold,
		Indicators:       s.Indicators(text),
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
