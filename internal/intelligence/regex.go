package intelligence

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

type typePatterns struct {
	sources  []string
	compiled []*regexp.Regexp
}

// RegexScorer scores document types by structural patterns: document
// headers, column titles, fiscal markers.
type RegexScorer struct {
	mu         sync.RWMutex
	maxMatches int
	order      []DocumentType
	patterns   map[DocumentType]*typePatterns

	header        []*regexp.Regexp
	table         []*regexp.Regexp
	totals        []*regexp.Regexp
	compliance    []*regexp.Regexp
	minCompliance int

	logger zerolog.Logger
}

// StructureAnalysis flags the generic structure found in a document
type StructureAnalysis struct {
	HasHeader      bool    `json:"has_header"`
	HasTable       bool    `json:"has_table_structure"`
	HasTotals      bool    `json:"has_totals"`
	IsCompliant    bool    `json:"is_afip_compliant"`
	StructureScore float64 `json:"structure_score"`
}

// PatternHit is one pattern that matched the text
type PatternHit struct {
	Pattern string   `json:"pattern"`
	Matches []string `json:"matches"`
	Count   int      `json:"count"`
}

// NewRegexScorer compiles the table. Invalid patterns are logged and skipped
// but still count toward their type's normalization.
func NewRegexScorer(rules RegexRules, logger zerolog.Logger) *RegexScorer {
	logger = logger.With().Str("component", "regex_scorer").Logger()
	maxMatches := rules.MaxMatchesPerPattern
	if maxMatches <= 0 {
		maxMatches = 3
	}

	s := &RegexScorer{
		maxMatches:    maxMatches,
		patterns:      make(map[DocumentType]*typePatterns, len(rules.Types)),
		header:        compilePatterns(rules.Structure.Header, "m", logger),
		table:         compilePatterns(rules.Structure.Table, "i", logger),
		totals:        compilePatterns(rules.Structure.Totals, "i", logger),
		minCompliance: rules.Compliance.MinMatches,
		logger:        logger,
	}

	names := make([]string, 0, len(rules.Compliance.Patterns))
	for name := range rules.Compliance.Patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := rules.Compliance.Patterns[name]
		re, err := compilePattern(p, "i")
		if err != nil {
			logger.Warn().Err(err).Str("marker", name).Msg("skipping invalid compliance pattern")
			continue
		}
		s.compliance = append(s.compliance, re)
	}

	for _, r := range rules.Types {
		tp, ok := s.patterns[r.Type]
		if !ok {
			tp = &typePatterns{}
			s.patterns[r.Type] = tp
			s.order = append(s.order, r.Type)
		}
		tp.sources = append(tp.sources, r.Patterns...)
		tp.compiled = append(tp.compiled, compilePatterns(r.Patterns, "im", logger)...)
	}
	return s
}

func (s *RegexScorer) Method() Method { return MethodRegex }

// Score returns the type with the highest normalized pattern score
func (s *RegexScorer) Score(_ context.Context, in Input) (ScoreResult, error) {
	text := normalize(in.Text)
	if text == "" {
		return unknownResult(), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := make(map[DocumentType]float64, len(s.order))
	for _, dt := range s.order {
		scores[dt] = s.typeScore(text, s.patterns[dt])
	}

	best, score := argmax(s.order, scores)
	if score <= 0 {
		return unknownResult(), nil
	}
	return ScoreResult{Type: best, Confidence: clamp01(score)}, nil
}

func (s *RegexScorer) typeScore(text string, tp *typePatterns) float64 {
	if tp == nil || len(tp.sources) == 0 {
		return 0
	}
	total := 0
	for _, re := range tp.compiled {
		total += min(len(re.FindAllStringIndex(text, -1)), s.maxMatches)
	}
	return clamp01(float64(total) / float64(len(tp.sources)*s.maxMatches))
}

// AnalyzeStructure reports the generic header, table, totals and fiscal
// compliance markers found in text
func (s *RegexScorer) AnalyzeStructure(text string) StructureAnalysis {
	text = normalize(text)
	a := StructureAnalysis{
		HasHeader: anyMatch(s.header, text),
		HasTable:  anyMatch(s.table, text),
		HasTotals: anyMatch(s.totals, text),
	}

	markers := 0
	for _, re := range s.compliance {
		if re.MatchString(text) {
			markers++
		}
	}
	a.IsCompliant = markers >= s.minCompliance

	flags := 0
	for _, f := range []bool{a.HasHeader, a.HasTable, a.HasTotals, a.IsCompliant} {
		if f {
			flags++
		}
	}
	a.StructureScore = float64(flags) / 4
	return a
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Details returns the matching patterns per type. An empty dt inspects all types.
func (s *RegexScorer) Details(text string, dt DocumentType) map[DocumentType][]PatternHit {
	text = normalize(text)
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := s.order
	if dt != "" {
		types = []DocumentType{dt}
	}

	details := make(map[DocumentType][]PatternHit)
	for _, t := range types {
		tp, ok := s.patterns[t]
		if !ok {
			continue
		}
		for _, re := range tp.compiled {
			found := re.FindAllString(text, -1)
			if len(found) == 0 {
				continue
			}
			details[t] = append(details[t], PatternHit{
				Pattern: re.String(),
				Matches: found,
				Count:   len(found),
			})
		}
	}
	return details
}

// AddPattern appends a pattern to a type, creating the type entry if needed
func (s *RegexScorer) AddPattern(dt DocumentType, pattern string) error {
	if !dt.IsKnown() {
		return fmt.Errorf("unknown document type %q", dt)
	}
	re, err := compilePattern(pattern, "im")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tp, ok := s.patterns[dt]
	if !ok {
		tp = &typePatterns{}
		s.patterns[dt] = tp
		s.order = append(s.order, dt)
	}
	tp.sources = append(tp.sources, pattern)
	tp.compiled = append(tp.compiled, re)

	s.logger.Info().Str("type", string(dt)).Str("pattern", pattern).Msg("pattern added")
	return nil
}

// Patterns returns a copy of the configured patterns per type
func (s *RegexScorer) Patterns() map[DocumentType][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[DocumentType][]string, len(s.patterns))
	for dt, tp := range s.patterns {
		out[dt] = append([]string(nil), tp.sources...)
	}
	return out
}
