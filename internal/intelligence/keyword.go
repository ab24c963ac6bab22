package intelligence

import (
	"context"
	"strings"
)

// KeywordScorer scores document types by counting their keywords in the text.
type KeywordScorer struct {
	rules KeywordRules
	order []DocumentType
	words map[DocumentType][]string
}

// KeywordDetails is the per-type breakdown of a keyword scoring pass
type KeywordDetails struct {
	Scores         map[DocumentType]float64  `json:"scores"`
	KeywordsFound  map[DocumentType][]string `json:"keywords_found"`
	Classification DocumentType              `json:"classification"`
	Confidence     float64                   `json:"confidence"`
}

// NewKeywordScorer creates a keyword scorer over the given table
func NewKeywordScorer(rules KeywordRules) *KeywordScorer {
	s := &KeywordScorer{
		rules: rules,
		words: make(map[DocumentType][]string, len(rules.Types)),
	}
	for _, r := range rules.Types {
		if _, seen := s.words[r.Type]; !seen {
			s.order = append(s.order, r.Type)
		}
		for _, kw := range r.Keywords {
			s.words[r.Type] = append(s.words[r.Type], lowerText(kw))
		}
	}
	return s
}

func (s *KeywordScorer) Method() Method { return MethodKeyword }

// Score returns the best type by keyword score. Below the configured
// threshold the verdict is desconocido carrying the raw best score.
func (s *KeywordScorer) Score(_ context.Context, in Input) (ScoreResult, error) {
	if strings.TrimSpace(in.Text) == "" {
		return unknownResult(), nil
	}

	scores := s.scores(lowerText(in.Text))
	best, score := argmax(s.order, scores)
	if score <= 0 {
		return unknownResult(), nil
	}

	details := map[string]any{"candidate": best}
	if score < s.rules.Threshold {
		return ScoreResult{Type: DocumentTypeUnknown, Confidence: score, Details: details}, nil
	}
	return ScoreResult{Type: best, Confidence: score, Details: details}, nil
}

// Details returns every type's score and the keywords found for it
func (s *KeywordScorer) Details(text string) KeywordDetails {
	lower := lowerText(text)
	d := KeywordDetails{
		Scores:         s.scores(lower),
		KeywordsFound:  make(map[DocumentType][]string),
		Classification: DocumentTypeUnknown,
	}
	for _, dt := range s.order {
		for _, kw := range s.words[dt] {
			if strings.Contains(lower, kw) {
				d.KeywordsFound[dt] = append(d.KeywordsFound[dt], kw)
			}
		}
	}

	if res, err := s.Score(context.Background(), Input{Text: text}); err == nil {
		d.Classification = res.Type
		d.Confidence = res.Confidence
	}
	return d
}

func (s *KeywordScorer) scores(lower string) map[DocumentType]float64 {
	opening := firstWords(lower, s.rules.OpeningWords)
	scores := make(map[DocumentType]float64, len(s.order))
	for _, dt := range s.order {
		total := 0.0
		for _, kw := range s.words[dt] {
			if kw == "" {
				continue
			}
			total += float64(strings.Count(lower, kw)) * s.rules.OccurrenceWeight
			if strings.Contains(opening, kw) {
				total += s.rules.OpeningBonus
			}
		}
		scores[dt] = clamp01(total)
	}
	return scores
}
