package intelligence

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

// normalize folds composed/decomposed accents into NFC so that "ó" typed as
// o + U+0301 matches rule tables written with precomposed characters.
func normalize(text string) string {
	return norm.NFC.String(text)
}

func lowerText(text string) string {
	return strings.ToLower(normalize(text))
}

func upperText(text string) string {
	return strings.ToUpper(normalize(text))
}

// firstWords joins the first n whitespace-separated words of text.
func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// isUpper reports whether s has at least one cased letter and no lowercase ones.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

// compilePattern compiles a rule pattern with the given inline flags ("i", "im", "").
func compilePattern(pattern, flags string) (*regexp.Regexp, error) {
	expr := pattern
	if flags != "" {
		expr = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	return re, nil
}

// compilePatterns compiles every pattern, logging and skipping invalid ones.
func compilePatterns(patterns []string, flags string, logger zerolog.Logger) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := compilePattern(p, flags)
		if err != nil {
			logger.Warn().Err(err).Str("pattern", p).Msg("skipping invalid pattern")
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

// argmax returns the first type in order holding the highest score.
func argmax(order []DocumentType, scores map[DocumentType]float64) (DocumentType, float64) {
	best := DocumentTypeUnknown
	bestScore := 0.0
	found := false
	for _, dt := range order {
		s, ok := scores[dt]
		if !ok {
			continue
		}
		if !found || s > bestScore {
			best, bestScore, found = dt, s, true
		}
	}
	return best, bestScore
}
