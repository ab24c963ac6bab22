package intelligence

import (
	"context"
	"math"
	"strings"

	"github.com/rs/zerolog"
)

// LayoutScorer scores document types from the visual layout of the first
// page: titles, tables, dominant font size, margins.
type LayoutScorer struct {
	rules  LayoutRules
	logger zerolog.Logger
}

// TitleCandidate is a span that looks like a document title
type TitleCandidate struct {
	Text     string  `json:"text"`
	FontSize float64 `json:"font_size"`
	Position float64 `json:"position"`
}

// Margins are the empty page fractions around the content
type Margins struct {
	Left   float64 `json:"left_margin"`
	Right  float64 `json:"right_margin"`
	Top    float64 `json:"top_margin"`
	Bottom float64 `json:"bottom_margin"`
}

// LayoutAnalysis is the measured layout of one page
type LayoutAnalysis struct {
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	TotalBlocks int     `json:"total_blocks"`

	Titles []TitleCandidate `json:"detected_titles"`

	TableIndicators int  `json:"table_indicators"`
	AlignedBlocks   int  `json:"aligned_blocks"`
	HasTable        bool `json:"has_table_structure"`

	FontSizes      map[float64]int `json:"-"`
	MostCommonSize float64         `json:"most_common_size"`
	SizeVariety    int             `json:"size_variety"`
	AverageSize    float64         `json:"average_size"`

	Margins *Margins `json:"margins,omitempty"`

	text string
}

// LayoutReport is the full layout breakdown of a document
type LayoutReport struct {
	Classification DocumentType             `json:"classification"`
	Confidence     float64                  `json:"confidence"`
	Scores         map[DocumentType]float64 `json:"scores"`
	Analysis       *LayoutAnalysis          `json:"analysis,omitempty"`
	Zones          map[string]float64       `json:"zone_distribution"`
	Error          string                   `json:"error,omitempty"`
}

// NewLayoutScorer creates a layout scorer over the given table
func NewLayoutScorer(rules LayoutRules, logger zerolog.Logger) *LayoutScorer {
	if rules.MaxScore <= 0 {
		rules.MaxScore = 5
	}
	return &LayoutScorer{
		rules:  rules,
		logger: logger.With().Str("component", "layout_scorer").Logger(),
	}
}

func (s *LayoutScorer) Method() Method { return MethodLayout }

// Score classifies the first page geometry of in. Missing or unreadable
// geometry yields desconocido without an error.
func (s *LayoutScorer) Score(ctx context.Context, in Input) (ScoreResult, error) {
	if in.Geometry == nil {
		return unknownResult(), nil
	}
	page, err := in.Geometry.PageGeometry(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("layout analysis unavailable")
		res := unknownResult()
		res.Details = map[string]any{"geometry_error": err.Error()}
		return res, nil
	}

	analysis := s.analyze(page)
	if analysis == nil {
		return unknownResult(), nil
	}

	scores, best, score := s.scoreAll(analysis)
	if score <= 0 {
		return unknownResult(), nil
	}
	return ScoreResult{
		Type:       best,
		Confidence: score,
		Details: map[string]any{
			"has_table_structure": analysis.HasTable,
			"title_count":         len(analysis.Titles),
			"scores":              scores,
		},
	}, nil
}

// Report returns the per-type scores, the measured layout and the zone
// distribution of the blocks
func (s *LayoutScorer) Report(ctx context.Context, src GeometrySource) LayoutReport {
	r := LayoutReport{
		Classification: DocumentTypeUnknown,
		Scores:         map[DocumentType]float64{},
		Zones:          map[string]float64{},
	}
	if src == nil {
		r.Error = ErrNoGeometry.Error()
		return r
	}
	page, err := src.PageGeometry(ctx)
	if err != nil {
		r.Error = err.Error()
		return r
	}

	analysis := s.analyze(page)
	if analysis == nil {
		r.Error = ErrNoGeometry.Error()
		return r
	}

	scores, best, score := s.scoreAll(analysis)
	r.Scores = scores
	r.Analysis = analysis
	r.Zones = s.zoneDistribution(page)
	if score > 0 {
		r.Classification = best
		r.Confidence = score
	}
	return r
}

func (s *LayoutScorer) scoreAll(a *LayoutAnalysis) (map[DocumentType]float64, DocumentType, float64) {
	order := make([]DocumentType, 0, len(s.rules.Types))
	scores := make(map[DocumentType]float64, len(s.rules.Types))
	for _, rule := range s.rules.Types {
		order = append(order, rule.Type)
		scores[rule.Type] = s.typeScore(a, rule)
	}
	best, score := argmax(order, scores)
	return scores, best, score
}

func (s *LayoutScorer) analyze(page *PageGeometry) *LayoutAnalysis {
	if page == nil || page.Width <= 0 || page.Height <= 0 || len(page.Blocks) == 0 {
		return nil
	}

	a := &LayoutAnalysis{
		Width:       page.Width,
		Height:      page.Height,
		AspectRatio: page.Width / page.Height,
		TotalBlocks: len(page.Blocks),
		Titles:      []TitleCandidate{},
		FontSizes:   make(map[float64]int),
	}

	var texts []string
	var sizeOrder []float64
	sizeSum, sizeCount := 0.0, 0
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)

	for _, b := range page.Blocks {
		flat := lowerText(flatText(b))
		texts = append(texts, flat)

		for _, kw := range s.rules.TableKeywords {
			if strings.Contains(flat, lowerText(kw)) {
				a.TableIndicators++
			}
		}
		if len(b.Lines) > 3 {
			origins := make(map[float64]struct{})
			for _, l := range b.Lines {
				origins[l.BBox.X0] = struct{}{}
			}
			if len(origins) <= 2 {
				a.AlignedBlocks++
			}
		}

		yNorm := b.BBox.Y0 / page.Height
		for _, l := range b.Lines {
			for _, sp := range l.Spans {
				if _, seen := a.FontSizes[sp.FontSize]; !seen {
					sizeOrder = append(sizeOrder, sp.FontSize)
				}
				a.FontSizes[sp.FontSize]++
				sizeSum += sp.FontSize
				sizeCount++

				if yNorm <= s.rules.Zones.Title && s.isTitle(sp) {
					a.Titles = append(a.Titles, TitleCandidate{
						Text:     strings.TrimSpace(sp.Text),
						FontSize: sp.FontSize,
						Position: yNorm,
					})
				}
			}
		}

		minX = math.Min(minX, b.BBox.X0)
		maxX = math.Max(maxX, b.BBox.X1)
		minY = math.Min(minY, b.BBox.Y0)
		maxY = math.Max(maxY, b.BBox.Y1)
	}

	a.HasTable = a.TableIndicators >= 3 || a.AlignedBlocks >= 2
	a.SizeVariety = len(a.FontSizes)
	if sizeCount > 0 {
		a.AverageSize = sizeSum / float64(sizeCount)
		best := 0
		for _, size := range sizeOrder {
			if n := a.FontSizes[size]; n > best {
				best = n
				a.MostCommonSize = size
			}
		}
	}
	a.Margins = &Margins{
		Left:   minX / page.Width,
		Right:  1 - maxX/page.Width,
		Top:    minY / page.Height,
		Bottom: 1 - maxY/page.Height,
	}
	a.text = strings.Join(texts, " ")
	return a
}

func (s *LayoutScorer) isTitle(sp Span) bool {
	text := strings.TrimSpace(sp.Text)
	if len([]rune(text)) <= 5 {
		return false
	}
	if sp.FontSize <= 12 && !isUpper(text) {
		return false
	}
	lower := lowerText(text)
	for _, w := range s.rules.TitleWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func (s *LayoutScorer) typeScore(a *LayoutAnalysis, rule LayoutRule) float64 {
	score := 0.0

	for _, t := range a.Titles {
		if containsAny(lowerText(t.Text), rule.TitleKeywords) {
			score += 1
			break
		}
	}

	if len(rule.TableIndicators) > 0 {
		if a.HasTable {
			score += 1
		}
	} else if !a.HasTable {
		score += 0.5
	}

	if len(rule.TypicalFontSizes) > 0 && a.SizeVariety > 0 {
		exact, near := false, false
		for _, size := range rule.TypicalFontSizes {
			if a.MostCommonSize == size {
				exact = true
			}
			if math.Abs(a.MostCommonSize-size) <= 2 {
				near = true
			}
		}
		switch {
		case exact:
			score += 1
		case near:
			score += 0.5
		}
	}

	if m := a.Margins; m != nil {
		if m.Left > s.rules.MarginThreshold && m.Right > s.rules.MarginThreshold {
			score += 0.5
		}
		if m.Top > s.rules.MarginThreshold && m.Bottom > s.rules.MarginThreshold {
			score += 0.5
		}
	}

	if rule.HasTaxSection && containsAny(a.text, s.rules.TaxTerms) {
		score += 0.5
	}
	if n := len(rule.TableIndicators); n > 0 {
		found := 0
		for _, term := range rule.TableIndicators {
			if strings.Contains(a.text, lowerText(term)) {
				found++
			}
		}
		score += math.Min(float64(found)/float64(n), 0.5)
	}

	return clamp01(score / s.rules.MaxScore)
}

func (s *LayoutScorer) zoneDistribution(page *PageGeometry) map[string]float64 {
	counts := make(map[string]int)
	for _, b := range page.Blocks {
		center := (b.BBox.Y0 + b.BBox.Y1) / 2 / page.Height
		switch {
		case center <= s.rules.Zones.Header:
			counts["header"]++
		case center >= s.rules.Zones.Footer:
			counts["footer"]++
		case center <= s.rules.Zones.Title:
			counts["title"]++
		default:
			counts["content"]++
		}
	}
	dist := make(map[string]float64, len(counts))
	for zone, n := range counts {
		dist[zone] = float64(n) / float64(len(page.Blocks))
	}
	return dist
}

// flatText joins every span of a block with single spaces
func flatText(b Block) string {
	var parts []string
	for _, l := range b.Lines {
		for _, sp := range l.Spans {
			parts = append(parts, sp.Text)
		}
	}
	return strings.Join(parts, " ")
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, lowerText(t)) {
			return true
		}
	}
	return false
}
