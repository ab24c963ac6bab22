package pdf

import (
	"math"
	"sort"
	"strings"

	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/ledongthuc/pdf"
)

const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
	defaultGlyphSize  = 10.0
)

// glyph is a positioned character with a top-left origin
type glyph struct {
	text   string
	font   string
	size   float64
	x0, x1 float64
	top    float64
	bottom float64
}

// mediaBox returns the page size, walking up the page tree for an
// inherited MediaBox.
func mediaBox(page pdf.Page) (float64, float64) {
	for v := page.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w > 0 && h > 0 {
				return w, h
			}
		}
	}
	return defaultPageWidth, defaultPageHeight
}

// buildGeometry groups glyphs into lines, spans and blocks in reading order
func buildGeometry(texts []pdf.Text, width, height float64) *intelligence.PageGeometry {
	geo := &intelligence.PageGeometry{Width: width, Height: height}

	glyphs := make([]glyph, 0, len(texts))
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		size := t.FontSize
		if size <= 0 {
			size = defaultGlyphSize
		}
		w := t.W
		if w <= 0 {
			// fonts without a Widths array report zero advance
			w = 0.5 * size * float64(len([]rune(t.S)))
		}
		glyphs = append(glyphs, glyph{
			text:   t.S,
			font:   t.Font,
			size:   size,
			x0:     t.X,
			x1:     t.X + w,
			top:    height - (t.Y + size),
			bottom: height - t.Y,
		})
	}
	if len(glyphs) == 0 {
		return geo
	}

	sort.SliceStable(glyphs, func(i, j int) bool {
		if glyphs[i].bottom != glyphs[j].bottom {
			return glyphs[i].bottom < glyphs[j].bottom
		}
		return glyphs[i].x0 < glyphs[j].x0
	})

	var lines [][]glyph
	for _, g := range glyphs {
		if n := len(lines); n > 0 {
			last := lines[n-1]
			ref := last[0]
			if math.Abs(g.bottom-ref.bottom) <= math.Max(1, 0.3*ref.size) {
				lines[n-1] = append(last, g)
				continue
			}
		}
		lines = append(lines, []glyph{g})
	}

	var built []intelligence.Line
	for _, l := range lines {
		sort.SliceStable(l, func(i, j int) bool { return l[i].x0 < l[j].x0 })
		built = append(built, buildLine(l))
	}

	geo.Blocks = groupBlocks(built)
	return geo
}

func buildLine(glyphs []glyph) intelligence.Line {
	var line intelligence.Line
	var sb strings.Builder
	cur := glyphs[0]
	span := intelligence.Span{
		FontName: cur.font,
		FontSize: cur.size,
		BBox:     intelligence.Rect{X0: cur.x0, Y0: cur.top, X1: cur.x1, Y1: cur.bottom},
	}
	sb.WriteString(cur.text)

	flush := func() {
		span.Text = strings.TrimSpace(sb.String())
		if span.Text != "" {
			line.Spans = append(line.Spans, span)
		}
		sb.Reset()
	}

	for _, g := range glyphs[1:] {
		gap := g.x0 - span.BBox.X1
		if g.font != span.FontName || g.size != span.FontSize || gap > 1.5*span.FontSize {
			flush()
			span = intelligence.Span{
				FontName: g.font,
				FontSize: g.size,
				BBox:     intelligence.Rect{X0: g.x0, Y0: g.top, X1: g.x1, Y1: g.bottom},
			}
			sb.WriteString(g.text)
			continue
		}
		if gap > 0.2*span.FontSize && !strings.HasSuffix(sb.String(), " ") {
			sb.WriteByte(' ')
		}
		sb.WriteString(g.text)
		span.BBox = union(span.BBox, intelligence.Rect{X0: g.x0, Y0: g.top, X1: g.x1, Y1: g.bottom})
	}
	flush()

	for i, s := range line.Spans {
		if i == 0 {
			line.BBox = s.BBox
			continue
		}
		line.BBox = union(line.BBox, s.BBox)
	}
	return line
}

func groupBlocks(lines []intelligence.Line) []intelligence.Block {
	var blocks []intelligence.Block
	var prevSize float64
	for _, l := range lines {
		if len(l.Spans) == 0 {
			continue
		}
		size := maxSpanSize(l)
		if n := len(blocks); n > 0 {
			b := &blocks[n-1]
			gap := l.BBox.Y0 - b.BBox.Y1
			if gap <= 0.8*prevSize && overlapsX(b.BBox, l.BBox) {
				b.Lines = append(b.Lines, l)
				b.BBox = union(b.BBox, l.BBox)
				prevSize = size
				continue
			}
		}
		blocks = append(blocks, intelligence.Block{BBox: l.BBox, Lines: []intelligence.Line{l}})
		prevSize = size
	}
	return blocks
}

func maxSpanSize(l intelligence.Line) float64 {
	size := 0.0
	for _, s := range l.Spans {
		size = math.Max(size, s.FontSize)
	}
	return size
}

func overlapsX(a, b intelligence.Rect) bool {
	return a.X0 <= b.X1 && b.X0 <= a.X1
}

func union(a, b intelligence.Rect) intelligence.Rect {
	return intelligence.Rect{
		X0: math.Min(a.X0, b.X0),
		Y0: math.Min(a.Y0, b.Y0),
		X1: math.Max(a.X1, b.X1),
		Y1: math.Max(a.Y1, b.Y1),
	}
}
