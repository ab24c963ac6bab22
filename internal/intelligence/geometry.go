package intelligence

import (
	"context"
	"strings"
)

// Rect is an axis-aligned box in page points with a top-left origin
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Span is a run of text sharing one font and size
type Span struct {
	Text     string  `json:"text"`
	FontSize float64 `json:"size"`
	FontName string  `json:"font"`
	BBox     Rect    `json:"bbox"`
}

// Line is a horizontal sequence of spans
type Line struct {
	BBox  Rect   `json:"bbox"`
	Spans []Span `json:"spans"`
}

// Block is a group of vertically adjacent lines
type Block struct {
	BBox  Rect   `json:"bbox"`
	Lines []Line `json:"lines"`
}

// Text joins the block's spans, one line per row
func (b Block) Text() string {
	var sb strings.Builder
	for i, l := range b.Lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for j, sp := range l.Spans {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(sp.Text)
		}
	}
	return sb.String()
}

// PageGeometry is the text layout of a single page
type PageGeometry struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Blocks []Block `json:"blocks"`
}

// GeometrySource provides the first-page geometry of a document
type GeometrySource interface {
	PageGeometry(ctx context.Context) (*PageGeometry, error)
}

// GeometryFunc adapts a function to GeometrySource
type GeometryFunc func(ctx context.Context) (*PageGeometry, error)

func (f GeometryFunc) PageGeometry(ctx context.Context) (*PageGeometry, error) {
	return f(ctx)
}

// StaticGeometry returns a source that always yields g
func StaticGeometry(g *PageGeometry) GeometrySource {
	return GeometryFunc(func(context.Context) (*PageGeometry, error) {
		if g == nil {
			return nil, ErrNoGeometry
		}
		return g, nil
	})
}
