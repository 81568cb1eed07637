// Package chart renders case-count line charts as PNG images.
package chart

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/couchcryptid/case-rollup-etl/internal/domain"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrEmptyChart is returned for a chart without points.
var ErrEmptyChart = errors.New("chart has no points")

var lineColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}

// Renderer draws ChartSpecs with gonum/plot.
type Renderer struct {
	width  vg.Length
	height vg.Length
}

// NewRenderer creates a Renderer producing images of the given size.
func NewRenderer(width, height vg.Length) *Renderer {
	return &Renderer{width: width, height: height}
}

// NewDefaultRenderer creates a Renderer for 10x4 inch images.
func NewDefaultRenderer() *Renderer {
	return NewRenderer(10*vg.Inch, 4*vg.Inch)
}

// Extension is the file extension of the images this renderer produces.
func (r *Renderer) Extension() string { return ".png" }

// Render writes spec as a PNG line chart with a date axis.
func (r *Renderer) Render(out io.Writer, spec domain.ChartSpec) error {
	if spec.Empty() {
		return ErrEmptyChart
	}
	if len(spec.Dates) != len(spec.Counts) {
		return fmt.Errorf("chart %q: %d dates but %d counts", spec.Title, len(spec.Dates), len(spec.Counts))
	}

	p := plot.New()
	p.Title.Text = spec.Title
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.X.Label.Text = spec.XLabel
	p.Y.Label.Text = spec.YLabel
	p.X.Tick.Marker = plot.TimeTicks{Format: domain.DateLayout}
	p.Y.Min = 0

	points := make(plotter.XYs, len(spec.Dates))
	for i, d := range spec.Dates {
		points[i].X = float64(d.Unix())
		points[i].Y = spec.Counts[i]
	}

	line, marks, err := plotter.NewLinePoints(points)
	if err != nil {
		return fmt.Errorf("build line: %w", err)
	}
	line.Color = lineColor
	line.Width = vg.Points(1.5)
	marks.GlyphStyle.Color = lineColor
	marks.GlyphStyle.Radius = vg.Points(2)

	p.Add(plotter.NewGrid(), line, marks)

	wt, err := p.WriterTo(r.width, r.height, "png")
	if err != nil {
		return fmt.Errorf("encode chart: %w", err)
	}
	if _, err := wt.WriteTo(out); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	return nil
}
