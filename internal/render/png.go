// Package render draws reconciled chart models as PNG images.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/lox/plantwatch/internal/series"
)

const (
	DefaultWidth  = 960
	DefaultHeight = 400

	EmptyMessage = "No forecast data available"

	maxTicks = 8
)

var dash = []float64{5, 5}

// PNG renders m at the given size. Every metric is scaled into its own
// bounds so metrics with unrelated units share one plot area.
func PNG(m series.Model, width, height int) ([]byte, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if m.Empty || len(m.Points) == 0 || len(m.Series) == 0 {
		return Message(EmptyMessage, width, height)
	}

	var all []chart.Series
	var legend []chart.Series
	for _, s := range m.Series {
		runs := lineRuns(m, s)
		all = append(all, runs...)
		legend = append(legend, chart.ContinuousSeries{
			Name:    s.Label,
			XValues: []float64{0},
			YValues: []float64{0},
			Style:   lineStyle(s.Color, false),
		})
		all = append(all, markerSeries(m, s)...)
	}

	ch := chart.Chart{
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 20, Left: 16, Right: 16, Bottom: 12}},
		XAxis: chart.XAxis{
			Range: &chart.ContinuousRange{Min: -0.5, Max: float64(len(m.Points)) - 0.5},
			Ticks: xTicks(m.Points),
		},
		YAxis: chart.YAxis{
			Style: chart.Hidden(),
			Range: &chart.ContinuousRange{Min: -0.05, Max: 1.05},
		},
		Series: all,
	}
	legendChart := chart.Chart{Series: legend}
	ch.Elements = []chart.Renderable{chart.Legend(&legendChart)}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

// lineRuns splits a metric into continuous runs. A run breaks at gaps and
// wherever the segment style changes between solid and dashed.
func lineRuns(m series.Model, s series.Series) []chart.Series {
	var runs []chart.Series
	var xs, ys []float64
	var dashed bool

	flush := func() {
		if len(xs) >= 2 {
			runs = append(runs, chart.ContinuousSeries{
				XValues: xs,
				YValues: ys,
				Style:   lineStyle(s.Color, dashed),
			})
		}
		xs, ys = nil, nil
	}

	for _, seg := range m.Segments {
		a, b := s.Values[seg.From], s.Values[seg.From+1]
		if a == nil || b == nil {
			flush()
			continue
		}
		if len(xs) > 0 && seg.Dashed != dashed {
			flush()
		}
		if len(xs) == 0 {
			dashed = seg.Dashed
			xs = append(xs, float64(seg.From))
			ys = append(ys, scale(*a, s.Bounds))
		}
		xs = append(xs, float64(seg.From+1))
		ys = append(ys, scale(*b, s.Bounds))
	}
	flush()
	return runs
}

// markerSeries draws the point markers: small dots for forecast points and
// a larger hollow marker for the current point. Each marker is its own
// single-point series so no line joins them.
func markerSeries(m series.Model, s series.Series) []chart.Series {
	var out []chart.Series
	for i, v := range s.Values {
		if v == nil {
			continue
		}
		x, y := float64(i), scale(*v, s.Bounds)
		mk := m.Points[i].Marker
		out = append(out, dot(x, y, toColor(s.Color), mk.Radius))
		if mk.WhiteFill {
			out = append(out, dot(x, y, drawing.ColorWhite, mk.Radius-mk.BorderWidth))
		}
	}
	return out
}

func dot(x, y float64, c drawing.Color, radius float64) chart.Series {
	return chart.ContinuousSeries{
		XValues: []float64{x},
		YValues: []float64{y},
		Style: chart.Style{
			StrokeColor: c,
			StrokeWidth: 1,
			DotWidth:    radius,
			DotColor:    c,
		},
	}
}

func lineStyle(c series.Color, dashed bool) chart.Style {
	st := chart.Style{
		StrokeColor: toColor(c),
		StrokeWidth: 2,
	}
	if dashed {
		st.StrokeDashArray = dash
	}
	return st
}

func toColor(c series.Color) drawing.Color {
	return drawing.Color{R: c.R, G: c.G, B: c.B, A: 255}
}

// scale maps v into [0, 1] within b. Degenerate bounds put the value in the middle.
func scale(v float64, b series.Bounds) float64 {
	span := b.Max - b.Min
	if span == 0 || math.IsNaN(span) {
		return 0.5
	}
	return (v - b.Min) / span
}

func xTicks(points []series.Point) []chart.Tick {
	step := int(math.Ceil(float64(len(points)) / maxTicks))
	if step < 1 {
		step = 1
	}
	var ticks []chart.Tick
	for i := 0; i < len(points); i += step {
		ticks = append(ticks, chart.Tick{Value: float64(i), Label: points[i].Label})
	}
	return ticks
}

// Message renders a plain image with text centred on it.
func Message(text string, width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	dr := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 107, G: 114, B: 128, A: 255}),
		Face: face,
	}
	tw := dr.MeasureString(text).Ceil()
	x := (width - tw) / 2
	y := (height + face.Metrics().Ascent.Ceil()) / 2
	dr.Dot = fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)}
	dr.DrawString(text)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
