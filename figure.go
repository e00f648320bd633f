package hmibox

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/color"
	"math"
	"sync"

	"git.sr.ht/~sbinet/gg"
	"golang.org/x/image/font/basicfont"
)

// FigureOptions configure one figure session. Zero values fall back to a
// 6.4x4.8 inch canvas at 150 DPI, which is what the authoring tool expects
// for embedded previews.
type FigureOptions struct {
	Width  int     // pixels; derived from DPI when 0
	Height int     // pixels; derived from DPI when 0
	DPI    float64 // default 150
	Title  string
	XLabel string
	YLabel string
}

const (
	defaultFigureDPI     = 150.0
	defaultFigureInchesW = 6.4
	defaultFigureInchesH = 4.8
)

type plotSeries struct {
	label string
	xs    []float64
	ys    []float64
}

// Figure is an explicit plotting session. Draw calls accumulate series on the
// figure; ExportDataURI renders them and clears the figure. There is no
// process-global "current figure": each session owns its own and the consume-
// on-export behavior is visible in this type rather than hidden in a global.
//
// A single Figure is safe for concurrent use; the mutex serializes draws and
// exports so an export sees a consistent series list.
type Figure struct {
	mu     sync.Mutex
	opts   FigureOptions
	series []plotSeries
}

// NewFigure creates an empty figure session.
func NewFigure(opts FigureOptions) *Figure {
	if opts.DPI <= 0 {
		opts.DPI = defaultFigureDPI
	}
	if opts.Width <= 0 {
		opts.Width = int(defaultFigureInchesW * opts.DPI)
	}
	if opts.Height <= 0 {
		opts.Height = int(defaultFigureInchesH * opts.DPI)
	}
	return &Figure{opts: opts}
}

// Line adds a line series to the figure. xs and ys must have equal length;
// the label is used for the legend.
func (f *Figure) Line(label string, xs, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("series %q: x and y lengths differ (%d vs %d)", label, len(xs), len(ys))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.series = append(f.series, plotSeries{label: label, xs: xs, ys: ys})
	return nil
}

// SeriesCount reports how many series are currently drawn on the figure.
func (f *Figure) SeriesCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.series)
}

// ExportDataURI renders the figure to an in-memory PNG, encodes it as a
// base64 data URI ("data:image/png;base64,..."), and clears the drawn series.
// The export consumes the figure: a second call without an intervening draw
// succeeds and returns the encoding of a blank canvas. Exporting an empty
// figure is not an error.
func (f *Figure) ExportDataURI() (string, error) {
	f.mu.Lock()
	series := f.series
	f.series = nil
	f.mu.Unlock()

	var buf bytes.Buffer
	if err := renderPNG(&buf, f.opts, series); err != nil {
		return "", err
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

var seriesPalette = []color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	color.RGBA{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	color.RGBA{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
}

var (
	colorCanvas   = color.White
	colorAxis     = color.RGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xff}
	colorGrid     = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	colorFigText  = color.Black
	colorTickText = color.RGBA{R: 0x55, G: 0x55, B: 0x55, A: 0xff}
)

func renderPNG(buf *bytes.Buffer, opts FigureOptions, series []plotSeries) error {
	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetColor(colorCanvas)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	w := float64(opts.Width)

	if opts.Title != "" {
		dc.SetColor(colorFigText)
		dc.DrawStringAnchored(opts.Title, w/2, 18, 0.5, 0.5)
	}

	if len(series) > 0 {
		drawPlotArea(dc, opts, series)
	}

	return dc.EncodePNG(buf)
}

func drawPlotArea(dc *gg.Context, opts FigureOptions, series []plotSeries) {
	const (
		marginLeft   = 70.0
		marginRight  = 30.0
		marginTop    = 40.0
		marginBottom = 55.0
	)

	w := float64(opts.Width)
	h := float64(opts.Height)
	plotW := w - marginLeft - marginRight
	plotH := h - marginTop - marginBottom

	xMin, xMax, yMin, yMax := dataBounds(series)

	toPx := func(x, y float64) (float64, float64) {
		px := marginLeft + (x-xMin)/(xMax-xMin)*plotW
		py := marginTop + (1-(y-yMin)/(yMax-yMin))*plotH
		return px, py
	}

	// grid and tick labels
	const ticks = 5
	dc.SetLineWidth(1)
	for i := 0; i <= ticks; i++ {
		frac := float64(i) / ticks

		gx := marginLeft + frac*plotW
		dc.SetColor(colorGrid)
		dc.DrawLine(gx, marginTop, gx, marginTop+plotH)
		dc.Stroke()
		dc.SetColor(colorTickText)
		dc.DrawStringAnchored(formatTick(xMin+frac*(xMax-xMin)), gx, marginTop+plotH+14, 0.5, 0.5)

		gy := marginTop + (1-frac)*plotH
		dc.SetColor(colorGrid)
		dc.DrawLine(marginLeft, gy, marginLeft+plotW, gy)
		dc.Stroke()
		dc.SetColor(colorTickText)
		dc.DrawStringAnchored(formatTick(yMin+frac*(yMax-yMin)), marginLeft-8, gy, 1, 0.5)
	}

	// axes
	dc.SetColor(colorAxis)
	dc.SetLineWidth(1.5)
	dc.DrawLine(marginLeft, marginTop, marginLeft, marginTop+plotH)
	dc.DrawLine(marginLeft, marginTop+plotH, marginLeft+plotW, marginTop+plotH)
	dc.Stroke()

	if opts.XLabel != "" {
		dc.SetColor(colorFigText)
		dc.DrawStringAnchored(opts.XLabel, marginLeft+plotW/2, h-14, 0.5, 0.5)
	}
	if opts.YLabel != "" {
		dc.SetColor(colorFigText)
		dc.Push()
		dc.RotateAbout(-math.Pi/2, 16, marginTop+plotH/2)
		dc.DrawStringAnchored(opts.YLabel, 16, marginTop+plotH/2, 0.5, 0.5)
		dc.Pop()
	}

	for i, s := range series {
		if len(s.xs) == 0 {
			continue
		}
		dc.SetColor(seriesPalette[i%len(seriesPalette)])
		dc.SetLineWidth(2)
		if len(s.xs) == 1 {
			px, py := toPx(s.xs[0], s.ys[0])
			dc.DrawCircle(px, py, 3)
			dc.Fill()
			continue
		}
		for j, x := range s.xs {
			px, py := toPx(x, s.ys[j])
			dc.LineTo(px, py)
		}
		dc.Stroke()
	}

	// legend, top-right corner of the plot area
	legendY := marginTop + 12
	for i, s := range series {
		if s.label == "" {
			continue
		}
		dc.SetColor(seriesPalette[i%len(seriesPalette)])
		dc.DrawLine(marginLeft+plotW-86, legendY, marginLeft+plotW-66, legendY)
		dc.SetLineWidth(2)
		dc.Stroke()
		dc.SetColor(colorFigText)
		dc.DrawStringAnchored(s.label, marginLeft+plotW-60, legendY, 0, 0.5)
		legendY += 14
	}
}

// dataBounds computes the joint extent of all series, padded so flat series
// still produce a non-degenerate scale.
func dataBounds(series []plotSeries) (xMin, xMax, yMin, yMax float64) {
	xMin, yMin = math.Inf(1), math.Inf(1)
	xMax, yMax = math.Inf(-1), math.Inf(-1)

	for _, s := range series {
		for i, x := range s.xs {
			y := s.ys[i]
			if math.IsNaN(x) || math.IsNaN(y) {
				continue
			}
			xMin = math.Min(xMin, x)
			xMax = math.Max(xMax, x)
			yMin = math.Min(yMin, y)
			yMax = math.Max(yMax, y)
		}
	}

	if math.IsInf(xMin, 1) {
		xMin, xMax, yMin, yMax = 0, 1, 0, 1
	}
	if xMax == xMin {
		xMin, xMax = xMin-0.5, xMax+0.5
	}
	if yMax == yMin {
		yMin, yMax = yMin-0.5, yMax+0.5
	}
	return xMin, xMax, yMin, yMax
}

func formatTick(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e7 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.3g", v)
}
