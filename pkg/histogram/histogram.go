// Package histogram computes fixed-bin intensity histograms of canonical
// arrays and hands them to a Presenter for display.
package histogram

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"slices"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"medview/pkg/errs"
	"medview/pkg/ndarray"
)

// DefaultBins is the bin count used when none is configured.
const DefaultBins = 256

// Histogram holds per-bin counts. Bin i covers [Edges[i], Edges[i+1]); the
// last bin also includes the largest observed value.
type Histogram struct {
	Counts []float64
	Edges  []float64
}

// Compute bins every element of a into bins equal-width bins spanning the
// observed minimum and maximum. A constant array is binned over
// [v-0.5, v+0.5].
func Compute(a *ndarray.Array, bins int) (*Histogram, error) {
	if bins < 1 {
		return nil, errs.Invalid("histogram", "bin count %d must be at least 1", bins)
	}
	if a.Len() == 0 {
		return nil, errs.Invalid("histogram", "empty array")
	}
	lo, hi := a.MinMax()
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	edges := floats.Span(make([]float64, bins+1), lo, hi)

	dividers := slices.Clone(edges)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	x := slices.Clone(a.Data())
	slices.Sort(x)
	return &Histogram{
		Counts: stat.Histogram(nil, dividers, x, nil),
		Edges:  edges,
	}, nil
}

// Total returns the sum of all counts.
func (h *Histogram) Total() float64 { return floats.Sum(h.Counts) }

// Presenter displays a histogram.
type Presenter interface {
	Present(h *Histogram) error
}

// PNGPresenter renders a bar chart of the histogram to an image file. The
// format follows the file extension (png, svg, pdf, ...).
type PNGPresenter struct {
	Path   string
	Title  string
	Width  vg.Length
	Height vg.Length
}

// NewPNGPresenter returns a presenter writing a 6x4 inch chart to path.
func NewPNGPresenter(path string) *PNGPresenter {
	return &PNGPresenter{
		Path:   path,
		Title:  "Intensity histogram",
		Width:  6 * vg.Inch,
		Height: 4 * vg.Inch,
	}
}

// Present draws h and saves it to p.Path.
func (p *PNGPresenter) Present(h *Histogram) error {
	bins := make([]plotter.HistogramBin, len(h.Counts))
	for i, c := range h.Counts {
		bins[i] = plotter.HistogramBin{Min: h.Edges[i], Max: h.Edges[i+1], Weight: c}
	}
	bars := &plotter.Histogram{
		Bins:      bins,
		Width:     h.Edges[1] - h.Edges[0],
		FillColor: color.Gray{Y: 96},
		LineStyle: plotter.DefaultLineStyle,
	}
	bars.LineStyle.Width = vg.Points(0.25)

	pl := plot.New()
	pl.Title.Text = p.Title
	pl.X.Label.Text = "Intensity"
	pl.Y.Label.Text = "Count"
	pl.Add(bars)
	if err := pl.Save(p.Width, p.Height, p.Path); err != nil {
		return errs.Encode("histogram", p.Path, err)
	}
	return nil
}

// TextPresenter writes one line per non-empty bin.
type TextPresenter struct {
	W io.Writer
}

// Present writes the non-empty bins of h to t.W.
func (t TextPresenter) Present(h *Histogram) error {
	for i, c := range h.Counts {
		if c == 0 {
			continue
		}
		if _, err := fmt.Fprintf(t.W, "[%g, %g)\t%s\n", h.Edges[i], h.Edges[i+1], humanize.Comma(int64(c))); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(t.W, "total\t%s\n", humanize.Comma(int64(h.Total())))
	return err
}
