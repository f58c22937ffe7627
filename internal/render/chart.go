// Package render produces the downloadable artifacts of an analysis: the
// relation bar chart (PNG) and the plain-text PDF report.
package render

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/KaramelBytes/mpie/internal/report"
	chart "github.com/wcharczuk/go-chart/v2"
)

// ErrNoRelations is returned when there is nothing to plot.
var ErrNoRelations = errors.New("no relations to chart")

const (
	chartHeight   = 420
	barWidth      = 48
	barSpacing    = 24
	minChartWidth = 640
)

// RelationChart is the data behind the R² bar chart: one bar per relation,
// in the order the relations were reported.
type RelationChart struct {
	Title  string
	Labels []string
	Values []float64
}

// NewRelationChart builds the chart model for rels. Non-finite R² values are
// drawn as zero-height bars.
func NewRelationChart(rels []report.Relation) (*RelationChart, error) {
	if len(rels) == 0 {
		return nil, ErrNoRelations
	}
	c := &RelationChart{
		Title:  "Top relations",
		Labels: make([]string, len(rels)),
		Values: make([]float64, len(rels)),
	}
	for i, r := range rels {
		c.Labels[i] = r.Label()
		v := r.RSquared
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		c.Values[i] = v
	}
	return c, nil
}

// yRange spans [0,1] and stretches to cover out-of-range scores.
func (c *RelationChart) yRange() *chart.ContinuousRange {
	lo, hi := 0.0, 1.0
	for _, v := range c.Values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}

// RenderPNG draws the chart as a PNG image into w.
func (c *RelationChart) RenderPNG(w io.Writer) error {
	if len(c.Values) == 0 {
		return ErrNoRelations
	}
	bars := make([]chart.Value, len(c.Values))
	for i, v := range c.Values {
		bars[i] = chart.Value{Label: c.Labels[i], Value: v}
	}
	width := len(bars)*(barWidth+barSpacing) + 120
	if width < minChartWidth {
		width = minChartWidth
	}
	bc := chart.BarChart{
		Title:      c.Title,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 28}},
		Width:      width,
		Height:     chartHeight,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		YAxis:      chart.YAxis{Name: "R²", Range: c.yRange()},
		Bars:       bars,
	}
	if err := bc.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
