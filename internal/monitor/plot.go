package monitor

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/crossing/internal/crossing"
	"github.com/banshee-data/crossing/internal/units"
)

var (
	carColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	signalColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// LanePlot writes a PNG scatter plot of position against speed.
func LanePlot(w io.Writer, state crossing.State, unit string) error {
	if !units.IsValid(unit) {
		return fmt.Errorf("invalid units %q: must be one of %s", unit, units.GetValidUnitsString())
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Tick %d - %s", state.Tick, state.Phase)
	p.X.Label.Text = "Position (m)"
	p.Y.Label.Text = fmt.Sprintf("Speed (%s)", unit)
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	cars := make(plotter.XYs, 0, len(state.Lane))
	var obstruction plotter.XYs
	for _, v := range state.Lane {
		pt := plotter.XY{X: v.Position, Y: units.ConvertKmh(v.Speed, unit)}
		if v.IsCar() {
			cars = append(cars, pt)
		} else {
			obstruction = append(obstruction, pt)
		}
	}

	if len(cars) > 0 {
		s, err := plotter.NewScatter(cars)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = carColor
		s.GlyphStyle.Radius = vg.Points(2.5)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add("cars", s)
	}
	if len(obstruction) > 0 {
		s, err := plotter.NewScatter(obstruction)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = signalColor
		s.GlyphStyle.Radius = vg.Points(5)
		s.GlyphStyle.Shape = draw.BoxGlyph{}
		p.Add(s)
		p.Legend.Add("red signal", s)
	}

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	return nil
}
