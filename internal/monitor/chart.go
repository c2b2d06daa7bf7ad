// Package monitor renders lane snapshots as charts for the HTTP API.
package monitor

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/crossing/internal/crossing"
	"github.com/banshee-data/crossing/internal/traffic"
	"github.com/banshee-data/crossing/internal/units"
)

// echartsAssetsPrefix serves the echarts javascript from the public CDN.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// LaneChart writes an HTML scatter chart of position against speed for
// every vehicle on the lane. Speeds are shown in unit.
func LaneChart(w io.Writer, title string, state crossing.State, unit string) error {
	if !units.IsValid(unit) {
		return fmt.Errorf("invalid units %q: must be one of %s", unit, units.GetValidUnitsString())
	}

	cars := make([]opts.ScatterData, 0, len(state.Lane))
	var obstruction []opts.ScatterData
	maxSpeed := 0.0
	for _, v := range state.Lane {
		speed := units.ConvertKmh(v.Speed, unit)
		if speed > maxSpeed {
			maxSpeed = speed
		}
		point := opts.ScatterData{
			Name:  v.String(),
			Value: []interface{}{v.Position, speed},
		}
		if v.IsCar() {
			cars = append(cars, point)
		} else {
			obstruction = append(obstruction, point)
		}
	}
	if maxSpeed == 0 {
		maxSpeed = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Crossing lane", Theme: "dark", Width: "1200px", Height: "500px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title: title,
			Subtitle: fmt.Sprintf("tick=%d phase=%s cars=%d stopped=%.1fs co2=%.3fkg (%.1f%% of baseline)",
				state.Tick, state.Phase, state.Summary.Cars, float64(state.StoppedTimeMs)/1000,
				state.CO2Kg, state.CO2BaselinePercent),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "5%"}),
		charts.WithXAxisOpts(opts.XAxis{Min: traffic.SpawnPosition, Max: 100, Name: "Position (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: maxSpeed * 1.1, Name: fmt.Sprintf("Speed (%s)", unit), NameLocation: "middle", NameGap: 40}),
	)

	scatter.AddSeries("cars", cars, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	if len(obstruction) > 0 {
		scatter.AddSeries("red signal", obstruction, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 16}))
	}

	return scatter.Render(w)
}
