package traffic

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary aggregates the cars of one lane snapshot.
type Summary struct {
	Cars           int     `json:"cars"`
	StoppedCars    int     `json:"stopped_cars"`
	MeanSpeedKmh   float64 `json:"mean_speed_kmh"`
	StdDevSpeedKmh float64 `json:"stddev_speed_kmh"`
	MinSpeedKmh    float64 `json:"min_speed_kmh"`
	MaxSpeedKmh    float64 `json:"max_speed_kmh"`
	StoppedTimeMs  int64   `json:"stopped_time_ms"`
	CO2Kg          float64 `json:"co2_kg"`
	// Inversions counts followers found ahead of the vehicle in front of
	// them, i.e. rear-end overlaps the following rule failed to prevent.
	Inversions int `json:"inversions"`
}

// Summarize computes lane statistics over the cars in vehicles. Signal
// obstructions are ignored.
func Summarize(vehicles []Vehicle) Summary {
	var s Summary
	speeds := make([]float64, 0, len(vehicles))
	var prev *Vehicle
	for i := range vehicles {
		v := vehicles[i]
		if !v.IsCar() {
			continue
		}
		speeds = append(speeds, v.Speed)
		if v.Speed == 0 {
			s.StoppedCars++
		}
		s.StoppedTimeMs += v.StoppedTimeMs
		if prev != nil && prev.Position < v.Position {
			s.Inversions++
		}
		prev = &vehicles[i]
	}

	s.Cars = len(speeds)
	s.CO2Kg = CO2Kg(s.StoppedTimeMs)
	if len(speeds) == 0 {
		return s
	}

	s.MinSpeedKmh = floats.Min(speeds)
	s.MaxSpeedKmh = floats.Max(speeds)
	if len(speeds) == 1 {
		s.MeanSpeedKmh = speeds[0]
		return s
	}
	s.MeanSpeedKmh, s.StdDevSpeedKmh = stat.MeanStdDev(speeds, nil)
	return s
}
