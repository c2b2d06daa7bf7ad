package traffic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		vehicles []Vehicle
		want     Summary
	}{
		{
			name: "empty lane",
			want: Summary{},
		},
		{
			name:     "single car",
			vehicles: []Vehicle{{Kind: KindCar, Position: -50, Speed: 40, StoppedTimeMs: 10}},
			want: Summary{
				Cars: 1, MeanSpeedKmh: 40, MinSpeedKmh: 40, MaxSpeedKmh: 40,
				StoppedTimeMs: 10, CO2Kg: CO2Kg(10),
			},
		},
		{
			name: "queue behind red",
			vehicles: []Vehicle{
				SignalObstruction(),
				{Kind: KindCar, Position: -12, Speed: 0, StoppedTimeMs: 3000},
				{Kind: KindCar, Position: -30, Speed: 10, StoppedTimeMs: 1000},
				{Kind: KindCar, Position: -80, Speed: 20},
			},
			want: Summary{
				Cars: 3, StoppedCars: 1,
				MeanSpeedKmh: 10, StdDevSpeedKmh: 10, MinSpeedKmh: 0, MaxSpeedKmh: 20,
				StoppedTimeMs: 4000, CO2Kg: CO2Kg(4000),
			},
		},
		{
			name: "rear-end overlap",
			vehicles: []Vehicle{
				{Kind: KindCar, Position: -10, Speed: 30},
				{Kind: KindCar, Position: -5, Speed: 30},
			},
			want: Summary{
				Cars: 2, MeanSpeedKmh: 30, MinSpeedKmh: 30, MaxSpeedKmh: 30,
				Inversions: 1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.vehicles)
			assert.Equal(t, tt.want.Cars, got.Cars)
			assert.Equal(t, tt.want.StoppedCars, got.StoppedCars)
			assert.InDelta(t, tt.want.MeanSpeedKmh, got.MeanSpeedKmh, 1e-9)
			assert.InDelta(t, tt.want.StdDevSpeedKmh, got.StdDevSpeedKmh, 1e-9)
			assert.Equal(t, tt.want.MinSpeedKmh, got.MinSpeedKmh)
			assert.Equal(t, tt.want.MaxSpeedKmh, got.MaxSpeedKmh)
			assert.Equal(t, tt.want.StoppedTimeMs, got.StoppedTimeMs)
			assert.InDelta(t, tt.want.CO2Kg, got.CO2Kg, 1e-12)
			assert.Equal(t, tt.want.Inversions, got.Inversions)
		})
	}
}

func TestCO2(t *testing.T) {
	t.Parallel()

	assert.Zero(t, CO2Kg(0))
	assert.InDelta(t, 0.588, CO2Kg(1_000_000), 1e-12)
	assert.InDelta(t, 0.000588, CO2Kg(1000), 1e-12)
	assert.InDelta(t, 100, BaselinePercent(BaselineCO2Kg), 1e-9)
	assert.InDelta(t, 32.6666666, BaselinePercent(0.588), 1e-6)
}

func TestVehicle_String(t *testing.T) {
	t.Parallel()

	v := Vehicle{ID: 3, Kind: KindCar, Position: -12.5, Speed: 42, StoppedTimeMs: 15}
	assert.Equal(t, "car#3 pos=-12.50m speed=42.00km/h stopped=15ms", v.String())
	assert.False(t, SignalObstruction().IsCar())
}
