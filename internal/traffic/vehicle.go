package traffic

import "fmt"

// Kind distinguishes real cars from the obstruction standing in for a red
// signal.
type Kind string

const (
	KindCar    Kind = "car"    // Vehicle spawned upstream and driven by the following rule
	KindSignal Kind = "signal" // Zero-speed obstruction at the intersection while red
)

// Lane geometry in metres along the approach; the intersection sits at 0.
const (
	SpawnPosition        = -400.0
	IntersectionPosition = 0.0
	DespawnPosition      = 3000.0
)

// Vehicle is one entry of the ordered lane sequence. Index 0 of a lane is
// the lead vehicle; later entries are further upstream.
type Vehicle struct {
	ID            int64   `json:"id"`
	Kind          Kind    `json:"kind"`
	Position      float64 `json:"position"`        // metres
	Speed         float64 `json:"speed"`           // km/h
	StoppedTimeMs int64   `json:"stopped_time_ms"` // only accrues for cars
}

// SignalObstruction returns the phantom vehicle that blocks the lane at the
// intersection while the signal is red.
func SignalObstruction() Vehicle {
	return Vehicle{Kind: KindSignal, Position: IntersectionPosition}
}

// IsCar reports whether v is a real car.
func (v Vehicle) IsCar() bool {
	return v.Kind == KindCar
}

func (v Vehicle) String() string {
	return fmt.Sprintf("%s#%d pos=%.2fm speed=%.2fkm/h stopped=%dms", v.Kind, v.ID, v.Position, v.Speed, v.StoppedTimeMs)
}
