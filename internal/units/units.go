// Package units provides shared constants and conversions for speed units.
// The simulation core works in km/h; the lane integrates positions in metres.
package units

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

const (
	kmhPerMps = 3.6
	mphPerMps = 2.2369362920544
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mps, mph, kmph, kph"
}

// KmhToMps converts km/h to m/s.
func KmhToMps(kmh float64) float64 {
	return kmh / kmhPerMps
}

// MpsToKmh converts m/s to km/h.
func MpsToKmh(mps float64) float64 {
	return mps * kmhPerMps
}

// ConvertSpeed converts a speed from meters per second to the target units
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMPS
	case MPH:
		return speedMPS * mphPerMps
	case KMPH, KPH:
		return speedMPS * kmhPerMps
	default:
		return speedMPS
	}
}

// ConvertKmh converts a simulation speed in km/h to the target units.
func ConvertKmh(speedKmh float64, targetUnits string) float64 {
	return ConvertSpeed(KmhToMps(speedKmh), targetUnits)
}
