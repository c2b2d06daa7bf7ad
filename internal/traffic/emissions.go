package traffic

// Idling emissions proxy. CO2 is a fixed linear function of stopped time.
const (
	IdleCO2KgPerSecond = 0.588 / 1000
	BaselineCO2Kg      = 1.8 // Reference figure the indicator compares against
)

// CO2Kg converts accumulated stopped time to kilograms of CO2.
func CO2Kg(stoppedTimeMs int64) float64 {
	return float64(stoppedTimeMs) / 1000 * IdleCO2KgPerSecond
}

// BaselinePercent expresses co2Kg as a percentage of BaselineCO2Kg.
func BaselinePercent(co2Kg float64) float64 {
	return co2Kg / BaselineCO2Kg * 100
}
