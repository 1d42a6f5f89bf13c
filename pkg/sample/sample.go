package sample

// Sample is one accepted voltage reading on the stream time axis.
type Sample struct {
	Timestamp float64 `json:"time"`    // Seconds since stream start
	Voltage   float64 `json:"voltage"` // Volts
}

// Split separates samples into parallel timestamp and voltage slices.
func Split(samples []Sample) (timestamps, voltages []float64) {
	timestamps = make([]float64, len(samples))
	voltages = make([]float64, len(samples))
	for i, s := range samples {
		timestamps[i] = s.Timestamp
		voltages[i] = s.Voltage
	}
	return timestamps, voltages
}

// Voltages returns only the voltage column of samples.
func Voltages(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Voltage
	}
	return out
}
