// Package source provides voltage sources for the sender: a synthetic ECG
// generator and a serial ADC bridge.
package source

import "time"

// DefaultBufferSize is the default size of the readings channel.
const DefaultBufferSize = 100

// Reading is one voltage measurement.
type Reading struct {
	Time    time.Time
	Voltage float64
}

// Source produces readings until closed. The readings channel is closed
// once the source has stopped producing.
type Source interface {
	Connect() error
	Close() error
	Readings() <-chan Reading
	IsConnected() bool
}

var (
	_ Source = (*Serial)(nil)
	_ Source = (*Simulated)(nil)
)
