package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Listener  ListenerConfig  `yaml:"listener"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Hub       HubConfig       `yaml:"hub"`
	HTTP      HTTPConfig      `yaml:"http"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Serial    SerialConfig    `yaml:"serial"`
	Recording RecordingConfig `yaml:"recording"`
	Filter    FilterConfig    `yaml:"filter"`
	Rhythm    RhythmConfig    `yaml:"rhythm"`
	Relay     RelayConfig     `yaml:"relay"`
	Log       LogConfig       `yaml:"log"`
}

// ListenerConfig contains the UDP ingestion socket configuration.
type ListenerConfig struct {
	Addr           string `yaml:"addr"`
	ReadBufferSize int    `yaml:"read_buffer_size"` // OS socket receive buffer in bytes
}

// BufferConfig contains the recent-history window configuration.
type BufferConfig struct {
	Capacity int `yaml:"capacity"` // Maximum number of samples kept in memory
}

// HubConfig contains live fan-out configuration.
type HubConfig struct {
	QueueDepth int `yaml:"queue_depth"` // Per-subscriber queue depth before drop-oldest kicks in
}

// HTTPConfig contains the live query/push server configuration.
type HTTPConfig struct {
	Addr          string        `yaml:"addr"`
	MaxPoints     int           `yaml:"max_points"` // Default decimation limit for /data (0 = all)
	PingInterval  time.Duration `yaml:"ping_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// SimulatorConfig contains the synthetic source and sender configuration.
type SimulatorConfig struct {
	Target       string        `yaml:"target"` // host:port of the listener
	HeartRateBPM float64       `yaml:"heart_rate_bpm"`
	Interval     time.Duration `yaml:"interval"`    // Time between emitted samples
	NoiseStdDev  float64       `yaml:"noise_stddev"` // Standard deviation of additive noise (V)
	Seed         uint64        `yaml:"seed"`         // Noise seed (0 = time based)
}

// SerialConfig contains the serial ADC bridge configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// RecordingConfig contains capture window parameters.
type RecordingConfig struct {
	Duration   time.Duration `yaml:"duration"`
	OutputFile string        `yaml:"output_file"`
	ReportFile string        `yaml:"report_file"`
}

// FilterConfig contains the offline bandpass parameters.
type FilterConfig struct {
	LowCutHz        float64 `yaml:"low_cut_hz"`
	HighCutHz       float64 `yaml:"high_cut_hz"`
	NyquistFraction float64 `yaml:"nyquist_fraction"` // High cut is capped at this fraction of Nyquist
	Order           int     `yaml:"order"`
}

// RhythmConfig contains live heart-rate estimation parameters.
type RhythmConfig struct {
	Threshold     float64       `yaml:"threshold"`      // Rise above baseline that counts as a beat (V)
	Peaks         int           `yaml:"peaks"`          // Number of recent beats averaged
	Refractory    time.Duration `yaml:"refractory"`     // Minimum spacing between beats
	BaselineAlpha float64       `yaml:"baseline_alpha"` // EMA coefficient for the baseline tracker
}

// RelayConfig contains the optional NATS relay configuration.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// LogConfig contains logger configuration.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"` // Optional log file in addition to stderr
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			Addr:           "0.0.0.0:5006",
			ReadBufferSize: 2 * 1024 * 1024,
		},
		Buffer: BufferConfig{
			Capacity: 5000, // ~10 s at 500 Hz
		},
		Hub: HubConfig{
			QueueDepth: 256,
		},
		HTTP: HTTPConfig{
			Addr:          ":5001",
			MaxPoints:     0,
			PingInterval:  30 * time.Second,
			WriteTimeout:  10 * time.Second,
			ShutdownGrace: 5 * time.Second,
		},
		Simulator: SimulatorConfig{
			Target:       "127.0.0.1:5006",
			HeartRateBPM: 75,
			Interval:     10 * time.Millisecond, // ~100 Hz
			NoiseStdDev:  0.01,
		},
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
		},
		Recording: RecordingConfig{
			Duration:   10 * time.Second,
			OutputFile: "ecg_data.txt",
			ReportFile: "ecg_report.json",
		},
		Filter: FilterConfig{
			LowCutHz:        0.5,
			HighCutHz:       40.0,
			NyquistFraction: 0.9,
			Order:           3,
		},
		Rhythm: RhythmConfig{
			Threshold:     0.3,
			Peaks:         5,
			Refractory:    250 * time.Millisecond,
			BaselineAlpha: 0.01,
		},
		Relay: RelayConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
			Subject: "ecg.samples",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Listener.Addr); err != nil {
		errs = append(errs, fmt.Errorf("listener.addr: %w", err))
	}
	if c.Buffer.Capacity < 1 {
		errs = append(errs, fmt.Errorf("buffer.capacity must be positive, got %d", c.Buffer.Capacity))
	}
	if c.Hub.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("hub.queue_depth must be positive, got %d", c.Hub.QueueDepth))
	}
	if c.Simulator.HeartRateBPM <= 0 {
		errs = append(errs, fmt.Errorf("simulator.heart_rate_bpm must be positive, got %g", c.Simulator.HeartRateBPM))
	}
	if c.Filter.LowCutHz <= 0 || c.Filter.HighCutHz <= c.Filter.LowCutHz {
		errs = append(errs, fmt.Errorf("filter band [%g, %g] Hz is empty", c.Filter.LowCutHz, c.Filter.HighCutHz))
	}
	if c.Filter.NyquistFraction <= 0 || c.Filter.NyquistFraction >= 1 {
		errs = append(errs, fmt.Errorf("filter.nyquist_fraction must be in (0, 1), got %g", c.Filter.NyquistFraction))
	}
	if c.Relay.Enabled && c.Relay.Subject == "" {
		errs = append(errs, errors.New("relay.subject is required when the relay is enabled"))
	}

	return errors.Join(errs...)
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Listener.Addr == "" {
		c.Listener.Addr = def.Listener.Addr
	}
	if c.Listener.ReadBufferSize == 0 {
		c.Listener.ReadBufferSize = def.Listener.ReadBufferSize
	}

	if c.Buffer.Capacity == 0 {
		c.Buffer.Capacity = def.Buffer.Capacity
	}
	if c.Hub.QueueDepth == 0 {
		c.Hub.QueueDepth = def.Hub.QueueDepth
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
	if c.HTTP.PingInterval == 0 {
		c.HTTP.PingInterval = def.HTTP.PingInterval
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = def.HTTP.WriteTimeout
	}
	if c.HTTP.ShutdownGrace == 0 {
		c.HTTP.ShutdownGrace = def.HTTP.ShutdownGrace
	}

	if c.Simulator.Target == "" {
		c.Simulator.Target = def.Simulator.Target
	}
	if c.Simulator.HeartRateBPM == 0 {
		c.Simulator.HeartRateBPM = def.Simulator.HeartRateBPM
	}
	if c.Simulator.Interval == 0 {
		c.Simulator.Interval = def.Simulator.Interval
	}

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Recording.Duration == 0 {
		c.Recording.Duration = def.Recording.Duration
	}
	if c.Recording.OutputFile == "" {
		c.Recording.OutputFile = def.Recording.OutputFile
	}

	if c.Filter.LowCutHz == 0 {
		c.Filter.LowCutHz = def.Filter.LowCutHz
	}
	if c.Filter.HighCutHz == 0 {
		c.Filter.HighCutHz = def.Filter.HighCutHz
	}
	if c.Filter.NyquistFraction == 0 {
		c.Filter.NyquistFraction = def.Filter.NyquistFraction
	}
	if c.Filter.Order == 0 {
		c.Filter.Order = def.Filter.Order
	}

	if c.Rhythm.Threshold == 0 {
		c.Rhythm.Threshold = def.Rhythm.Threshold
	}
	if c.Rhythm.Peaks == 0 {
		c.Rhythm.Peaks = def.Rhythm.Peaks
	}
	if c.Rhythm.Refractory == 0 {
		c.Rhythm.Refractory = def.Rhythm.Refractory
	}
	if c.Rhythm.BaselineAlpha == 0 {
		c.Rhythm.BaselineAlpha = def.Rhythm.BaselineAlpha
	}

	if c.Relay.URL == "" {
		c.Relay.URL = def.Relay.URL
	}
	if c.Relay.Subject == "" {
		c.Relay.Subject = def.Relay.Subject
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
