package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/itohio/gotdr/pkg/ramp"
	"github.com/itohio/gotdr/pkg/reflection"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial" toml:"serial"`
	Trace       TraceConfig       `yaml:"trace" toml:"trace"`
	Acquisition AcquisitionConfig `yaml:"acquisition" toml:"acquisition"`
	Store       StoreConfig       `yaml:"store" toml:"store"`
	Display     DisplayConfig     `yaml:"display" toml:"display"`
	Mock        MockConfig        `yaml:"mock" toml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string        `yaml:"port" toml:"port"` // empty picks the first available port
	BaudRate int           `yaml:"baud_rate" toml:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"` // per query
}

// TraceConfig contains the acquisition window in physical units.
type TraceConfig struct {
	MaxTime   float64  `yaml:"max_time" toml:"max_time"`     // window length (ps)
	Spacing   int      `yaml:"spacing" toml:"spacing"`       // sample pitch (ps)
	RampMode  int      `yaml:"ramp_mode" toml:"ramp_mode"`   // 1, 2 or 3
	StartTime float64  `yaml:"start_time" toml:"start_time"` // window start (ps)
	Averages  int      `yaml:"averages" toml:"averages"`
	Amplitude float64  `yaml:"amplitude" toml:"amplitude"` // ramp amplitude (DAC code)
	RC        *float64 `yaml:"rc,omitempty" toml:"rc,omitempty"`
	M         *float64 `yaml:"m,omitempty" toml:"m,omitempty"`
}

// AcquisitionConfig contains the acquisition loop parameters.
type AcquisitionConfig struct {
	SleepTime       time.Duration `yaml:"sleep_time" toml:"sleep_time"`               // poller delay between traces
	InterTraceDelay time.Duration `yaml:"inter_trace_delay" toml:"inter_trace_delay"` // batch delay between traces
	TraceCount      int           `yaml:"trace_count" toml:"trace_count"`
	QueueSize       int           `yaml:"queue_size" toml:"queue_size"`
	MaxAttempts     int           `yaml:"max_attempts" toml:"max_attempts"` // 0 retries forever
	Command         string        `yaml:"command" toml:"command"`
}

// StoreConfig contains the trace archive location.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// DisplayConfig contains monitor and reflection analysis parameters.
type DisplayConfig struct {
	Refresh        time.Duration `yaml:"refresh" toml:"refresh"`               // consumer tick
	MaxPoints      int           `yaml:"max_points" toml:"max_points"`         // decimation for display
	Average        int           `yaml:"average" toml:"average"`               // rolling average window (traces)
	EdgeThreshold  float64       `yaml:"edge_threshold" toml:"edge_threshold"` // V/ps
	MinEdgeWidth   float64       `yaml:"min_edge_width" toml:"min_edge_width"` // ps
	MaxEdgeGap     int           `yaml:"max_edge_gap" toml:"max_edge_gap"`     // samples
	Impedance      float64       `yaml:"impedance" toml:"impedance"`           // line impedance (Ohm)
	VelocityFactor float64       `yaml:"velocity_factor" toml:"velocity_factor"`
}

// MockConfig contains simulated instrument configuration.
type MockConfig struct {
	Seed            int64         `yaml:"seed" toml:"seed"`
	IDN             string        `yaml:"idn" toml:"idn"`
	Baseline        float64       `yaml:"baseline" toml:"baseline"`                 // fraction of full scale
	IncidentAt      float64       `yaml:"incident_at" toml:"incident_at"`           // incident edge (ps)
	ReflectionAt    float64       `yaml:"reflection_at" toml:"reflection_at"`       // round trip after incident edge (ps)
	ReflectionCoeff float64       `yaml:"reflection_coeff" toml:"reflection_coeff"` // -1 short .. +1 open
	NoiseLevel      float64       `yaml:"noise_level" toml:"noise_level"`           // fraction of full scale
	ResponseDelay   time.Duration `yaml:"response_delay" toml:"response_delay"`
	ShortEvery      int           `yaml:"short_every" toml:"short_every"`     // every Nth data answer is one sample short
	TimeoutEvery    int           `yaml:"timeout_every" toml:"timeout_every"` // every Nth data answer times out
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate: 115200,
			Timeout:  5 * time.Second,
		},
		Trace: TraceConfig{
			MaxTime:   20000,
			Spacing:   10,
			RampMode:  1,
			StartTime: 0,
			Averages:  2,
			Amplitude: 60075,
		},
		Acquisition: AcquisitionConfig{
			SleepTime:       2 * time.Second,
			InterTraceDelay: 100 * time.Millisecond,
			TraceCount:      1,
			QueueSize:       16,
			MaxAttempts:     0,
			Command:         "TRACE",
		},
		Store: StoreConfig{
			Path: "tdr_traces.db",
		},
		Display: DisplayConfig{
			Refresh:        100 * time.Millisecond,
			MaxPoints:      500,
			Average:        1,
			EdgeThreshold:  0.01,
			MinEdgeWidth:   0,
			MaxEdgeGap:     2,
			Impedance:      50,
			VelocityFactor: 0.66,
		},
		Mock: MockConfig{
			Seed:            1,
			IDN:             "EOI,TDR01,SIM,1.0",
			Baseline:        0.1,
			IncidentAt:      2000,
			ReflectionAt:    6000,
			ReflectionCoeff: 0.3,
			NoiseLevel:      0.002,
		},
	}
}

// Load loads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist or fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isTOML(filename) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration as YAML or TOML, chosen by extension.
func (c *Config) Save(filename string) error {
	var (
		data []byte
		err  error
	)
	if isTOML(filename) {
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isTOML(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".toml")
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = def.Serial.Timeout
	}

	if c.Trace.MaxTime == 0 {
		c.Trace.MaxTime = def.Trace.MaxTime
	}
	if c.Trace.Spacing == 0 {
		c.Trace.Spacing = def.Trace.Spacing
	}
	if c.Trace.RampMode == 0 {
		c.Trace.RampMode = def.Trace.RampMode
	}
	if c.Trace.Averages == 0 {
		c.Trace.Averages = def.Trace.Averages
	}
	if c.Trace.Amplitude == 0 {
		c.Trace.Amplitude = def.Trace.Amplitude
	}

	if c.Acquisition.TraceCount == 0 {
		c.Acquisition.TraceCount = def.Acquisition.TraceCount
	}
	if c.Acquisition.QueueSize == 0 {
		c.Acquisition.QueueSize = def.Acquisition.QueueSize
	}
	if c.Acquisition.Command == "" {
		c.Acquisition.Command = def.Acquisition.Command
	}

	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}

	if c.Display.Refresh == 0 {
		c.Display.Refresh = def.Display.Refresh
	}
	if c.Display.MaxPoints == 0 {
		c.Display.MaxPoints = def.Display.MaxPoints
	}
	if c.Display.Average == 0 {
		c.Display.Average = def.Display.Average
	}
	if c.Display.EdgeThreshold == 0 {
		c.Display.EdgeThreshold = def.Display.EdgeThreshold
	}
	if c.Display.Impedance == 0 {
		c.Display.Impedance = def.Display.Impedance
	}
	if c.Display.VelocityFactor == 0 {
		c.Display.VelocityFactor = def.Display.VelocityFactor
	}

	if c.Mock.IDN == "" {
		c.Mock.IDN = def.Mock.IDN
	}
}

// NPoints returns the number of samples covering MaxTime.
func (t TraceConfig) NPoints() int {
	return int(math.Round(t.MaxTime / float64(t.Spacing)))
}

// IStart returns the first sample index for StartTime.
func (t TraceConfig) IStart() int {
	return int(math.Round(t.StartTime / float64(t.Spacing)))
}

// SetTiming reports whether the ramp timing was overridden and must be sent
// to the instrument.
func (t TraceConfig) SetTiming() bool {
	return t.RC != nil || t.M != nil
}

// RampModel returns the ramp model at the configured amplitude. Without an
// RC override the mode's nominal time constant is used.
func (t TraceConfig) RampModel() ramp.Model {
	m := ramp.Model{A: t.Amplitude}
	if nom, err := ramp.Nominal(t.RampMode); err == nil {
		m.RC = nom.RC
	}
	if t.RC != nil {
		m.RC = *t.RC
	}
	if t.M != nil {
		m.M = *t.M
	}
	return m
}

// Raw returns the raw key/value input for the settings model.
func (t TraceConfig) Raw() map[string]any {
	return map[string]any{
		"npoints":    t.NPoints(),
		"naverages":  t.Averages,
		"spacing":    t.Spacing,
		"i_start":    t.IStart(),
		"ramp_mode":  t.RampMode,
		"ramp_model": t.RampModel(),
	}
}

// Edges returns the reflection edge detector configuration.
func (d DisplayConfig) Edges() reflection.Config {
	return reflection.Config{
		Threshold: d.EdgeThreshold,
		MinWidth:  d.MinEdgeWidth,
		MaxGap:    d.MaxEdgeGap,
	}
}
