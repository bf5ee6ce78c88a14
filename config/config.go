package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Seconds returns the duration rounded to whole seconds.
func (d Duration) Seconds() int {
	return int(math.Round(d.Duration.Seconds()))
}

// EndpointConfig describes how to reach a Modbus slave.
type EndpointConfig struct {
	Address  string   `yaml:"address"`
	UnitID   uint8    `yaml:"unit_id"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	BaudRate int      `yaml:"baud_rate,omitempty"`
	Parity   string   `yaml:"parity,omitempty"`
}

// SchedulerConfig controls the periodic flags of the control loop.
type SchedulerConfig struct {
	DecidePeriod  Duration `yaml:"decide_period"`
	RefreshPeriod Duration `yaml:"refresh_period"`
	RefreshJitter Duration `yaml:"refresh_jitter"`
	Source        string   `yaml:"source,omitempty"`
	Seed          *int64   `yaml:"seed,omitempty"`
}

// MeasureConfig carries the analog front-end calibration and the consumption ceiling.
type MeasureConfig struct {
	GridFrequency             float64  `yaml:"grid_frequency"`
	ReferenceVoltage          float64  `yaml:"reference_voltage"`
	MaxAmplitude              float64  `yaml:"max_amplitude"`
	NominalVoltage            float64  `yaml:"nominal_voltage"`
	NominalGenerationCurrent  float64  `yaml:"nominal_generation_current"`
	NominalConsumptionCurrent float64  `yaml:"nominal_consumption_current"`
	TimeConstant              Duration `yaml:"time_constant"`
	MaxConsumption            float64  `yaml:"max_consumption"`
}

// ModbusSamplerConfig locates the four sample blocks of a remote acquisition front-end.
type ModbusSamplerConfig struct {
	Endpoint            EndpointConfig `yaml:"endpoint"`
	OffsetRegister      uint16         `yaml:"offset_register"`
	VoltageRegister     uint16         `yaml:"voltage_register"`
	GenerationRegister  uint16         `yaml:"generation_register"`
	ConsumptionRegister uint16         `yaml:"consumption_register"`
}

// SamplerConfig selects where sample cycles come from.
type SamplerConfig struct {
	Driver string              `yaml:"driver"`
	Modbus ModbusSamplerConfig `yaml:"modbus,omitempty"`
}

// SimulationConfig seeds the simulation state at startup.
type SimulationConfig struct {
	Mode                 string `yaml:"mode"`
	GenerationAmplitude  int    `yaml:"generation_amplitude"`
	ConsumptionAmplitude int    `yaml:"consumption_amplitude"`
	VoltageAmplitude     int    `yaml:"voltage_amplitude"`
	GenerationShift      int    `yaml:"generation_shift"`
	ConsumptionShift     int    `yaml:"consumption_shift"`
	Offset               int    `yaml:"offset"`
	GeneratedPower       int    `yaml:"generated_power"`
	ConsumedPower        int    `yaml:"consumed_power"`
}

// PinsConfig selects the digital I/O bank used for load outputs and mode switches.
type PinsConfig struct {
	Driver   string         `yaml:"driver"`
	Endpoint EndpointConfig `yaml:"endpoint,omitempty"`
	// Inputs presets switch inputs of the memory bank.
	Inputs map[int]bool `yaml:"inputs,omitempty"`
}

// RFConfig enables the cloned radio code transmitter.
type RFConfig struct {
	Enabled bool `yaml:"enabled"`
	Pin     int  `yaml:"pin"`
}

// MQTTConfig enables remote switches reachable over an MQTT broker.
type MQTTConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Broker     string   `yaml:"broker"`
	ClientID   string   `yaml:"client_id,omitempty"`
	Username   string   `yaml:"username,omitempty"`
	Password   string   `yaml:"password,omitempty"`
	Topic      string   `yaml:"topic"`
	PayloadOn  string   `yaml:"payload_on,omitempty"`
	PayloadOff string   `yaml:"payload_off,omitempty"`
	QoS        byte     `yaml:"qos,omitempty"`
	Retain     bool     `yaml:"retain,omitempty"`
	Timeout    Duration `yaml:"timeout,omitempty"`
}

// TransportsConfig groups the switch transports.
type TransportsConfig struct {
	RF   RFConfig   `yaml:"rf"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

// RemoteSwitchConfig binds a load to a remote switch channel.
type RemoteSwitchConfig struct {
	Protocol string `yaml:"protocol"`
	Channel  int    `yaml:"channel"`
}

// LoadConfig describes one controllable circuit. Position in the list is its priority.
type LoadConfig struct {
	Name      string              `yaml:"name"`
	Power     float64             `yaml:"power"`
	LockOn    Duration            `yaml:"lock_on"`
	LockOff   Duration            `yaml:"lock_off"`
	Output    *int                `yaml:"output,omitempty"`
	ModeInput *int                `yaml:"mode_input,omitempty"`
	Remote    *RemoteSwitchConfig `yaml:"remote,omitempty"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
	Listen   string `yaml:"listen,omitempty"`
}

// ConsoleConfig controls the interactive command console.
type ConsoleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	PrintCode string `yaml:"print_code,omitempty"`
}

// Config is the root configuration structure for the controller.
type Config struct {
	Name       string           `yaml:"name,omitempty"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Measure    MeasureConfig    `yaml:"measure"`
	Sampler    SamplerConfig    `yaml:"sampler"`
	Simulation SimulationConfig `yaml:"simulation"`
	Pins       PinsConfig       `yaml:"pins"`
	Transports TransportsConfig `yaml:"transports"`
	Loads      []LoadConfig     `yaml:"loads"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Console    ConsoleConfig    `yaml:"console"`
	HotReload  bool             `yaml:"hot_reload,omitempty"`
	Source     string           `yaml:"-"`
}

// Default returns the configuration the controller runs with when a key is omitted.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			DecidePeriod:  Duration{5 * time.Second},
			RefreshPeriod: Duration{30 * time.Second},
			RefreshJitter: Duration{5 * time.Second},
			Source:        "pseudo",
		},
		Measure: MeasureConfig{
			GridFrequency:             50,
			ReferenceVoltage:          2.5,
			MaxAmplitude:              2.0,
			NominalVoltage:            230,
			NominalGenerationCurrent:  20,
			NominalConsumptionCurrent: 20,
			TimeConstant:              Duration{time.Second},
			MaxConsumption:            3300,
		},
		Sampler: SamplerConfig{Driver: "synthetic"},
		Simulation: SimulationConfig{
			Mode:                 "off",
			GenerationAmplitude:  200,
			ConsumptionAmplitude: 100,
			VoltageAmplitude:     410,
			Offset:               512,
		},
		Pins: PinsConfig{Driver: "memory"},
		Transports: TransportsConfig{
			MQTT: MQTTConfig{
				Topic:      "surplus/switch/%d/set",
				PayloadOn:  "ON",
				PayloadOff: "OFF",
				Timeout:    Duration{5 * time.Second},
			},
		},
		Logging: LoggingConfig{Level: "info"},
		Console: ConsoleConfig{PrintCode: "0"},
	}
}

// Load reads and decodes the configuration file from disk on top of Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := CheckSchema(abs, raw); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Source = abs
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CyclePeriod returns the duration of one grid cycle.
func (c *Config) CyclePeriod() time.Duration {
	if c == nil || c.Measure.GridFrequency <= 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / c.Measure.GridFrequency)
}
