package config

import (
	"fmt"
	"strings"
)

// MaxLoads is the number of circuits the controller can manage.
const MaxLoads = 3

// MaxChannel is the highest remote switch channel.
const MaxChannel = 3

// Validate checks the semantic constraints that the schema cannot express.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("configuration must not be nil")
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Measure.validate(); err != nil {
		return err
	}
	switch normalize(c.Sampler.Driver) {
	case "", "synthetic":
	case "modbus":
		if strings.TrimSpace(c.Sampler.Modbus.Endpoint.Address) == "" {
			return fmt.Errorf("sampler: modbus endpoint address is required")
		}
	default:
		return fmt.Errorf("sampler: unknown driver %q", c.Sampler.Driver)
	}
	switch normalize(c.Simulation.Mode) {
	case "", "off", "analog", "power":
	default:
		return fmt.Errorf("simulation: unknown mode %q", c.Simulation.Mode)
	}
	switch normalize(c.Pins.Driver) {
	case "", "memory":
	case "modbus":
		if strings.TrimSpace(c.Pins.Endpoint.Address) == "" {
			return fmt.Errorf("pins: modbus endpoint address is required")
		}
	default:
		return fmt.Errorf("pins: unknown driver %q", c.Pins.Driver)
	}
	if c.Transports.MQTT.Enabled {
		if strings.TrimSpace(c.Transports.MQTT.Broker) == "" {
			return fmt.Errorf("transports: mqtt broker is required")
		}
		if !strings.Contains(c.Transports.MQTT.Topic, "%d") {
			return fmt.Errorf("transports: mqtt topic %q must contain a %%d channel placeholder", c.Transports.MQTT.Topic)
		}
	}
	return c.validateLoads()
}

func (s SchedulerConfig) validate() error {
	if s.DecidePeriod.Seconds() < 1 {
		return fmt.Errorf("scheduler: decide_period must be at least 1s")
	}
	if s.RefreshPeriod.Seconds() < 1 {
		return fmt.Errorf("scheduler: refresh_period must be at least 1s")
	}
	if s.RefreshJitter.Duration < 0 {
		return fmt.Errorf("scheduler: refresh_jitter must not be negative")
	}
	if s.RefreshJitter.Seconds() >= s.RefreshPeriod.Seconds() {
		return fmt.Errorf("scheduler: refresh_jitter must be shorter than refresh_period")
	}
	switch normalize(s.Source) {
	case "", "pseudo", "math", "secure", "crypto":
	default:
		return fmt.Errorf("scheduler: unknown random source %q", s.Source)
	}
	return nil
}

func (m MeasureConfig) validate() error {
	if m.GridFrequency <= 0 {
		return fmt.Errorf("measure: grid_frequency must be positive")
	}
	if m.ReferenceVoltage <= 0 || m.MaxAmplitude <= 0 {
		return fmt.Errorf("measure: reference_voltage and max_amplitude must be positive")
	}
	if m.NominalVoltage <= 0 || m.NominalGenerationCurrent <= 0 || m.NominalConsumptionCurrent <= 0 {
		return fmt.Errorf("measure: nominal voltage and currents must be positive")
	}
	if m.TimeConstant.Duration <= 0 {
		return fmt.Errorf("measure: time_constant must be positive")
	}
	if m.MaxConsumption <= 0 {
		return fmt.Errorf("measure: max_consumption must be positive")
	}
	return nil
}

func (c *Config) validateLoads() error {
	if len(c.Loads) > MaxLoads {
		return fmt.Errorf("loads: at most %d loads supported, got %d", MaxLoads, len(c.Loads))
	}
	names := make(map[string]struct{}, len(c.Loads))
	for i, load := range c.Loads {
		name := strings.TrimSpace(load.Name)
		if name == "" {
			return fmt.Errorf("loads[%d]: name is required", i)
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("loads[%d]: duplicate name %q", i, name)
		}
		names[name] = struct{}{}
		if load.Power <= 0 {
			return fmt.Errorf("load %s: power must be positive", name)
		}
		if load.LockOn.Duration < 0 || load.LockOff.Duration < 0 {
			return fmt.Errorf("load %s: lock durations must not be negative", name)
		}
		if load.Remote != nil {
			switch normalize(load.Remote.Protocol) {
			case "", "none":
				continue
			case "gmomxsen":
				if !c.Transports.RF.Enabled {
					return fmt.Errorf("load %s: protocol gmomxsen requires transports.rf", name)
				}
			case "mqtt":
				if !c.Transports.MQTT.Enabled {
					return fmt.Errorf("load %s: protocol mqtt requires transports.mqtt", name)
				}
			default:
				return fmt.Errorf("load %s: unknown protocol %q", name, load.Remote.Protocol)
			}
			if load.Remote.Channel < 1 || load.Remote.Channel > MaxChannel {
				return fmt.Errorf("load %s: channel %d out of range 1..%d", name, load.Remote.Channel, MaxChannel)
			}
		}
	}
	return nil
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
