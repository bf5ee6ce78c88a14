package measure

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/timzifer/surplus/config"
)

const sqrt2 = 1.4142

// Clipping bounds of the computed values.
const (
	MaxVoltage     = 999.0
	MaxCurrent     = 99.0
	MaxPower       = 9999.0
	MaxPowerFactor = 0.99
)

// Calibration describes the analog front-end and the consumption ceiling.
type Calibration struct {
	// ReferenceVoltage is the DC level of the offset channel in volts.
	ReferenceVoltage float64
	// MaxAmplitude is the input amplitude reached at nominal RMS values.
	MaxAmplitude              float64
	NominalVoltage            float64
	NominalGenerationCurrent  float64
	NominalConsumptionCurrent float64
	TimeConstant              time.Duration
	MaxConsumption            float64
}

// CalibrationFromConfig maps the measure section of the configuration.
func CalibrationFromConfig(cfg config.MeasureConfig) Calibration {
	return Calibration{
		ReferenceVoltage:          cfg.ReferenceVoltage,
		MaxAmplitude:              cfg.MaxAmplitude,
		NominalVoltage:            cfg.NominalVoltage,
		NominalGenerationCurrent:  cfg.NominalGenerationCurrent,
		NominalConsumptionCurrent: cfg.NominalConsumptionCurrent,
		TimeConstant:              cfg.TimeConstant.Duration,
		MaxConsumption:            cfg.MaxConsumption,
	}
}

// Override replaces the computed powers with fixed values. Consumed is the
// magnitude of the consumption and is stored negative.
type Override struct {
	Active    bool
	Generated float64
	Consumed  float64
}

// Snapshot is the electrical state derived from one cycle.
type Snapshot struct {
	OffsetAverage float64 `json:"offset_average"`
	VoltsPerCount float64 `json:"volts_per_count"`

	Voltage            float64 `json:"voltage"`
	GenerationCurrent  float64 `json:"generation_current"`
	ConsumptionCurrent float64 `json:"consumption_current"`

	Generated float64 `json:"generated"`
	Consumed  float64 `json:"consumed"`
	Net       float64 `json:"net"`

	GenerationPowerFactor  float64 `json:"generation_power_factor"`
	ConsumptionPowerFactor float64 `json:"consumption_power_factor"`

	FilteredGenerated float64 `json:"filtered_generated"`
	FilteredConsumed  float64 `json:"filtered_consumed"`
	FilteredNet       float64 `json:"filtered_net"`
	Margin            float64 `json:"margin"`

	Interval        time.Duration `json:"interval"`
	SamplingAverage time.Duration `json:"sampling_average"`
	ComputeTime     time.Duration `json:"compute_time"`
	Cycles          uint64        `json:"cycles"`
}

// Processor turns sample cycles into snapshots. The filter state lives in the
// processor and carries from one Compute call to the next.
type Processor struct {
	clock clock.Clock
	cal   Calibration

	voltageRatio     float64
	generationRatio  float64
	consumptionRatio float64

	prevStart time.Time
	snapshot  Snapshot
}

// NewProcessor prepares the channel ratios from the calibration.
func NewProcessor(cal Calibration, clk clock.Clock) *Processor {
	if clk == nil {
		clk = clock.New()
	}
	amplitude := cal.MaxAmplitude
	if amplitude <= 0 {
		amplitude = 1
	}
	return &Processor{
		clock:            clk,
		cal:              cal,
		voltageRatio:     cal.NominalVoltage * sqrt2 / amplitude,
		generationRatio:  cal.NominalGenerationCurrent * sqrt2 / amplitude,
		consumptionRatio: cal.NominalConsumptionCurrent * sqrt2 / amplitude,
	}
}

// Snapshot returns the result of the last Compute call.
func (p *Processor) Snapshot() Snapshot {
	return p.snapshot
}

// Compute derives RMS values, powers, power factors and the filtered margin
// from one cycle.
func (p *Processor) Compute(c *Cycle, override Override) Snapshot {
	started := p.clock.Now()
	prev := p.snapshot
	s := Snapshot{Cycles: prev.Cycles + 1, SamplingAverage: c.SamplingAverage()}

	var sum int64
	for _, v := range c.Offset {
		sum += int64(v)
	}
	offset := sum / SamplesPerCycle
	s.OffsetAverage = float64(offset)
	s.VoltsPerCount = p.cal.ReferenceVoltage / math.Max(1, s.OffsetAverage)

	voltageScale := s.VoltsPerCount * p.voltageRatio
	generationScale := s.VoltsPerCount * p.generationRatio
	consumptionScale := s.VoltsPerCount * p.consumptionRatio

	s.Voltage = rms(&c.Voltage, offset) * voltageScale
	s.GenerationCurrent = rms(&c.Generation, offset) * generationScale
	s.ConsumptionCurrent = rms(&c.Consumption, offset) * consumptionScale

	s.Generated = math.Abs(meanProduct(&c.Generation, &c.Voltage, offset) * generationScale * voltageScale)
	s.GenerationPowerFactor = s.Generated / math.Max(1, s.Voltage*s.GenerationCurrent)
	s.Consumed = -math.Abs(meanProduct(&c.Consumption, &c.Voltage, offset) * consumptionScale * voltageScale)
	s.ConsumptionPowerFactor = -s.Consumed / math.Max(1, s.Voltage*s.ConsumptionCurrent)

	if override.Active {
		s.Generated = override.Generated
		s.Consumed = -override.Consumed
	}
	s.Net = s.Generated + s.Consumed

	s.Voltage = clip(s.Voltage, 0, MaxVoltage)
	s.GenerationCurrent = clip(s.GenerationCurrent, 0, MaxCurrent)
	s.ConsumptionCurrent = clip(s.ConsumptionCurrent, 0, MaxCurrent)
	s.Generated = clip(s.Generated, 0, MaxPower)
	s.Consumed = clip(s.Consumed, -MaxPower, 0)
	s.Net = clip(s.Net, -MaxPower, MaxPower)
	s.GenerationPowerFactor = clip(s.GenerationPowerFactor, 0, MaxPowerFactor)
	s.ConsumptionPowerFactor = clip(s.ConsumptionPowerFactor, 0, MaxPowerFactor)

	if p.prevStart.IsZero() || !c.Start.After(p.prevStart) {
		s.FilteredGenerated = s.Generated
		s.FilteredConsumed = s.Consumed
		s.FilteredNet = s.Net
	} else {
		s.Interval = c.Start.Sub(p.prevStart)
		alpha := 1.0
		if p.cal.TimeConstant > 0 {
			alpha = math.Min(1, float64(s.Interval)/float64(p.cal.TimeConstant))
		}
		s.FilteredGenerated = prev.FilteredGenerated + alpha*(s.Generated-prev.FilteredGenerated)
		s.FilteredConsumed = prev.FilteredConsumed + alpha*(s.Consumed-prev.FilteredConsumed)
		s.FilteredNet = s.FilteredGenerated + s.FilteredConsumed
	}
	s.Margin = p.cal.MaxConsumption - (-s.FilteredConsumed)

	p.prevStart = c.Start
	s.ComputeTime = p.clock.Since(started)
	p.snapshot = s
	return s
}

func rms(values *[SamplesPerCycle]uint16, offset int64) float64 {
	var sum int64
	for _, v := range values {
		d := int64(v) - offset
		sum += d * d
	}
	return math.Sqrt(float64(sum) / SamplesPerCycle)
}

func meanProduct(current, voltage *[SamplesPerCycle]uint16, offset int64) float64 {
	var sum int64
	for i := range current {
		sum += (int64(current[i]) - offset) * (int64(voltage[i]) - offset)
	}
	return float64(sum) / SamplesPerCycle
}

func clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	return math.Max(lo, math.Min(hi, v))
}
