package sampler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/timzifer/surplus/config"
	"github.com/timzifer/surplus/measure"
	"github.com/timzifer/surplus/remote"
	"github.com/timzifer/surplus/simulation"
)

// Source fills a cycle with readings of the physical inputs.
type Source interface {
	Acquire(ctx context.Context, cycle *measure.Cycle) error
}

// Synthetic generates sine waves from the simulation settings.
type Synthetic struct {
	clock  clock.Clock
	period time.Duration
	sine   []int
}

// NewSynthetic builds a generator for cycles of the given grid period.
func NewSynthetic(clk clock.Clock, period time.Duration) *Synthetic {
	if clk == nil {
		clk = clock.New()
	}
	return &Synthetic{clock: clk, period: period, sine: simulation.SineTable(measure.SamplesPerCycle)}
}

// Fill writes one cycle of simulated readings.
func (s *Synthetic) Fill(settings simulation.Settings, cycle *measure.Cycle) {
	cycle.Start = s.clock.Now()
	offset := clampCount(settings.Offset)
	for i := 0; i < measure.SamplesPerCycle; i++ {
		cycle.Offset[i] = offset
		cycle.Generation[i] = s.sample(settings.Offset, settings.GenerationAmplitude, i+settings.GenerationShift)
		cycle.Voltage[i] = s.sample(settings.Offset, settings.VoltageAmplitude, i)
		cycle.Consumption[i] = s.sample(settings.Offset, settings.ConsumptionAmplitude, i+settings.ConsumptionShift)
		cycle.SamplingTime[i] = 0
	}
	cycle.End = cycle.Start.Add(s.period)
}

func (s *Synthetic) sample(offset, amplitude, index int) uint16 {
	if index < 0 {
		index = 0
	}
	return clampCount(offset + amplitude*s.sine[index%len(s.sine)]/1000)
}

func clampCount(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > measure.Resolution {
		return measure.Resolution
	}
	return uint16(v)
}

// Selector picks the generator for each cycle: the analog simulation always
// uses the synthetic generator, otherwise the configured source is read.
type Selector struct {
	synthetic *Synthetic
	live      Source
}

// NewSelector combines a synthetic generator with an optional live source.
func NewSelector(synthetic *Synthetic, live Source) *Selector {
	return &Selector{synthetic: synthetic, live: live}
}

// Acquire fills cycle and reports whether the synthetic generator was used.
func (s *Selector) Acquire(ctx context.Context, settings simulation.Settings, cycle *measure.Cycle) (bool, error) {
	if s.live == nil || settings.Mode == simulation.ModeAnalog {
		s.synthetic.Fill(settings, cycle)
		return true, nil
	}
	return false, s.live.Acquire(ctx, cycle)
}

// FromConfig builds the configured sampler.
func FromConfig(cfg *config.Config, clk clock.Clock, factory remote.ClientFactory) (*Selector, func() error, error) {
	synthetic := NewSynthetic(clk, cfg.CyclePeriod())
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler.Driver)) {
	case "", "synthetic":
		return NewSelector(synthetic, nil), func() error { return nil }, nil
	case "modbus":
		conn := remote.NewConn(cfg.Sampler.Modbus.Endpoint, factory)
		return NewSelector(synthetic, NewModbus(conn, cfg.Sampler.Modbus, clk)), conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown sampler driver %q", cfg.Sampler.Driver)
	}
}
