package measure

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func testCalibration() Calibration {
	return Calibration{
		ReferenceVoltage:          2.5,
		MaxAmplitude:              2.0,
		NominalVoltage:            230,
		NominalGenerationCurrent:  20,
		NominalConsumptionCurrent: 20,
		TimeConstant:              time.Second,
		MaxConsumption:            3300,
	}
}

type wave struct {
	voltage, generation, consumption int
	generationShift, consumptionShift int
}

func sineCycle(start time.Time, offset uint16, w wave) *Cycle {
	c := &Cycle{Start: start, End: start.Add(20 * time.Millisecond)}
	sample := func(ampl, shift, i int) uint16 {
		v := int(offset) + int(math.Round(float64(ampl)*math.Sin(2*math.Pi*float64((i+shift)%SamplesPerCycle)/SamplesPerCycle)))
		if v < 0 {
			v = 0
		}
		if v > Resolution {
			v = Resolution
		}
		return uint16(v)
	}
	for i := 0; i < SamplesPerCycle; i++ {
		c.Offset[i] = offset
		c.Voltage[i] = sample(w.voltage, 0, i)
		c.Generation[i] = sample(w.generation, w.generationShift, i)
		c.Consumption[i] = sample(w.consumption, w.consumptionShift, i)
		c.SamplingTime[i] = 150 * time.Microsecond
	}
	return c
}

func TestComputeFlatSignalsYieldZero(t *testing.T) {
	p := NewProcessor(testCalibration(), clock.NewMock())
	s := p.Compute(sineCycle(time.Time{}, 512, wave{}), Override{})

	require.Equal(t, 512.0, s.OffsetAverage)
	require.Zero(t, s.Voltage)
	require.Zero(t, s.GenerationCurrent)
	require.Zero(t, s.ConsumptionCurrent)
	require.Zero(t, s.Generated)
	require.Zero(t, s.Consumed)
	require.Zero(t, s.Net)
	require.Zero(t, s.GenerationPowerFactor)
	require.Zero(t, s.ConsumptionPowerFactor)
	require.Equal(t, 3300.0, s.Margin)
	require.Equal(t, 150*time.Microsecond, s.SamplingAverage)
}

func TestComputeDegenerateCyclesDoNotOverflow(t *testing.T) {
	p := NewProcessor(testCalibration(), clock.NewMock())

	zero := &Cycle{}
	s := p.Compute(zero, Override{})
	require.Equal(t, 2.5, s.VoltsPerCount, "offset floor of one count")
	require.Zero(t, s.Voltage)

	saturated := &Cycle{}
	for i := 0; i < SamplesPerCycle; i++ {
		saturated.Voltage[i] = Resolution - 1
		saturated.Generation[i] = Resolution - 1
		saturated.Consumption[i] = Resolution - 1
	}
	s = p.Compute(saturated, Override{})
	require.Equal(t, MaxVoltage, s.Voltage)
	require.Equal(t, MaxCurrent, s.GenerationCurrent)
	require.Equal(t, MaxPower, s.Generated)
	require.Equal(t, -MaxPower, s.Consumed)
	require.Equal(t, 0.0, s.Net)
	require.LessOrEqual(t, s.GenerationPowerFactor, MaxPowerFactor)
}

func TestComputeInPhaseSignals(t *testing.T) {
	p := NewProcessor(testCalibration(), clock.NewMock())
	s := p.Compute(sineCycle(time.Time{}, 512, wave{voltage: 410, generation: 200, consumption: 100}), Override{})

	require.InDelta(t, 230.2, s.Voltage, 1)
	require.InDelta(t, 9.76, s.GenerationCurrent, 0.1)
	require.InDelta(t, 4.88, s.ConsumptionCurrent, 0.1)
	require.InDelta(t, s.Voltage*s.GenerationCurrent, s.Generated, s.Generated*0.01)
	require.InDelta(t, -s.Voltage*s.ConsumptionCurrent, s.Consumed, -s.Consumed*0.01)
	require.Greater(t, s.Generated, 0.0)
	require.Less(t, s.Consumed, 0.0)
	require.InDelta(t, s.Generated+s.Consumed, s.Net, 1e-9)
	require.Equal(t, MaxPowerFactor, s.GenerationPowerFactor)
	require.Equal(t, MaxPowerFactor, s.ConsumptionPowerFactor)
}

func TestComputeQuadratureCurrentHasNoRealPower(t *testing.T) {
	p := NewProcessor(testCalibration(), clock.NewMock())
	s := p.Compute(sineCycle(time.Time{}, 512, wave{voltage: 410, generation: 200, generationShift: SamplesPerCycle / 4}), Override{})

	require.InDelta(t, 9.76, s.GenerationCurrent, 0.1)
	require.InDelta(t, 0, s.Generated, 5)
	require.InDelta(t, 0, s.GenerationPowerFactor, 0.01)
}

func TestComputeInvertedPolarityStillYieldsSignedPowers(t *testing.T) {
	p := NewProcessor(testCalibration(), clock.NewMock())
	half := SamplesPerCycle / 2
	s := p.Compute(sineCycle(time.Time{}, 512, wave{
		voltage: 410, generation: 200, consumption: 100,
		generationShift: half, consumptionShift: half,
	}), Override{})

	require.Greater(t, s.Generated, 0.0)
	require.Less(t, s.Consumed, 0.0)
}

func TestComputeOverrideReplacesPowers(t *testing.T) {
	p := NewProcessor(testCalibration(), clock.NewMock())
	s := p.Compute(sineCycle(time.Time{}, 512, wave{voltage: 410}), Override{Active: true, Generated: 1500, Consumed: 600})

	require.InDelta(t, 230.2, s.Voltage, 1)
	require.Equal(t, 1500.0, s.Generated)
	require.Equal(t, -600.0, s.Consumed)
	require.Equal(t, 900.0, s.Net)
	require.Equal(t, 2700.0, s.Margin)
}

func TestComputeOverrideIsClipped(t *testing.T) {
	p := NewProcessor(testCalibration(), clock.NewMock())
	s := p.Compute(sineCycle(time.Time{}, 512, wave{}), Override{Active: true, Generated: 20000, Consumed: 20000})

	require.Equal(t, MaxPower, s.Generated)
	require.Equal(t, -MaxPower, s.Consumed)
	require.Equal(t, 0.0, s.Net)
}

func TestFilterSeedsWithFirstCycleAndConverges(t *testing.T) {
	p := NewProcessor(testCalibration(), clock.NewMock())
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	flat := func(at time.Time) *Cycle { return sineCycle(at, 512, wave{}) }

	s := p.Compute(flat(start), Override{Active: true, Generated: 1000, Consumed: 400})
	require.Equal(t, s.Generated, s.FilteredGenerated)
	require.Equal(t, s.Consumed, s.FilteredConsumed)
	require.Equal(t, s.Net, s.FilteredNet)
	require.Zero(t, s.Interval)

	at := start.Add(20 * time.Millisecond)
	s = p.Compute(flat(at), Override{Active: true, Generated: 2000, Consumed: 400})
	require.Equal(t, 20*time.Millisecond, s.Interval)
	require.InDelta(t, 1020, s.FilteredGenerated, 1e-9)
	require.InDelta(t, -400, s.FilteredConsumed, 1e-9)
	require.InDelta(t, s.FilteredGenerated+s.FilteredConsumed, s.FilteredNet, 1e-9)

	prevGap := 2000 - s.FilteredGenerated
	for i := 0; i < 500; i++ {
		at = at.Add(20 * time.Millisecond)
		s = p.Compute(flat(at), Override{Active: true, Generated: 2000, Consumed: 400})
		gap := 2000 - s.FilteredGenerated
		require.LessOrEqual(t, gap, prevGap)
		prevGap = gap
	}
	require.InDelta(t, 2000, s.FilteredGenerated, 1)
	require.InDelta(t, 1600, s.FilteredNet, 1)
	require.InDelta(t, 2900, s.Margin, 1)
}

func TestFilterAlphaSaturatesAtOne(t *testing.T) {
	p := NewProcessor(testCalibration(), clock.NewMock())
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p.Compute(sineCycle(start, 512, wave{}), Override{Active: true, Generated: 100})
	s := p.Compute(sineCycle(start.Add(5*time.Second), 512, wave{}), Override{Active: true, Generated: 800, Consumed: 300})

	require.Equal(t, 800.0, s.FilteredGenerated)
	require.Equal(t, -300.0, s.FilteredConsumed)
	require.Equal(t, 3000.0, s.Margin)
}

func TestCycleStats(t *testing.T) {
	c := sineCycle(time.Time{}, 512, wave{voltage: 410, generation: 200})
	stats := c.Stats()
	require.Equal(t, Range{Min: 512, Max: 512}, stats.Offset)
	require.Equal(t, Range{Min: 102, Max: 922}, stats.Voltage)
	require.Equal(t, Range{Min: 312, Max: 712}, stats.Generation)
	require.Equal(t, 20*time.Millisecond, stats.Duration)
}
