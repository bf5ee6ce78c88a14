package measure

import "time"

const (
	// SamplesPerCycle is the number of readings taken over one grid period.
	SamplesPerCycle = 40
	// Resolution is the number of ADC steps.
	Resolution = 1024
)

// Cycle holds one grid period of synchronized readings. A cycle is not
// modified after it has been handed to the processor.
type Cycle struct {
	Start time.Time
	End   time.Time

	Offset      [SamplesPerCycle]uint16
	Voltage     [SamplesPerCycle]uint16
	Generation  [SamplesPerCycle]uint16
	Consumption [SamplesPerCycle]uint16

	// SamplingTime is the conversion time of the four readings at each index.
	SamplingTime [SamplesPerCycle]time.Duration
}

// Range is the lowest and highest reading of one channel.
type Range struct {
	Min uint16
	Max uint16
}

// Stats summarises the raw readings of a cycle.
type Stats struct {
	Offset      Range
	Voltage     Range
	Generation  Range
	Consumption Range
	Duration    time.Duration
}

// Stats computes the per-channel extremes of the cycle.
func (c *Cycle) Stats() Stats {
	return Stats{
		Offset:      channelRange(&c.Offset),
		Voltage:     channelRange(&c.Voltage),
		Generation:  channelRange(&c.Generation),
		Consumption: channelRange(&c.Consumption),
		Duration:    c.End.Sub(c.Start),
	}
}

func channelRange(values *[SamplesPerCycle]uint16) Range {
	r := Range{Min: values[0], Max: values[0]}
	for _, v := range values[1:] {
		if v < r.Min {
			r.Min = v
		}
		if v > r.Max {
			r.Max = v
		}
	}
	return r
}

// SamplingAverage is the mean conversion time per index.
func (c *Cycle) SamplingAverage() time.Duration {
	var sum time.Duration
	for _, d := range c.SamplingTime {
		sum += d
	}
	return sum / SamplesPerCycle
}
