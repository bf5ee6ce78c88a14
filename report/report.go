// Package report renders the periodic console reports and the read-only
// status view of the controller.
package report

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/surplus/loads"
	"github.com/timzifer/surplus/measure"
)

// Print codes selectable from the console.
const (
	CodeNone     byte = '0'
	CodeTimes    byte = '1'
	CodeMeasures byte = '2'
	CodeComputed byte = '3'
	CodeFiltered byte = '4'
)

// Input is what a report line is rendered from.
type Input struct {
	LoopTime time.Duration
	Snapshot measure.Snapshot
	Stats    measure.Stats
}

// Printer writes one report line per call.
type Printer struct {
	logger zerolog.Logger
}

// NewPrinter creates a printer writing to logger.
func NewPrinter(logger zerolog.Logger) *Printer {
	return &Printer{logger: logger.With().Str("component", "report").Logger()}
}

// Print renders the report selected by code. It returns false for codes
// without a report.
func (p *Printer) Print(code byte, in Input) bool {
	s := in.Snapshot
	switch code {
	case CodeTimes:
		p.logger.Info().
			Dur("loop_time", in.LoopTime).
			Dur("compute_time", s.ComputeTime).
			Dur("sampling_average", s.SamplingAverage).
			Dur("acquisition", in.Stats.Duration).
			Msg("times")
	case CodeMeasures:
		p.logger.Info().
			Float64("offset_average", round(s.OffsetAverage, 1)).
			Float64("volts_per_count", round(s.VoltsPerCount, 3)).
			Str("offset", rangeText(in.Stats.Offset)).
			Str("voltage", rangeText(in.Stats.Voltage)).
			Str("generation", rangeText(in.Stats.Generation)).
			Str("consumption", rangeText(in.Stats.Consumption)).
			Msg("measures")
	case CodeComputed:
		p.logger.Info().
			Float64("voltage", round(s.Voltage, 1)).
			Float64("generation_current", round(s.GenerationCurrent, 2)).
			Float64("consumption_current", round(s.ConsumptionCurrent, 2)).
			Int64("generated", Watts(s.Generated)).
			Int64("consumed", Watts(s.Consumed)).
			Int64("net", Watts(s.Net)).
			Float64("generation_power_factor", round(s.GenerationPowerFactor, 2)).
			Float64("consumption_power_factor", round(s.ConsumptionPowerFactor, 2)).
			Msg("computed")
	case CodeFiltered:
		p.logger.Info().
			Int64("generated", Watts(s.FilteredGenerated)).
			Int64("consumed", Watts(s.FilteredConsumed)).
			Int64("excedent", Watts(s.FilteredNet)).
			Int64("margin", Watts(s.Margin)).
			Msg("filtered")
	default:
		return false
	}
	return true
}

// Watts rounds a power to whole watts.
func Watts(v float64) int64 {
	return decimal.NewFromFloat(v).Round(0).IntPart()
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func rangeText(r measure.Range) string {
	return fmt.Sprintf("%d..%d", r.Min, r.Max)
}

// LoadStatus is the published state of one load.
type LoadStatus struct {
	Name        string  `json:"name"`
	Power       float64 `json:"power"`
	Mode        string  `json:"mode"`
	On          bool    `json:"on"`
	Pending     bool    `json:"pending"`
	LockSeconds int     `json:"lock_seconds"`
	Output      *int    `json:"output,omitempty"`
	Protocol    string  `json:"protocol,omitempty"`
	Channel     int     `json:"channel,omitempty"`
}

// Status is the view served on /status.
type Status struct {
	Elapsed           string           `json:"elapsed"`
	Uptime            int64            `json:"uptime"`
	SecondsToDecision int              `json:"seconds_to_decision"`
	SecondsToRefresh  int              `json:"seconds_to_refresh"`
	Cause             string           `json:"cause"`
	Simulation        string           `json:"simulation"`
	PrintCode         string           `json:"print_code"`
	Snapshot          measure.Snapshot `json:"snapshot"`
	Loads             []LoadStatus     `json:"loads"`
}

// LoadStatuses converts registry entries to their published form.
func LoadStatuses(in []loads.Load) []LoadStatus {
	out := make([]LoadStatus, 0, len(in))
	for _, l := range in {
		st := LoadStatus{
			Name:        l.Name,
			Power:       l.Power,
			Mode:        l.Mode.String(),
			On:          l.On,
			Pending:     l.Pending,
			LockSeconds: l.LockSeconds,
			Output:      l.Output,
		}
		if l.Remote != nil {
			st.Protocol = l.Remote.Protocol
			st.Channel = l.Remote.Channel
		}
		out = append(out, st)
	}
	return out
}
