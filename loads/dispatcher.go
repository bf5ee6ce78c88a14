package loads

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/surplus/gpio"
	"github.com/timzifer/surplus/measure"
	"github.com/timzifer/surplus/scheduler"
	"github.com/timzifer/surplus/transport"
)

// View is the read-only context logged with applied changes.
type View struct {
	Elapsed  string
	Snapshot measure.Snapshot
	Cause    Cause
}

// Applied records what Activate did for one load.
type Applied struct {
	Index   int
	Name    string
	On      bool
	Refresh bool
	// Protocol is set when a remote command was attempted.
	Protocol    string
	OutputErr   error
	TransferErr error
}

// Report lists the loads applied in one Activate call.
type Report struct {
	Count int
	Items [Capacity]Applied
}

// Dispatcher applies decided states to outputs and remote switches.
type Dispatcher struct {
	registry *Registry
	bank     gpio.Bank
	sender   transport.Sender
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher. bank and sender may be nil when no
// loads use outputs or remote switches.
func NewDispatcher(registry *Registry, bank gpio.Bank, sender transport.Sender, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, bank: bank, sender: sender, logger: logger}
}

// Activate applies every load with a pending change, or every load when the
// refresh flag is set. Repeated application of the same state is harmless;
// lock timers are not touched.
func (d *Dispatcher) Activate(ctx context.Context, flags scheduler.Flags, view View) Report {
	var report Report
	refresh := flags.Refresh
	d.registry.byPriority(func(i int, l *Load) bool {
		if !l.Pending && !refresh {
			return true
		}
		applied := Applied{Index: i, Name: l.Name, On: l.On, Refresh: !l.Pending}
		if l.Pending {
			d.logChange(l, view)
		} else {
			d.logger.Info().Str("elapsed", view.Elapsed).Str("load", l.Name).Str("state", stateName(l.On)).Msg("load refreshed")
		}
		l.Pending = false

		if l.Output != nil && d.bank != nil {
			if err := d.bank.Write(*l.Output, l.On); err != nil {
				applied.OutputErr = err
				d.logger.Warn().Err(err).Str("load", l.Name).Int("pin", *l.Output).Msg("output write failed")
			}
		}
		if l.Remote != nil && d.sender != nil {
			applied.Protocol = l.Remote.Protocol
			if err := d.sender.Send(ctx, l.Remote.Protocol, l.Remote.Channel, l.On); err != nil {
				applied.TransferErr = err
				d.logger.Warn().Err(err).Str("load", l.Name).Str("protocol", l.Remote.Protocol).Int("channel", l.Remote.Channel).Msg("switch command failed")
			}
		}
		report.Items[report.Count] = applied
		report.Count++
		return true
	})
	return report
}

func (d *Dispatcher) logChange(l *Load, view View) {
	s := view.Snapshot
	d.logger.Info().
		Str("elapsed", view.Elapsed).
		Str("load", l.Name).
		Str("state", stateName(l.On)).
		Int64("generated", watts(s.FilteredGenerated)).
		Int64("consumed", watts(s.FilteredConsumed)).
		Int64("excedent", watts(s.FilteredGenerated+s.FilteredConsumed)).
		Int64("margin", watts(s.Margin)).
		Str("cause", string(view.Cause)).
		Msgf("load set to %s", stateName(l.On))
}

func watts(v float64) int64 {
	return decimal.NewFromFloat(v).Round(0).IntPart()
}

func stateName(on bool) string {
	if on {
		return "On"
	}
	return "Off"
}
