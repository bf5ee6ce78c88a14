package loads

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/timzifer/surplus/config"
	"github.com/timzifer/surplus/gpio"
	"github.com/timzifer/surplus/transport"
)

// Capacity is the maximum number of loads.
const Capacity = config.MaxLoads

// ErrRegistryFull is returned by Add when Capacity loads are registered.
var ErrRegistryFull = errors.New("load registry full")

// Mode is the control mode selected by a load's switch.
type Mode int

const (
	// ModeSolar lets the engine switch the load on solar excess.
	ModeSolar Mode = iota
	// ModeManual only requires consumption margin.
	ModeManual
)

func (m Mode) String() string {
	if m == ModeManual {
		return "manual"
	}
	return "solar"
}

// Remote binds a load to a remote switch channel.
type Remote struct {
	Protocol string
	Channel  int
}

// Settings is the static description of a load.
type Settings struct {
	Name string
	// Power is the nominal power in watts.
	Power float64
	// LockOn and LockOff are dwell times in seconds after switching on or off.
	LockOn    int
	LockOff   int
	Output    *int
	ModeInput *int
	Remote    *Remote
}

// SettingsFromConfig maps a configured load.
func SettingsFromConfig(cfg config.LoadConfig) Settings {
	s := Settings{
		Name:      cfg.Name,
		Power:     cfg.Power,
		LockOn:    cfg.LockOn.Seconds(),
		LockOff:   cfg.LockOff.Seconds(),
		Output:    cfg.Output,
		ModeInput: cfg.ModeInput,
	}
	if cfg.Remote != nil && transport.Normalize(cfg.Remote.Protocol) != transport.ProtocolNone {
		s.Remote = &Remote{Protocol: transport.Normalize(cfg.Remote.Protocol), Channel: cfg.Remote.Channel}
	}
	return s
}

// Status is the mutable part of a load.
type Status struct {
	Mode Mode
	On   bool
	// Pending marks a decided state that has not been applied yet.
	Pending     bool
	LockSeconds int
}

// Load combines settings and status.
type Load struct {
	Settings
	Status
}

// Registry is the fixed-capacity, priority ordered set of loads. Index 0 has
// the highest priority.
type Registry struct {
	bank   gpio.Bank
	logger zerolog.Logger
	loads  [Capacity]Load
	n      int
}

// NewRegistry creates an empty registry. Outputs and switch inputs are
// accessed through bank, which may be nil when no pins are wired.
func NewRegistry(bank gpio.Bank, logger zerolog.Logger) *Registry {
	return &Registry{bank: bank, logger: logger}
}

// Add registers a load at the next priority. The load starts off with its
// state pending so that the first activation applies it.
func (r *Registry) Add(s Settings) (int, error) {
	if r.n >= Capacity {
		return -1, fmt.Errorf("%w: %s", ErrRegistryFull, s.Name)
	}
	idx := r.n
	r.loads[idx] = Load{Settings: s, Status: Status{Mode: ModeSolar, Pending: true}}
	if s.Output != nil && r.bank != nil {
		if err := r.bank.Write(*s.Output, false); err != nil {
			r.logger.Warn().Err(err).Str("load", s.Name).Int("pin", *s.Output).Msg("initial output write failed")
		}
	}
	r.loads[idx].Mode = r.readMode(&r.loads[idx])
	r.n++
	return idx, nil
}

func (r *Registry) readMode(l *Load) Mode {
	if l.ModeInput == nil || r.bank == nil {
		return ModeSolar
	}
	level, err := r.bank.Read(*l.ModeInput)
	if err != nil {
		r.logger.Warn().Err(err).Str("load", l.Name).Int("pin", *l.ModeInput).Msg("mode switch read failed")
		return l.Mode
	}
	if level {
		return ModeSolar
	}
	return ModeManual
}

// Len returns the number of registered loads.
func (r *Registry) Len() int {
	return r.n
}

// At returns a copy of the load at priority index i.
func (r *Registry) At(i int) Load {
	return r.loads[i]
}

// Loads returns copies of all loads in priority order.
func (r *Registry) Loads() []Load {
	out := make([]Load, r.n)
	copy(out, r.loads[:r.n])
	return out
}

// byPriority visits loads from highest to lowest priority until fn returns false.
func (r *Registry) byPriority(fn func(i int, l *Load) bool) {
	for i := 0; i < r.n; i++ {
		if !fn(i, &r.loads[i]) {
			return
		}
	}
}

// byReversePriority visits loads from lowest to highest priority until fn returns false.
func (r *Registry) byReversePriority(fn func(i int, l *Load) bool) {
	for i := r.n - 1; i >= 0; i-- {
		if !fn(i, &r.loads[i]) {
			return
		}
	}
}
