package simulation

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/timzifer/surplus/config"
	"github.com/timzifer/surplus/measure"
)

// Mode selects what the simulation replaces.
type Mode int

const (
	// ModeOff uses the configured sampler and the computed powers.
	ModeOff Mode = iota
	// ModeAnalog replaces the sampled inputs with sine waves.
	ModeAnalog
	// ModePower replaces the computed powers with fixed values.
	ModePower
)

func (m Mode) String() string {
	switch m {
	case ModeAnalog:
		return "analog"
	case ModePower:
		return "power"
	default:
		return "off"
	}
}

// ParseMode resolves a configured mode name.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "off", "none":
		return ModeOff, nil
	case "analog":
		return ModeAnalog, nil
	case "power":
		return ModePower, nil
	default:
		return ModeOff, fmt.Errorf("unknown simulation mode %q", value)
	}
}

// Settings is a consistent copy of the simulation fields.
type Settings struct {
	Mode Mode

	// Amplitudes, shifts and offset are in ADC counts and sample periods.
	GenerationAmplitude  int
	ConsumptionAmplitude int
	VoltageAmplitude     int
	GenerationShift      int
	ConsumptionShift     int
	Offset               int

	// Powers in watts; ConsumedPower is a magnitude.
	GeneratedPower int
	ConsumedPower  int

	PrintCode byte
}

// Override returns the power override the processor applies.
func (s Settings) Override() measure.Override {
	return measure.Override{
		Active:    s.Mode == ModePower,
		Generated: float64(s.GeneratedPower),
		Consumed:  float64(s.ConsumedPower),
	}
}

// State holds the simulation fields shared between the console goroutine and
// the control loop. The loop reads it once per iteration through Snapshot.
type State struct {
	mu       sync.RWMutex
	settings Settings
}

// NewState seeds the simulation from the configuration.
func NewState(cfg config.SimulationConfig, printCode string) (*State, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	code := byte('0')
	if printCode = strings.TrimSpace(printCode); printCode != "" {
		code = upper(printCode[0])
	}
	return &State{settings: Settings{
		Mode:                 mode,
		GenerationAmplitude:  cfg.GenerationAmplitude,
		ConsumptionAmplitude: cfg.ConsumptionAmplitude,
		VoltageAmplitude:     cfg.VoltageAmplitude,
		GenerationShift:      nonNegative(cfg.GenerationShift),
		ConsumptionShift:     nonNegative(cfg.ConsumptionShift),
		Offset:               cfg.Offset,
		GeneratedPower:       cfg.GeneratedPower,
		ConsumedPower:        cfg.ConsumedPower,
		PrintCode:            code,
	}}, nil
}

// Snapshot returns a copy of the current settings.
func (s *State) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Apply executes a parsed command and returns the text to echo back.
func (s *State) Apply(cmd Command) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.settings
	switch cmd.Kind {
	case KindStop:
		st.Mode = ModeOff
		return "No simulation"
	case KindPower:
		st.Mode = ModePower
		assign(cmd.Values, &st.GeneratedPower, &st.ConsumedPower)
		return fmt.Sprintf("Simulating powers: Pg=%d W Pc=%d W", st.GeneratedPower, st.ConsumedPower)
	case KindAnalog:
		st.Mode = ModeAnalog
		assign(cmd.Values, &st.GenerationAmplitude, &st.ConsumptionAmplitude, &st.VoltageAmplitude,
			&st.GenerationShift, &st.ConsumptionShift, &st.Offset)
		return fmt.Sprintf("Simulating analog inputs: AmplIg=%d AmplIc=%d AmplVx=%d ShiftIg=%d ShiftIc=%d V0=%d",
			st.GenerationAmplitude, st.ConsumptionAmplitude, st.VoltageAmplitude,
			st.GenerationShift, st.ConsumptionShift, st.Offset)
	case KindHelp:
		return Help
	case KindPrint:
		st.PrintCode = cmd.PrintCode
		return fmt.Sprintf("Print code %c", cmd.PrintCode)
	}
	return ""
}

func assign(values []int, fields ...*int) {
	for i, v := range values {
		if i >= len(fields) {
			return
		}
		*fields[i] = v
	}
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// SineTable returns n samples of one sine period scaled by 1000.
func SineTable(n int) []int {
	table := make([]int, n)
	for i := range table {
		table[i] = int(math.Round(1000 * math.Sin(2*math.Pi*float64(i)/float64(n))))
	}
	return table
}
