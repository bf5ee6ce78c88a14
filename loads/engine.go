package loads

import (
	"github.com/rs/zerolog"

	"github.com/timzifer/surplus/measure"
)

// PowerReductionFactor discounts the power a lower priority load would free.
const PowerReductionFactor = 0.85

// Cause explains the most recent state change.
type Cause string

const (
	CauseProgramStart      Cause = "program start"
	CauseNoMargin          Cause = "no margin"
	CauseNoExcedent        Cause = "no excedent"
	CausePriorityInversion Cause = "priority inversion"
	CauseEnoughMargin      Cause = "enough margin"
	CauseEnoughExcedent    Cause = "enough excedent and margin"
)

// Decision is the single change made by one Decide call.
type Decision struct {
	Index int
	Name  string
	On    bool
	Cause Cause
}

// Engine evaluates the switching rules over the registry.
type Engine struct {
	registry *Registry
	logger   zerolog.Logger
	cause    Cause
}

// NewEngine creates an engine for registry.
func NewEngine(registry *Registry, logger zerolog.Logger) *Engine {
	return &Engine{registry: registry, logger: logger, cause: CauseProgramStart}
}

// Cause returns the reason of the most recent change.
func (e *Engine) Cause() Cause {
	return e.cause
}

// OneSecond samples the mode switches and counts the lock timers down.
func (e *Engine) OneSecond() {
	e.registry.byPriority(func(_ int, l *Load) bool {
		l.Mode = e.registry.readMode(l)
		if l.LockSeconds > 0 {
			l.LockSeconds--
		}
		return true
	})
}

// Decide applies the first matching rule and changes at most one load.
func (e *Engine) Decide(s measure.Snapshot) (Decision, bool) {
	if s.Margin <= 0 {
		if d, ok := e.switchOffLowest(func(l *Load) bool { return l.On }, CauseNoMargin); ok {
			return d, true
		}
	}
	if s.FilteredNet <= 0 {
		if d, ok := e.switchOffLowest(func(l *Load) bool {
			return l.On && l.Mode == ModeSolar && l.LockSeconds == 0
		}, CauseNoExcedent); ok {
			return d, true
		}
	}
	if d, ok := e.resolveInversion(s.FilteredNet); ok {
		return d, true
	}
	return e.activate(s)
}

// switchOffLowest turns off the lowest priority load accepted by match.
func (e *Engine) switchOffLowest(match func(*Load) bool, cause Cause) (Decision, bool) {
	var (
		d     Decision
		found bool
	)
	e.registry.byReversePriority(func(i int, l *Load) bool {
		if !match(l) {
			return true
		}
		d = e.apply(i, l, false, cause)
		found = true
		return false
	})
	return d, found
}

// resolveInversion frees capacity held by a lower priority load when its
// discounted power plus the excess would cover an idle higher priority load.
func (e *Engine) resolveInversion(net float64) (Decision, bool) {
	r := e.registry
	for i := 0; i < r.n; i++ {
		high := &r.loads[i]
		if high.On || high.Mode != ModeSolar || high.LockSeconds != 0 {
			continue
		}
		for j := i + 1; j < r.n; j++ {
			low := &r.loads[j]
			if !low.On || low.Mode != ModeSolar || low.LockSeconds != 0 {
				continue
			}
			if low.Power*PowerReductionFactor+net >= high.Power {
				return e.apply(j, low, false, CausePriorityInversion), true
			}
		}
	}
	return Decision{}, false
}

func (e *Engine) activate(s measure.Snapshot) (Decision, bool) {
	var (
		d     Decision
		found bool
	)
	e.registry.byPriority(func(i int, l *Load) bool {
		if l.On || l.LockSeconds != 0 || l.Power >= s.Margin {
			return true
		}
		if l.Mode == ModeSolar && l.Power >= s.FilteredNet {
			return true
		}
		cause := CauseEnoughMargin
		if l.Mode == ModeSolar {
			cause = CauseEnoughExcedent
		}
		d = e.apply(i, l, true, cause)
		found = true
		return false
	})
	return d, found
}

func (e *Engine) apply(i int, l *Load, on bool, cause Cause) Decision {
	l.On = on
	l.Pending = true
	if on {
		l.LockSeconds = l.LockOn
	} else {
		l.LockSeconds = l.LockOff
	}
	e.cause = cause
	e.logger.Debug().Str("load", l.Name).Bool("on", on).Str("cause", string(cause)).Msg("load decision")
	return Decision{Index: i, Name: l.Name, On: on, Cause: cause}
}
