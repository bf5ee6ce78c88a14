package scheduler

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Flags are the pulses raised by one call to Advance. Each value is returned
// once and never observed again, so a consumer cannot handle a pulse twice.
type Flags struct {
	OneSecond bool
	Decide    bool
	Refresh   bool
}

// Any reports whether at least one pulse fired.
func (f Flags) Any() bool {
	return f.OneSecond || f.Decide || f.Refresh
}

// Config holds the periods of the scheduler, in whole seconds.
type Config struct {
	DecidePeriod  int
	RefreshPeriod int
	RefreshJitter int
}

// Scheduler converts elapsed wall clock time into pulsed flags.
type Scheduler struct {
	clock  clock.Clock
	source Source
	logger zerolog.Logger

	decidePeriod  int
	refreshPeriod int
	refreshJitter int

	lastSecond time.Time
	hours      int
	minutes    int
	seconds    int
	uptime     int64

	decideLeft  int
	refreshLeft int

	prevLoopStart time.Time
	loopTime      time.Duration
}

// New creates a scheduler that starts counting from the current clock time.
func New(cfg Config, clk clock.Clock, source Source, logger zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if source == nil {
		source = NewPseudoSource(nil)
	}
	if cfg.DecidePeriod < 1 {
		cfg.DecidePeriod = 1
	}
	if cfg.RefreshPeriod < 1 {
		cfg.RefreshPeriod = 1
	}
	if cfg.RefreshJitter < 0 {
		cfg.RefreshJitter = 0
	}
	now := clk.Now()
	return &Scheduler{
		clock:         clk,
		source:        source,
		logger:        logger,
		decidePeriod:  cfg.DecidePeriod,
		refreshPeriod: cfg.RefreshPeriod,
		refreshJitter: cfg.RefreshJitter,
		lastSecond:    now,
		decideLeft:    cfg.DecidePeriod,
		refreshLeft:   cfg.RefreshPeriod,
		prevLoopStart: now,
	}
}

// Advance must be called once per control loop iteration. It returns the
// flags that fire in this iteration; when less than a second has passed since
// the last whole second mark it returns the zero value.
func (s *Scheduler) Advance() Flags {
	now := s.clock.Now()
	s.loopTime = now.Sub(s.prevLoopStart)
	s.prevLoopStart = now

	if now.Sub(s.lastSecond) < time.Second {
		return Flags{}
	}
	// A stalled loop catches up one second per call.
	s.lastSecond = s.lastSecond.Add(time.Second)
	s.tick()

	flags := Flags{OneSecond: true}
	s.decideLeft--
	if s.decideLeft <= 0 {
		s.decideLeft = s.decidePeriod
		flags.Decide = true
	}
	s.refreshLeft--
	if s.refreshLeft <= 0 {
		s.refreshLeft = s.nextRefresh()
		flags.Refresh = true
	}
	return flags
}

func (s *Scheduler) tick() {
	s.uptime++
	s.seconds++
	if s.seconds >= 60 {
		s.seconds = 0
		s.minutes++
		if s.minutes >= 60 {
			s.minutes = 0
			s.hours++
		}
	}
}

func (s *Scheduler) nextRefresh() int {
	jitter, err := intInRange(s.source, -s.refreshJitter, s.refreshJitter)
	if err != nil {
		s.logger.Warn().Err(err).Msg("refresh jitter unavailable")
		jitter = 0
	}
	next := s.refreshPeriod + jitter
	if next < 1 {
		next = 1
	}
	return next
}

// Elapsed renders the time since start as hh:mm:ss.
func (s *Scheduler) Elapsed() string {
	return fmt.Sprintf("%02d:%02d:%02d", s.hours, s.minutes, s.seconds)
}

// Uptime returns the number of whole seconds counted so far.
func (s *Scheduler) Uptime() int64 {
	return s.uptime
}

// LoopTime is the duration of the previous control loop iteration.
func (s *Scheduler) LoopTime() time.Duration {
	return s.loopTime
}

// SecondsToDecision returns the countdown until the next decide flag.
func (s *Scheduler) SecondsToDecision() int {
	return s.decideLeft
}

// SecondsToRefresh returns the countdown until the next refresh flag.
func (s *Scheduler) SecondsToRefresh() int {
	return s.refreshLeft
}
