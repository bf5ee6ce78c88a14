// Package controller hosts the control loop: it paces the scheduler, feeds
// sample cycles to the processor and lets the decision engine and dispatcher
// act on the result.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/timzifer/surplus/config"
	"github.com/timzifer/surplus/gpio"
	"github.com/timzifer/surplus/loads"
	"github.com/timzifer/surplus/measure"
	"github.com/timzifer/surplus/remote"
	"github.com/timzifer/surplus/report"
	"github.com/timzifer/surplus/sampler"
	"github.com/timzifer/surplus/scheduler"
	"github.com/timzifer/surplus/simulation"
	"github.com/timzifer/surplus/telemetry"
	"github.com/timzifer/surplus/transport"
	"github.com/timzifer/surplus/transport/mqtt"
	"github.com/timzifer/surplus/transport/rf"
)

// Options carries collaborators that outlive a controller or are replaced in tests.
type Options struct {
	Clock     clock.Clock
	Telemetry telemetry.Collector
	Factory   remote.ClientFactory
	// Simulation is shared with the console so that it survives a reload.
	Simulation *simulation.State
	// Bank and Sender replace the configured pins and transports when set.
	Bank   gpio.Bank
	Sender transport.Sender
}

// Iteration summarises what one IterateOnce call did.
type Iteration struct {
	Flags     scheduler.Flags
	Computed  bool
	Synthetic bool
	SampleErr error
	Decision  *loads.Decision
	Applied   loads.Report
}

// Controller owns the state of one control loop. Everything except Status is
// called from the loop goroutine only.
type Controller struct {
	cfg       *config.Config
	clock     clock.Clock
	logger    zerolog.Logger
	telemetry telemetry.Collector

	scheduler  *scheduler.Scheduler
	processor  *measure.Processor
	registry   *loads.Registry
	engine     *loads.Engine
	dispatcher *loads.Dispatcher
	selector   *sampler.Selector
	sim        *simulation.State
	printer    *report.Printer

	cycle    measure.Cycle
	stats    measure.Stats
	settings simulation.Settings
	closers  []func() error

	mu     sync.RWMutex
	status report.Status
}

// New wires a controller from the configuration.
func New(cfg *config.Config, logger zerolog.Logger, opts Options) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	collector := opts.Telemetry
	if collector == nil {
		collector = telemetry.Noop()
	}
	factory := opts.Factory
	if factory == nil {
		factory = remote.NewClientFactory()
	}

	c := &Controller{
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
		telemetry: collector,
		processor: measure.NewProcessor(measure.CalibrationFromConfig(cfg.Measure), clk),
		printer:   report.NewPrinter(logger),
	}

	sim := opts.Simulation
	if sim == nil {
		var err error
		if sim, err = simulation.NewState(cfg.Simulation, cfg.Console.PrintCode); err != nil {
			return nil, err
		}
	}
	c.sim = sim

	source, err := scheduler.NewSource(cfg.Scheduler.Source, cfg.Scheduler.Seed)
	if err != nil {
		return nil, err
	}
	c.scheduler = scheduler.New(scheduler.Config{
		DecidePeriod:  cfg.Scheduler.DecidePeriod.Seconds(),
		RefreshPeriod: cfg.Scheduler.RefreshPeriod.Seconds(),
		RefreshJitter: cfg.Scheduler.RefreshJitter.Seconds(),
	}, clk, source, logger.With().Str("component", "scheduler").Logger())

	selector, closeSampler, err := sampler.FromConfig(cfg, clk, factory)
	if err != nil {
		return nil, err
	}
	c.selector = selector
	c.closers = append(c.closers, closeSampler)

	bank := opts.Bank
	if bank == nil {
		var closeBank func() error
		if bank, closeBank, err = gpio.FromConfig(cfg.Pins, factory); err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, closeBank)
	}

	sender := opts.Sender
	if sender == nil {
		if sender, err = c.buildTransports(); err != nil {
			c.Close()
			return nil, err
		}
	}

	loadLogger := logger.With().Str("component", "loads").Logger()
	c.registry = loads.NewRegistry(bank, loadLogger)
	for _, lc := range cfg.Loads {
		if _, err := c.registry.Add(loads.SettingsFromConfig(lc)); err != nil {
			c.Close()
			return nil, err
		}
	}
	c.engine = loads.NewEngine(c.registry, loadLogger)
	c.dispatcher = loads.NewDispatcher(c.registry, bank, sender, loadLogger)
	c.settings = c.sim.Snapshot()
	c.publish()
	return c, nil
}

func (c *Controller) buildTransports() (*transport.Mux, error) {
	mux := transport.NewMux()
	tc := c.cfg.Transports
	if tc.RF.Enabled {
		emitter := rf.NewLogEmitter(tc.RF.Pin, c.logger.With().Str("component", "rf").Logger())
		mux.Register(transport.ProtocolGMOMXSEN, rf.NewTransmitter(emitter))
	}
	if tc.MQTT.Enabled {
		driver, err := mqtt.Dial(tc.MQTT, c.logger.With().Str("component", "mqtt").Logger())
		if err != nil {
			return nil, fmt.Errorf("mqtt transport: %w", err)
		}
		mux.Register(transport.ProtocolMQTT, driver)
		c.closers = append(c.closers, driver.Close)
	}
	return mux, nil
}

// Simulation returns the simulation state polled by the loop.
func (c *Controller) Simulation() *simulation.State {
	return c.sim
}

// Run iterates once per grid period until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := c.clock.Ticker(c.cfg.CyclePeriod())
	defer ticker.Stop()
	c.logger.Info().Int("loads", c.registry.Len()).Dur("period", c.cfg.CyclePeriod()).Msg("control loop started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("control loop stopped")
			return nil
		case <-ticker.C:
			c.IterateOnce(ctx)
		}
	}
}

// IterateOnce runs one pass of the control loop.
func (c *Controller) IterateOnce(ctx context.Context) Iteration {
	var it Iteration
	it.Flags = c.scheduler.Advance()
	c.settings = c.sim.Snapshot()

	synthetic, err := c.selector.Acquire(ctx, c.settings, &c.cycle)
	it.Synthetic = synthetic
	if err != nil {
		// The previous snapshot stays in force.
		it.SampleErr = err
		c.telemetry.IncSamplerFailure()
		c.logger.Warn().Err(err).Msg("sample cycle not acquired")
	} else {
		c.telemetry.ObserveSnapshot(c.processor.Compute(&c.cycle, c.settings.Override()))
		c.stats = c.cycle.Stats()
		it.Computed = true
	}

	snapshot := c.processor.Snapshot()
	if it.Flags.OneSecond {
		c.engine.OneSecond()
	}
	if it.Flags.Decide {
		if d, ok := c.engine.Decide(snapshot); ok {
			it.Decision = &d
			c.telemetry.IncDecision(string(d.Cause))
		}
	}

	it.Applied = c.dispatcher.Activate(ctx, it.Flags, loads.View{
		Elapsed:  c.scheduler.Elapsed(),
		Snapshot: snapshot,
		Cause:    c.engine.Cause(),
	})
	for i := 0; i < it.Applied.Count; i++ {
		applied := it.Applied.Items[i]
		c.telemetry.SetLoadState(applied.Name, applied.On)
		if applied.OutputErr != nil {
			c.telemetry.IncSwitchFailure(applied.Name, telemetry.FailureOutput)
		}
		if applied.TransferErr != nil {
			c.telemetry.IncSwitchFailure(applied.Name, telemetry.FailureTransport)
		}
	}

	if it.Flags.OneSecond {
		c.printer.Print(c.settings.PrintCode, report.Input{
			LoopTime: c.scheduler.LoopTime(),
			Snapshot: snapshot,
			Stats:    c.stats,
		})
	}
	if it.Flags.Any() || it.Applied.Count > 0 {
		c.publish()
	}
	return it
}

func (c *Controller) publish() {
	st := report.Status{
		Elapsed:           c.scheduler.Elapsed(),
		Uptime:            c.scheduler.Uptime(),
		SecondsToDecision: c.scheduler.SecondsToDecision(),
		SecondsToRefresh:  c.scheduler.SecondsToRefresh(),
		Cause:             string(c.engine.Cause()),
		Simulation:        c.settings.Mode.String(),
		PrintCode:         string(c.settings.PrintCode),
		Snapshot:          c.processor.Snapshot(),
		Loads:             report.LoadStatuses(c.registry.Loads()),
	}
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
}

// Status returns the view published at the last whole second or change.
// It is safe to call from any goroutine.
func (c *Controller) Status() report.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Close releases the pins, sampler and transport connections.
func (c *Controller) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
