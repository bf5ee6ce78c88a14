package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/surplus/config"
	"github.com/timzifer/surplus/console"
	"github.com/timzifer/surplus/controller"
	"github.com/timzifer/surplus/internal/logging"
	"github.com/timzifer/surplus/internal/reload"
	"github.com/timzifer/surplus/loads"
	"github.com/timzifer/surplus/simulation"
	"github.com/timzifer/surplus/telemetry"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	consoleEnabled := flag.Bool("console", false, "Read simulation commands from stdin")
	printCode := flag.String("print", "", "Initial print code (0 none, 1 times, 2 measures, 3 computed, 4 filtered)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		os.Exit(executeConfigCheck(cfg))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code := cfg.Console.PrintCode
	if *printCode != "" {
		code = *printCode
	}
	sim, err := simulation.NewState(cfg.Simulation, code)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid simulation settings")
	}

	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
		collector = telemetry.Noop()
	}

	if err := run(ctx, *cfgPath, cfg, sim, collector, *consoleEnabled || cfg.Console.Enabled); err != nil {
		log.Fatal().Err(err).Msg("controller stopped")
	}
}

func executeConfigCheck(cfg *config.Config) int {
	fmt.Printf("Grid frequency: %g Hz (cycle %s)\n", cfg.Measure.GridFrequency, cfg.CyclePeriod())
	fmt.Printf("Decide every %s, refresh every %s ± %s\n",
		cfg.Scheduler.DecidePeriod.Duration, cfg.Scheduler.RefreshPeriod.Duration, cfg.Scheduler.RefreshJitter.Duration)
	if len(cfg.Loads) == 0 {
		fmt.Println("No loads configured.")
	}
	for i, lc := range cfg.Loads {
		s := loads.SettingsFromConfig(lc)
		fmt.Printf("Load %d %q: %g W, lock on %ds, lock off %ds", i+1, s.Name, s.Power, s.LockOn, s.LockOff)
		if s.Output != nil {
			fmt.Printf(", output %d", *s.Output)
		}
		if s.ModeInput != nil {
			fmt.Printf(", mode input %d", *s.ModeInput)
		}
		if s.Remote != nil {
			fmt.Printf(", %s channel %d", s.Remote.Protocol, s.Remote.Channel)
		}
		fmt.Println()
	}
	fmt.Println("Configuration check completed successfully.")
	return 0
}

// run hosts controllers until ctx is cancelled. With hot reload enabled a
// changed configuration replaces the running controller; the simulation state
// and the telemetry server carry over.
func run(ctx context.Context, cfgPath string, cfg *config.Config, sim *simulation.State, collector telemetry.Collector, withConsole bool) error {
	var current atomic.Pointer[controller.Controller]

	var changes <-chan []string
	var watcher *reload.Watcher
	if cfg.HotReload {
		var err error
		if watcher, err = reload.NewWatcher(cfgPath, cfg); err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		changes = watcher.Watch(ctx, clock.New(), time.Second)
	}

	consoleStarted := false
	var server *telemetry.Server
	defer func() {
		if server != nil {
			server.Close()
		}
	}()

	for {
		logger, cleanup, err := logging.Setup(cfg.Logging)
		if err != nil {
			return err
		}
		log.Logger = logger

		ctrl, err := controller.New(cfg, logger, controller.Options{Telemetry: collector, Simulation: sim})
		if err != nil {
			cleanup()
			return err
		}
		current.Store(ctrl)

		if server == nil && cfg.Telemetry.Enabled {
			status := func() interface{} {
				if c := current.Load(); c != nil {
					return c.Status()
				}
				return nil
			}
			server, err = telemetry.NewServer(cfg.Telemetry.Listen, prometheus.DefaultGatherer, status,
				logger.With().Str("component", "telemetry").Logger())
			if err != nil {
				logger.Error().Err(err).Msg("telemetry server not started")
			}
		}
		if withConsole && !consoleStarted {
			consoleStarted = true
			go startConsole(ctx, sim, logger)
		}

		runCtx, cancelRun := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- ctrl.Run(runCtx)
		}()

		var newCfg *config.Config
		var changed []string
	loop:
		for {
			select {
			case <-ctx.Done():
				cancelRun()
				<-errCh
				ctrl.Close()
				cleanup()
				return nil
			case err := <-errCh:
				cancelRun()
				ctrl.Close()
				cleanup()
				return err
			case files, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
				loaded, err := config.Load(cfgPath)
				if err != nil {
					logger.Error().Err(err).Msg("failed to reload configuration")
					continue
				}
				newCfg = loaded
				changed = files
				break loop
			}
		}

		cancelRun()
		if err := <-errCh; err != nil {
			logger.Error().Err(err).Msg("controller stopped during reload")
		}
		if err := ctrl.Close(); err != nil {
			logger.Warn().Err(err).Msg("release controller resources")
		}
		cleanup()
		if err := watcher.Update(cfgPath, newCfg); err != nil {
			logger.Error().Err(err).Msg("failed to update watcher state")
		}
		for _, file := range changed {
			collector.IncHotReload(file)
		}
		cfg = newCfg
	}
}

func startConsole(ctx context.Context, sim *simulation.State, logger zerolog.Logger) {
	c := console.New(sim, os.Stdout, logger)
	if err := c.Run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("console stopped")
	}
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}
