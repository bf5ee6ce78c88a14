package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timzifer/surplus/measure"
)

// Collector captures telemetry events emitted by the control loop.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They must be inexpensive to call because hooks run
// inline with the cycle computation.
type Collector interface {
	IncHotReload(file string)
	ObserveSnapshot(s measure.Snapshot)
	SetLoadState(load string, on bool)
	IncDecision(cause string)
	IncSwitchFailure(load, kind string)
	IncSamplerFailure()
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)              {}
func (noopCollector) ObserveSnapshot(measure.Snapshot) {}
func (noopCollector) SetLoadState(string, bool)        {}
func (noopCollector) IncDecision(string)               {}
func (noopCollector) IncSwitchFailure(string, string)  {}
func (noopCollector) IncSamplerFailure()               {}

// Failure kinds reported through IncSwitchFailure.
const (
	FailureOutput    = "output"
	FailureTransport = "transport"
)

// PrometheusCollector exposes telemetry via Prometheus.
type PrometheusCollector struct {
	hotReloads      *prometheus.CounterVec
	power           *prometheus.GaugeVec
	voltage         prometheus.Gauge
	powerFactor     *prometheus.GaugeVec
	computeSeconds  prometheus.Gauge
	cycles          prometheus.Gauge
	loadState       *prometheus.GaugeVec
	decisions       *prometheus.CounterVec
	switchFailures  *prometheus.CounterVec
	samplerFailures prometheus.Counter
}

// Metrics are shared by every collector built in this process so that a
// controller rebuilt on hot reload keeps feeding the same series.
var (
	shared     *PrometheusCollector
	sharedLock sync.Mutex
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	sharedLock.Lock()
	defer sharedLock.Unlock()
	if shared != nil {
		return shared, nil
	}

	var (
		c   PrometheusCollector
		err error
	)
	if c.hotReloads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "surplus_config_hot_reload_total",
		Help: "Number of hot reload operations triggered per configuration source file.",
	}, []string{"file"})); err != nil {
		return nil, err
	}
	if c.power, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "surplus_power_watts",
		Help: "Most recent power values; consumption is negative.",
	}, []string{"quantity"})); err != nil {
		return nil, err
	}
	if c.voltage, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "surplus_voltage_volts",
		Help: "RMS grid voltage of the last computed cycle.",
	})); err != nil {
		return nil, err
	}
	if c.powerFactor, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "surplus_power_factor",
		Help: "Power factor of the last computed cycle per current channel.",
	}, []string{"channel"})); err != nil {
		return nil, err
	}
	if c.computeSeconds, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "surplus_cycle_compute_seconds",
		Help: "Time spent computing the last cycle.",
	})); err != nil {
		return nil, err
	}
	if c.cycles, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "surplus_cycles_computed",
		Help: "Cycles computed by the current processor.",
	})); err != nil {
		return nil, err
	}
	if c.loadState, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "surplus_load_on",
		Help: "Decided state per load, 1 for on.",
	}, []string{"load"})); err != nil {
		return nil, err
	}
	if c.decisions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "surplus_decisions_total",
		Help: "Load state changes per cause.",
	}, []string{"cause"})); err != nil {
		return nil, err
	}
	if c.switchFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "surplus_switch_failures_total",
		Help: "Failed output writes and remote switch commands.",
	}, []string{"load", "kind"})); err != nil {
		return nil, err
	}
	if c.samplerFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "surplus_sampler_failures_total",
		Help: "Sample cycles that could not be acquired.",
	})); err != nil {
		return nil, err
	}
	shared = &c
	return shared, nil
}

// register adds collector to reg or returns the already registered instance.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return collector, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// ObserveSnapshot publishes the values of a computed cycle.
func (p *PrometheusCollector) ObserveSnapshot(s measure.Snapshot) {
	if p == nil || p.power == nil {
		return
	}
	p.power.WithLabelValues("generated").Set(s.Generated)
	p.power.WithLabelValues("consumed").Set(s.Consumed)
	p.power.WithLabelValues("net").Set(s.Net)
	p.power.WithLabelValues("filtered_generated").Set(s.FilteredGenerated)
	p.power.WithLabelValues("filtered_consumed").Set(s.FilteredConsumed)
	p.power.WithLabelValues("filtered_net").Set(s.FilteredNet)
	p.power.WithLabelValues("margin").Set(s.Margin)
	p.voltage.Set(s.Voltage)
	p.powerFactor.WithLabelValues("generation").Set(s.GenerationPowerFactor)
	p.powerFactor.WithLabelValues("consumption").Set(s.ConsumptionPowerFactor)
	p.computeSeconds.Set(s.ComputeTime.Seconds())
	p.cycles.Set(float64(s.Cycles))
}

// SetLoadState records the decided state of a load.
func (p *PrometheusCollector) SetLoadState(load string, on bool) {
	if p == nil || p.loadState == nil {
		return
	}
	v := 0.0
	if on {
		v = 1
	}
	p.loadState.WithLabelValues(load).Set(v)
}

// IncDecision counts a state change made for cause.
func (p *PrometheusCollector) IncDecision(cause string) {
	if p == nil || p.decisions == nil {
		return
	}
	p.decisions.WithLabelValues(cause).Inc()
}

// IncSwitchFailure counts a failed output write or remote command.
func (p *PrometheusCollector) IncSwitchFailure(load, kind string) {
	if p == nil || p.switchFailures == nil {
		return
	}
	p.switchFailures.WithLabelValues(load, kind).Inc()
}

// IncSamplerFailure counts a cycle that could not be acquired.
func (p *PrometheusCollector) IncSamplerFailure() {
	if p == nil || p.samplerFailures == nil {
		return
	}
	p.samplerFailures.Inc()
}
