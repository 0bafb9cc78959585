package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/meshtopo/core"
)

// Computation outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomePanic = "panic"
)

// EngineCollector exposes Prometheus metrics for the topology engine and the
// service that owns its results.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	Computations    *prometheus.CounterVec
	ComputeDuration prometheus.Histogram
	StageDuration   *prometheus.HistogramVec
	Superseded      prometheus.Counter
	DroppedOutcomes prometheus.Counter
	TopologyNodes   prometheus.Gauge
	TopologyEdges   *prometheus.GaugeVec
	TopologyHubs    prometheus.Gauge
	TopologyLoops   prometheus.Gauge
	MobileNodes     prometheus.Gauge
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
}

// NewEngineCollector registers engine metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &EngineCollector{gatherer: gathererFor(reg)}

	var err error
	c.Computations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meshtopo_computations_total",
		Help: "Topology computations run by the engine, labeled by outcome.",
	}, []string{"outcome"}), "meshtopo_computations_total")
	if err != nil {
		return nil, err
	}

	c.ComputeDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshtopo_computation_duration_seconds",
		Help:    "Wall time of a full topology computation.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "meshtopo_computation_duration_seconds")
	if err != nil {
		return nil, err
	}

	c.StageDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meshtopo_stage_duration_seconds",
		Help:    "Wall time of each pipeline stage.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"stage"}), "meshtopo_stage_duration_seconds")
	if err != nil {
		return nil, err
	}

	c.Superseded, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meshtopo_requests_superseded_total",
		Help: "Pending requests replaced by a newer submission before they ran.",
	}), "meshtopo_requests_superseded_total")
	if err != nil {
		return nil, err
	}

	c.DroppedOutcomes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meshtopo_outcomes_dropped_total",
		Help: "Undelivered outcomes dropped in favour of a newer one.",
	}), "meshtopo_outcomes_dropped_total")
	if err != nil {
		return nil, err
	}

	c.TopologyNodes, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshtopo_topology_nodes",
		Help: "Nodes in the latest topology.",
	}), "meshtopo_topology_nodes")
	if err != nil {
		return nil, err
	}

	c.TopologyEdges, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshtopo_topology_edges",
		Help: "Edges in the latest topology, labeled by class.",
	}, []string{"class"}), "meshtopo_topology_edges")
	if err != nil {
		return nil, err
	}

	c.TopologyHubs, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshtopo_topology_hubs",
		Help: "Hub nodes in the latest topology.",
	}), "meshtopo_topology_hubs")
	if err != nil {
		return nil, err
	}

	c.TopologyLoops, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshtopo_topology_loops",
		Help: "Redundant loops found in the latest topology.",
	}), "meshtopo_topology_loops")
	if err != nil {
		return nil, err
	}

	c.MobileNodes, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshtopo_mobile_nodes",
		Help: "Nodes classified as mobile in the latest topology.",
	}), "meshtopo_mobile_nodes")
	if err != nil {
		return nil, err
	}

	c.CacheHits, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meshtopo_result_cache_hits_total",
		Help: "Snapshots served from the result cache without recomputation.",
	}), "meshtopo_result_cache_hits_total")
	if err != nil {
		return nil, err
	}

	c.CacheMisses, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meshtopo_result_cache_misses_total",
		Help: "Snapshots that required a fresh computation.",
	}), "meshtopo_result_cache_misses_total")
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveComputation records one finished computation.
func (c *EngineCollector) ObserveComputation(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if c.Computations != nil {
		c.Computations.WithLabelValues(outcome).Inc()
	}
	if c.ComputeDuration != nil {
		c.ComputeDuration.Observe(d.Seconds())
	}
}

// StageStarted is a no-op; stage timing is recorded when the stage finishes.
func (c *EngineCollector) StageStarted(string) {}

// StageFinished records a stage duration. Together with StageStarted it lets
// the collector observe core.Compute directly.
func (c *EngineCollector) StageFinished(stage string, elapsed time.Duration) {
	if c == nil || c.StageDuration == nil {
		return
	}
	c.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// IncSuperseded counts a pending request replaced before it ran.
func (c *EngineCollector) IncSuperseded() {
	if c == nil || c.Superseded == nil {
		return
	}
	c.Superseded.Inc()
}

// IncDropped counts an outcome dropped before a consumer received it.
func (c *EngineCollector) IncDropped() {
	if c == nil || c.DroppedOutcomes == nil {
		return
	}
	c.DroppedOutcomes.Inc()
}

// ObserveCache records a result cache lookup.
func (c *EngineCollector) ObserveCache(hit bool) {
	if c == nil {
		return
	}
	if hit {
		if c.CacheHits != nil {
			c.CacheHits.Inc()
		}
		return
	}
	if c.CacheMisses != nil {
		c.CacheMisses.Inc()
	}
}

// SetTopology updates the topology gauges from a finished result.
func (c *EngineCollector) SetTopology(r *core.Result) {
	if c == nil || r == nil {
		return
	}
	if c.TopologyNodes != nil {
		c.TopologyNodes.Set(float64(r.Stats.Nodes))
	}
	if c.TopologyEdges != nil {
		c.TopologyEdges.WithLabelValues("all").Set(float64(len(r.Edges)))
		c.TopologyEdges.WithLabelValues("validated").Set(float64(len(r.ValidatedEdges)))
		c.TopologyEdges.WithLabelValues("weak").Set(float64(len(r.WeakEdges)))
		c.TopologyEdges.WithLabelValues("certain").Set(float64(len(r.CertainEdges)))
		c.TopologyEdges.WithLabelValues("uncertain").Set(float64(len(r.UncertainEdges)))
	}
	if c.TopologyHubs != nil {
		c.TopologyHubs.Set(float64(len(r.Hubs)))
	}
	if c.TopologyLoops != nil {
		c.TopologyLoops.Set(float64(len(r.Loops)))
	}
	if c.MobileNodes != nil {
		c.MobileNodes.Set(float64(len(r.MobileNodes)))
	}
}
