package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/appserver/core/engine"
	"github.com/dmitrymomot/appserver/core/session"
)

// EngineSource exposes engine statistics.
type EngineSource interface {
	Stats() engine.Stats
}

// PersistenceSource exposes persistence manager statistics.
type PersistenceSource interface {
	Stats() session.PersistenceStats
}

// GCSource exposes garbage collector statistics.
type GCSource interface {
	Stats() session.GCStats
}

// FactorySource exposes session factory statistics.
type FactorySource interface {
	Stats() session.FactoryStats
}

// Collector reads component statistics at scrape time and reports them as
// Prometheus metrics. Components that were not configured are skipped.
type Collector struct {
	engine      EngineSource
	sessions    *session.Manager
	persistence PersistenceSource
	gc          GCSource
	factory     FactorySource

	engineRequests  *prometheus.Desc
	engineRejected  *prometheus.Desc
	managerPasses   *prometheus.Desc
	poolHandlers    *prometheus.Desc
	poolTarget      *prometheus.Desc
	poolExhausted   *prometheus.Desc
	poolAcquired    *prometheus.Desc
	poolTimedOut    *prometheus.Desc
	poolChurn       *prometheus.Desc
	sessionsLive    *prometheus.Desc
	sessionsCached  *prometheus.Desc
	persistActions  *prometheus.Desc
	persistPasses   *prometheus.Desc
	gcPasses        *prometheus.Desc
	gcExpired       *prometheus.Desc
	factoryWarm     *prometheus.Desc
	factorySlots    *prometheus.Desc
	componentUp     *prometheus.Desc
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithEngine reports engine and handler pool statistics.
func WithEngine(src EngineSource) CollectorOption {
	return func(c *Collector) { c.engine = src }
}

// WithSessions reports live table and checksum cache sizes.
func WithSessions(m *session.Manager) CollectorOption {
	return func(c *Collector) { c.sessions = m }
}

// WithPersistence reports persistence pass outcomes.
func WithPersistence(src PersistenceSource) CollectorOption {
	return func(c *Collector) { c.persistence = src }
}

// WithGC reports garbage collector sweeps.
func WithGC(src GCSource) CollectorOption {
	return func(c *Collector) { c.gc = src }
}

// WithFactory reports the warm session pool.
func WithFactory(src FactorySource) CollectorOption {
	return func(c *Collector) { c.factory = src }
}

// NewCollector creates a collector under namespace ("appserver" when empty).
func NewCollector(namespace string, opts ...CollectorOption) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}

	c := &Collector{
		engineRequests: desc("engine", "requests_processed_total", "Requests run to completion on a request handler."),
		engineRejected: desc("engine", "requests_rejected_total", "Requests rejected before reaching a handler.", "reason"),
		managerPasses:  desc("worker", "manager_passes_total", "Request handler manager passes."),
		poolHandlers:   desc("worker", "pool_handlers", "Request handlers in the pool by state.", "app", "state"),
		poolTarget:     desc("worker", "pool_target", "Configured pool size bounds.", "app", "bound"),
		poolExhausted:  desc("worker", "pool_exhausted", "1 when the pool has reached its maximum size.", "app"),
		poolAcquired:   desc("worker", "pool_acquired_total", "Handlers handed to requests.", "app"),
		poolTimedOut:   desc("worker", "pool_acquire_timeouts_total", "Acquisitions that timed out.", "app"),
		poolChurn:      desc("worker", "pool_handlers_total", "Handlers added to or removed from the pool.", "app", "event"),
		sessionsLive:   desc("session", "live", "Sessions in the live table."),
		sessionsCached: desc("session", "checksums", "Entries in the checksum cache."),
		persistActions: desc("session", "persistence_actions_total", "Persistence pass outcomes by action.", "action"),
		persistPasses:  desc("session", "persistence_passes_total", "Persistence manager passes."),
		gcPasses:       desc("session", "gc_passes_total", "Garbage collector passes by outcome.", "outcome"),
		gcExpired:      desc("session", "gc_expired_total", "Sessions removed from handlers by the garbage collector."),
		factoryWarm:    desc("session", "factory_warm", "Pre-allocated sessions waiting to be handed out."),
		factorySlots:   desc("session", "factory_slots", "Handed out sessions still registered with the factory."),
		componentUp:    desc("", "component_running", "1 when the background component is running.", "component"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.engineRequests, c.engineRejected, c.managerPasses,
		c.poolHandlers, c.poolTarget, c.poolExhausted, c.poolAcquired, c.poolTimedOut, c.poolChurn,
		c.sessionsLive, c.sessionsCached, c.persistActions, c.persistPasses,
		c.gcPasses, c.gcExpired, c.factoryWarm, c.factorySlots, c.componentUp,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.engine != nil {
		c.collectEngine(ch, c.engine.Stats())
	}
	if c.sessions != nil {
		ch <- gauge(c.sessionsLive, float64(c.sessions.Table().Len()))
		ch <- gauge(c.sessionsCached, float64(c.sessions.Checksums().Len()))
	}
	if c.persistence != nil {
		s := c.persistence.Stats()
		ch <- counter(c.persistPasses, float64(s.Passes))
		ch <- counter(c.persistActions, float64(s.Written), session.ActionWriteBack.String())
		ch <- counter(c.persistActions, float64(s.Detached), session.ActionDetach.String())
		ch <- counter(c.persistActions, float64(s.Destroyed), session.ActionDestroy.String())
		ch <- counter(c.persistActions, float64(s.Failed), "failed")
		ch <- counter(c.persistActions, float64(s.Rehydrated), "rehydrate")
		ch <- up(c.componentUp, s.IsRunning, "persistence")
	}
	if c.gc != nil {
		s := c.gc.Stats()
		ch <- counter(c.gcPasses, float64(s.Hits), "sweep")
		ch <- counter(c.gcPasses, float64(s.Passes-s.Hits), "skip")
		ch <- counter(c.gcPasses, float64(s.Failed), "failed")
		ch <- counter(c.gcExpired, float64(s.Expired))
		ch <- up(c.componentUp, s.IsRunning, "gc")
	}
	if c.factory != nil {
		s := c.factory.Stats()
		ch <- gauge(c.factoryWarm, float64(s.Warm))
		ch <- gauge(c.factorySlots, float64(s.Slots))
		ch <- up(c.componentUp, s.IsRunning, "factory")
	}
}

func (c *Collector) collectEngine(ch chan<- prometheus.Metric, s engine.Stats) {
	ch <- counter(c.engineRequests, float64(s.Processed))
	ch <- counter(c.engineRejected, float64(s.Routing), "no_application")
	ch <- counter(c.engineRejected, float64(s.NotReady), "not_ready")
	ch <- counter(c.engineRejected, float64(s.Exhausted), "handler_exhausted")
	other := s.Failed - s.Routing - s.NotReady - s.Exhausted
	if other < 0 {
		other = 0
	}
	ch <- counter(c.engineRejected, float64(other), "other")

	ch <- counter(c.managerPasses, float64(s.Workers.Passes))
	ch <- up(c.componentUp, s.Workers.IsRunning, "worker_manager")

	for _, p := range s.Workers.Pools {
		ch <- gauge(c.poolHandlers, float64(p.Spare), p.App, "idle")
		ch <- gauge(c.poolHandlers, float64(p.Working), p.App, "working")
		ch <- gauge(c.poolHandlers, float64(p.Flagged), p.App, "flagged")
		ch <- gauge(c.poolTarget, float64(p.Target), p.App, "target")
		ch <- gauge(c.poolTarget, float64(p.SpareMin), p.App, "spare_min")
		ch <- gauge(c.poolTarget, float64(p.MaxSize), p.App, "max")
		ch <- up(c.poolExhausted, p.Exhausted, p.App)
		ch <- counter(c.poolAcquired, float64(p.Acquired), p.App)
		ch <- counter(c.poolTimedOut, float64(p.TimedOut), p.App)
		ch <- counter(c.poolChurn, float64(p.Created), p.App, "created")
		ch <- counter(c.poolChurn, float64(p.Removed), p.App, "removed")
	}
}

func gauge(d *prometheus.Desc, v float64, labels ...string) prometheus.Metric {
	return prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
}

func counter(d *prometheus.Desc, v float64, labels ...string) prometheus.Metric {
	return prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
}

func up(d *prometheus.Desc, ok bool, labels ...string) prometheus.Metric {
	if ok {
		return gauge(d, 1, labels...)
	}
	return gauge(d, 0, labels...)
}
