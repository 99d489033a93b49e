package wsrpc

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for every inbound event.
const (
	OutcomeOK            = "ok"
	OutcomeArityError    = "arity_error"
	OutcomeTypeError     = "type_error"
	OutcomeNoCallback    = "no_callback"
	OutcomeHandlerFault  = "handler_fault"
	connectionsAccepted  = "accepted"
	connectionsRejected  = "rejected"
	metricsNamespace     = "wsrpc"
	metricsSubsystemDisp = "dispatcher"
)

// Metrics tracks dispatcher and reconnection statistics. A nil *Metrics records nothing.
type Metrics struct {
	mu sync.Mutex

	eventsTotal       *prometheus.CounterVec
	handlerDuration   *prometheus.HistogramVec
	connectionsTotal  *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	reconnectsTotal   prometheus.Counter
	missingHandlers   *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// NewMetrics creates the collectors. They are registered on registerer (the
// default registerer when nil) by Register.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer: registerer,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystemDisp,
			Name:      "events_total",
			Help:      "Inbound events processed, by category, message name and outcome",
		}, []string{"category", "name", "outcome"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystemDisp,
			Name:      "handler_duration_seconds",
			Help:      "Time spent in handler operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"category", "name"}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystemDisp,
			Name:      "connections_total",
			Help:      "Connections seen by the dispatcher, by accept result",
		}, []string{"result"}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystemDisp,
			Name:      "connections_active",
			Help:      "Connections currently bound to a handler",
		}),
		missingHandlers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystemDisp,
			Name:      "missing_handlers_total",
			Help:      "Schema entries without a handler operation at bind time",
		}, []string{"name"}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnections scheduled after a server initiated disconnect",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.eventsTotal,
		m.handlerDuration,
		m.connectionsTotal,
		m.connectionsActive,
		m.missingHandlers,
		m.reconnectsTotal,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) event(category Category, name, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(category.String(), name, outcome).Inc()
}

func (m *Metrics) handled(category Category, name string, since time.Time) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(category.String(), name).Observe(time.Since(since).Seconds())
}

func (m *Metrics) accepted() {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(connectionsAccepted).Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(connectionsRejected).Inc()
}

func (m *Metrics) closed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

func (m *Metrics) missing(name string) {
	if m == nil {
		return
	}
	m.missingHandlers.WithLabelValues(name).Inc()
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}
