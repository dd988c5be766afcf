package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the executor collectors and the registry they are registered on.
type Metrics struct {
	registry *prometheus.Registry

	nodeVisits   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	suspensions  *prometheus.CounterVec
	resumes      *prometheus.CounterVec
	completions  *prometheus.CounterVec

	mu      sync.Mutex
	entered map[string]time.Time
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_node_visits_total",
				Help: "Total number of node executions",
			},
			[]string{"graph", "node"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tether_node_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"graph", "node"},
		),
		suspensions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_suspensions_total",
				Help: "Total number of runs suspended for human input",
			},
			[]string{"graph", "namespace"},
		),
		resumes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_resumes_total",
				Help: "Total number of suspended runs resumed",
			},
			[]string{"graph"},
		),
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_runs_completed_total",
				Help: "Total number of runs that reached the end of their graph",
			},
			[]string{"graph"},
		),
		entered: make(map[string]time.Time),
	}
	m.registry.MustRegister(m.nodeVisits, m.nodeDuration, m.suspensions, m.resumes, m.completions)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns lifecycle hooks recording into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			m.nodeVisits.WithLabelValues(e.Graph, e.NodeID).Inc()
			m.mu.Lock()
			m.entered[e.Graph+"\x00"+e.Key] = e.Timestamp
			m.mu.Unlock()
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			k := e.Graph + "\x00" + e.Key
			m.mu.Lock()
			start, ok := m.entered[k]
			delete(m.entered, k)
			m.mu.Unlock()
			if ok {
				m.nodeDuration.WithLabelValues(e.Graph, e.NodeID).Observe(e.Timestamp.Sub(start).Seconds())
			}
		},
		OnSuspend: func(ctx context.Context, e *domain.InterruptEvent) {
			m.suspensions.WithLabelValues(e.Graph, e.Token.Namespace).Inc()
		},
		OnResume: func(ctx context.Context, e *domain.InterruptEvent) {
			m.resumes.WithLabelValues(e.Graph).Inc()
		},
		OnComplete: func(ctx context.Context, e *domain.NodeEvent) {
			m.completions.WithLabelValues(e.Graph).Inc()
		},
	}
}
