// Package metrics holds the Prometheus collectors exported by a DHT client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for notifications.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeFound   = "found"
	OutcomeSkipped = "skipped"
)

// Collectors is one client's set of metrics. A nil *Collectors is valid and records nothing.
type Collectors struct {
	tasksStarted      *prometheus.CounterVec
	tasksRunning      prometheus.Gauge
	messagesProcessed *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	clientState       prometheus.Gauge
}

// New registers the client collectors with reg. A nil reg returns nil.
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &Collectors{
		tasksStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhtc",
			Name:      "tasks_started_total",
			Help:      "Tasks spawned by the client, by task kind",
		}, []string{"kind"}),
		tasksRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "dhtc",
			Name:      "tasks_running",
			Help:      "Tasks spawned and not yet joined",
		}),
		messagesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhtc",
			Name:      "messages_processed_total",
			Help:      "Task messages dispatched on the controlling goroutine, by message kind",
		}, []string{"kind"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhtc",
			Name:      "notifications_total",
			Help:      "Handler notifications, by outcome",
		}, []string{"outcome"}),
		clientState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "dhtc",
			Name:      "client_state",
			Help:      "Current lifecycle state (1 disconnected, 2 connecting, 3 connected, 4 disconnecting)",
		}),
	}
}

func (c *Collectors) TaskStarted(kind string) {
	if c == nil {
		return
	}
	c.tasksStarted.WithLabelValues(kind).Inc()
	c.tasksRunning.Inc()
}

func (c *Collectors) TaskJoined() {
	if c == nil {
		return
	}
	c.tasksRunning.Dec()
}

func (c *Collectors) MessageProcessed(kind string) {
	if c == nil {
		return
	}
	c.messagesProcessed.WithLabelValues(kind).Inc()
}

func (c *Collectors) Notified(outcome string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(outcome).Inc()
}

func (c *Collectors) SetState(state int) {
	if c == nil {
		return
	}
	c.clientState.Set(float64(state))
}
