// Package metrics exposes session and command activity as Prometheus
// collectors under the projectorctl_ namespace.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/session"
)

const namespace = "projectorctl"

// Collector is a session.Observer that maintains the Prometheus series.
//
// Thread Safety:
//   - Safe for concurrent use by many sessions.
type Collector struct {
	sessions      *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
	commands      *prometheus.CounterVec
	latency       prometheus.Histogram
	anomalies     *prometheus.CounterVec
	deviceEvents  *prometheus.CounterVec
	mu            sync.Mutex
	sessionStates map[string]session.State
}

var _ session.Observer = (*Collector)(nil)

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in the daemon and a fresh registry in tests.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Sessions by connection state",
		}, []string{"state"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions by target state",
		}, []string{"state"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Resolved commands by status",
		}, []string{"status"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from write to response for commands that reached the wire",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_anomalies_total",
			Help:      "Frames that matched no outstanding command or failed to decode",
		}, []string{"device_id"}),
		deviceEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_events_total",
			Help:      "Registry arrivals and removals",
		}, []string{"kind"}),
		sessionStates: make(map[string]session.State),
	}
}

// StateChanged implements session.Observer.
func (c *Collector) StateChanged(deviceID string, state session.State, _ error) {
	c.transitions.WithLabelValues(state.String()).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.sessionStates[deviceID]; ok {
		c.sessions.WithLabelValues(prev.String()).Dec()
	}
	if state == session.StateDisconnected {
		delete(c.sessionStates, deviceID)
		return
	}
	c.sessionStates[deviceID] = state
	c.sessions.WithLabelValues(state.String()).Inc()
}

// CommandResolved implements session.Observer.
func (c *Collector) CommandResolved(_ string, _ session.Command, resp session.Response, _ error) {
	c.commands.WithLabelValues(string(resp.Status)).Inc()
	if resp.CorrelationID != 0 && resp.Latency > 0 {
		c.latency.Observe(resp.Latency.Seconds())
	}
}

// Anomaly implements session.Observer.
func (c *Collector) Anomaly(deviceID string, _ []byte, _ error) {
	c.anomalies.WithLabelValues(deviceID).Inc()
}

// DeviceEvent counts a registry event.
func (c *Collector) DeviceEvent(ev device.Event) {
	c.deviceEvents.WithLabelValues(ev.Kind.String()).Inc()
}
