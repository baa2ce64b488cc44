// Package metrics holds the prometheus collectors for sub-process management.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// SubProcess counts sub-process spawns, channel attachments and exits.
type SubProcess struct {
	Spawned  *prometheus.CounterVec
	Attached *prometheus.CounterVec
	Exited   *prometheus.CounterVec
}

// NewSubProcess creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewSubProcess(reg prometheus.Registerer) *SubProcess {
	m := &SubProcess{
		Spawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pluginhost",
			Subsystem: "subprocess",
			Name:      "spawned_total",
			Help:      "Number of sub-processes started, by module.",
		}, []string{"module"}),
		Attached: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pluginhost",
			Subsystem: "subprocess",
			Name:      "attached_total",
			Help:      "Number of sub-processes that completed the channel handshake, by module.",
		}, []string{"module"}),
		Exited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pluginhost",
			Subsystem: "subprocess",
			Name:      "exited_total",
			Help:      "Number of sub-process exits, by module and exit code.",
		}, []string{"module", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.Spawned, m.Attached, m.Exited)
	}
	return m
}

// ObserveExit records a sub-process exit.
func (m *SubProcess) ObserveExit(module string, code int) {
	m.Exited.WithLabelValues(module, strconv.Itoa(code)).Inc()
}
