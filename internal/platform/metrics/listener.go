package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relic"

// Listener groups the collectors shared by every listener instance in the
// process. Instances started twice register against the same collectors.
type Listener struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	Requests            *prometheus.CounterVec
	BindFailures        prometheus.Counter
	RuntimeFailures     prometheus.Counter
}

// NewListener registers collectors on reg, reusing ones already present. A
// nil reg yields unregistered collectors, which tests use in isolation.
func NewListener(reg prometheus.Registerer) *Listener {
	m := &Listener{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the listener.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently open.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests answered, by status code.",
		}, []string{"code"}),
		BindFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bind_failures_total",
			Help:      "Listener starts that could not bind their address.",
		}),
		RuntimeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runtime_failures_total",
			Help:      "Execution contexts that failed to start or ended with a panic.",
		}),
	}
	if reg == nil {
		return m
	}
	m.ConnectionsAccepted = register(reg, m.ConnectionsAccepted)
	m.ConnectionsActive = register(reg, m.ConnectionsActive)
	m.Requests = register(reg, m.Requests)
	m.BindFailures = register(reg, m.BindFailures)
	m.RuntimeFailures = register(reg, m.RuntimeFailures)
	return m
}

// ObserveRequest counts one answered request.
func (m *Listener) ObserveRequest(status int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		// Conflicting descriptor from a foreign collector; keep ours unregistered.
		return c
	}
	return c
}
