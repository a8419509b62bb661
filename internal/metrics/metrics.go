package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mined",
			Subsystem: "command",
			Name:      "processed_total",
			Help:      "Number of commands processed, by command type.",
		}, []string{"type"},
	)
	commandErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mined",
			Subsystem: "command",
			Name:      "errors_total",
			Help:      "Number of commands answered with a domain error, by kind.",
		}, []string{"kind"},
	)
	eventsBroadcast = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mined",
			Subsystem: "hub",
			Name:      "events_broadcast_total",
			Help:      "Number of state-change events handed to the hub for fan-out.",
		},
	)
	subscribersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mined",
			Subsystem: "hub",
			Name:      "subscribers_connected",
			Help:      "Currently registered observer connections.",
		},
	)
	subscribersPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mined",
			Subsystem: "hub",
			Name:      "subscribers_pruned_total",
			Help:      "Subscribers removed after a failed delivery.",
		},
	)
	serverState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mined",
			Subsystem: "server",
			Name:      "state",
			Help:      "Current state of managed servers (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		commandsTotal, commandErrors, eventsBroadcast,
		subscribersConnected, subscribersPruned, serverState,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers against the default prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler serving the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncCommand(cmdType string)   { commandsTotal.WithLabelValues(cmdType).Inc() }
func IncCommandError(kind string) { commandErrors.WithLabelValues(kind).Inc() }
func IncEventBroadcast()          { eventsBroadcast.Inc() }
func IncSubscribers()             { subscribersConnected.Inc() }
func DecSubscribers()             { subscribersConnected.Dec() }
func IncSubscriberPruned()        { subscribersPruned.Inc() }

// SetServerState flips the per-state gauge family for one server so exactly
// the current state reads 1.
func SetServerState(name, state string) {
	for _, s := range []string{"stopped", "starting", "running", "stopping"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		serverState.WithLabelValues(name, s).Set(v)
	}
}
