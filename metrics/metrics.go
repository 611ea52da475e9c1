// Package metrics defines the Prometheus collectors for clients and servers.
//
// Collectors are registered on the Registerer passed in. Several clients in
// one process share collectors: registering the same metric twice reuses the
// first instance instead of panicking.
package metrics

import (
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ws_rpc"

// Call results used as the "result" label.
const (
	ResultOK          = "ok"
	ResultRemoteError = "remote_error"
	ResultSendError   = "send_error"
	ResultClosed      = "closed"
	ResultCanceled    = "canceled"
	ResultDecodeError = "decode_error"
)

// Client collectors. The pending gauge tracks the correlation table size, so
// a leak of outstanding entries is visible on a dashboard.
type Client struct {
	Pending      prometheus.Gauge
	Calls        *prometheus.CounterVec
	Unmatched    prometheus.Counter
	DecodeErrors prometheus.Counter
}

func NewClient(reg prometheus.Registerer) *Client {
	return &Client{
		Pending: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "pending_calls",
			Help:      "Calls registered and awaiting a response.",
		})),
		Calls: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Completed calls by operation and result.",
		}, []string{"op", "result"})),
		Unmatched: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "unmatched_responses_total",
			Help:      "Responses whose request_id had no pending call.",
		})),
		DecodeErrors: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		})),
	}
}

// Server collectors.
type Server struct {
	Requests    *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Connections prometheus.Gauge
}

func NewServer(reg prometheus.Registerer) *Server {
	return &Server{
		Requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Handled requests by operation and result.",
		}, []string{"op", "result"})),
		Duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Handler latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"})),
		Connections: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "open_connections",
			Help:      "Client connections currently served.",
		})),
	}
}

func (s *Server) ObserveRequest(op, result string, d time.Duration) {
	s.Requests.WithLabelValues(op, result).Inc()
	s.Duration.WithLabelValues(op).Observe(d.Seconds())
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
