package transport

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	bytesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wamp",
			Subsystem: "transport",
			Name:      "bytes_incoming_total",
			Help:      "Total bytes received from the router.",
		},
		[]string{"transport_type", "serialization"},
	)
	bytesOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wamp",
			Subsystem: "transport",
			Name:      "bytes_outgoing_total",
			Help:      "Total bytes sent to the router.",
		},
		[]string{"transport_type", "serialization"},
	)
	messagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wamp",
			Subsystem: "transport",
			Name:      "messages_dropped_total",
			Help:      "Messages that could not be decoded or encoded.",
		},
		[]string{"transport_type", "direction"},
	)
)

// RegisterMetrics registers the transport collectors with the default
// prometheus registry.  It is safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(bytesIn, bytesOut, messagesDropped)
	})
}

// TransportMetrics counts the traffic of one transport connection.
type TransportMetrics struct {
	in     prometheus.Counter
	out    prometheus.Counter
	badIn  prometheus.Counter
	badOut prometheus.Counter
}

// NewTransportMetrics returns the counters for a transport type and
// serialization.
func NewTransportMetrics(transportType, serialization string) *TransportMetrics {
	return &TransportMetrics{
		in:     bytesIn.WithLabelValues(transportType, serialization),
		out:    bytesOut.WithLabelValues(transportType, serialization),
		badIn:  messagesDropped.WithLabelValues(transportType, "incoming"),
		badOut: messagesDropped.WithLabelValues(transportType, "outgoing"),
	}
}

func (t *TransportMetrics) CountIncoming(n int) { t.in.Add(float64(n)) }
func (t *TransportMetrics) CountOutgoing(n int) { t.out.Add(float64(n)) }
func (t *TransportMetrics) DropIncoming()       { t.badIn.Inc() }
func (t *TransportMetrics) DropOutgoing()       { t.badOut.Inc() }
