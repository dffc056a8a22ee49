// Package metrics exposes the relay counters in Prometheus format.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/lanbridge/internal/util"
)

const namespace = "lanbridge"

func counter(name, help string, v *atomic.Int64) prometheus.Collector {
	return prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	)
}

// NewRegistry builds a registry with the process-wide relay counters, a
// connected gauge read from connected, and the Go runtime collectors.
func NewRegistry(connected func() bool) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		counter("sessions_total", "Bridge sessions started", &util.Stats.Sessions),
		counter("frames_out_total", "Frames relayed from the interface to the peer", &util.Stats.FramesOut),
		counter("frames_in_total", "Frames relayed from the peer to the interface", &util.Stats.FramesIn),
		counter("sent_bytes_total", "Datagram bytes written to the socket", &util.Stats.BytesSent),
		counter("received_bytes_total", "Datagram bytes read from the socket", &util.Stats.BytesRecv),
		counter("dropped_frames_total", "Frames dropped while not connected", &util.Stats.Dropped),
		counter("unauthorized_datagrams_total", "Datagrams from addresses other than the peer", &util.Stats.Unauthorized),
		counter("malformed_datagrams_total", "Datagrams that failed to decode", &util.Stats.Malformed),

		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: "connected", Help: "1 while the handshake with the peer is complete"},
			func() float64 {
				if connected != nil && connected() {
					return 1
				}
				return 0
			},
		),
	)

	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
