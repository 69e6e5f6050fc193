package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "remotestream"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	// RangeRequestsTotal counts upstream range requests by outcome:
	// ok, protocol, transport or canceled.
	RangeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "range_requests_total",
		Help:      "Total upstream range requests by outcome.",
	}, []string{"outcome"})

	RangeOpenDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "range_open_duration_seconds",
		Help:      "Time until upstream response headers arrive.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	})

	StreamBytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_bytes_read_total",
		Help:      "Total bytes delivered to stream consumers.",
	})

	StreamSeeksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_seeks_total",
		Help:      "Total seeks that moved the stream position.",
	})

	StreamReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_reconnects_total",
		Help:      "Total lazy reconnects performed by stream reads.",
	})

	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_streams",
		Help:      "Number of streams that have not been closed.",
	})

	SourceProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_probes_total",
		Help:      "Total source probes by resulting status.",
	}, []string{"status"})

	Sources = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sources",
		Help:      "Number of registered sources by status.",
	}, []string{"status"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RangeRequestsTotal,
		RangeOpenDuration,
		StreamBytesRead,
		StreamSeeksTotal,
		StreamReconnectsTotal,
		ActiveStreams,
		SourceProbesTotal,
		Sources,
	)
}
