// Package metrics exports payload counters and gauges to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotalks/payload.go/pkg/recovery"
)

const namespace = "payload"

// Metrics holds the collectors, registered on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	PacketsEncoded   prometheus.Counter
	PacketsDropped   prometheus.Counter
	PacketSize       prometheus.Histogram
	ChecksumFailures prometheus.Counter
	ChannelsPresent  prometheus.Gauge
	QueueDepth       prometheus.Gauge

	StoredRecords *prometheus.CounterVec
	StoredBytes   *prometheus.CounterVec
	StoreFailures *prometheus.CounterVec
	DeviceUp      *prometheus.GaugeVec
	Commands      *prometheus.CounterVec

	FlashRemaining prometheus.Gauge
	FlashFiles     prometheus.Gauge

	CycleSeconds *prometheus.HistogramVec

	factory promauto.Factory
}

// LinkCounters is implemented by mqtt.Queue.
type LinkCounters interface {
	Connects() int64
	Drops() int64
}

// New creates Metrics with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		factory:  f,
		PacketsEncoded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "packets_encoded_total",
			Help:      "Packets encoded by the sampling context",
		}),
		PacketsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "packets_dropped_total",
			Help:      "Packets dropped because the cross-core queue was full",
		}),
		PacketSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "packet_size_bytes",
			Help:      "Size of encoded packets",
			Buckets:   []float64{15, 32, 64, 128, 256, 500},
		}),
		ChecksumFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "checksum_failures_total",
			Help:      "Decoded packets whose checksum did not add up",
		}),
		ChannelsPresent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "channels_present",
			Help:      "Channels contributing to the last packet",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "queue_depth",
			Help:      "Records waiting in the cross-core queue",
		}),
		StoredRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "records_total",
			Help:      "Records accepted by each sink",
		}, []string{"sink"}),
		StoredBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bytes_total",
			Help:      "Bytes handed to each sink",
		}, []string{"sink"}),
		StoreFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "failures_total",
			Help:      "Store failures by sink",
		}, []string{"sink"}),
		DeviceUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_verified",
			Help:      "1 if the channel or sink is verified",
		}, []string{"device"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "commands_total",
			Help:      "Administrative commands executed",
		}, []string{"type", "result"}),
		FlashRemaining: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flash",
			Name:      "remaining_bytes",
			Help:      "Free bytes left in the flash log",
		}),
		FlashFiles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flash",
			Name:      "files",
			Help:      "Files in the flash log",
		}),
		CycleSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "Duration of one executor cycle",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"loop"}),
	}
}

// ObserveCycle records one executor cycle, see framework.Loop.OnCycle.
func (m *Metrics) ObserveCycle(loop string, took time.Duration) {
	m.CycleSeconds.WithLabelValues(loop).Observe(took.Seconds())
}

// WatchLink exports the connection counters of the uplink. Call it once.
func (m *Metrics) WatchLink(link LinkCounters) {
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "uplink",
		Name:      "connects_total",
		Help:      "MQTT connections established, reconnects included",
	}, func() float64 { return float64(link.Connects()) })
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "uplink",
		Name:      "drops_total",
		Help:      "MQTT connections lost",
	}, func() float64 { return float64(link.Drops()) })
}

// Stored implements sink.Observer.
func (m *Metrics) Stored(name string, n int) {
	m.StoredRecords.WithLabelValues(name).Inc()
	m.StoredBytes.WithLabelValues(name).Add(float64(n))
}

// Failed implements sink.Observer.
func (m *Metrics) Failed(name string, err error) {
	m.StoreFailures.WithLabelValues(name).Inc()
}

// ObserveDevices updates the verified gauges.
func (m *Metrics) ObserveDevices(states ...recovery.State) {
	for _, s := range states {
		v := 0.0
		if s.Verified {
			v = 1
		}
		m.DeviceUp.WithLabelValues(s.Name).Set(v)
	}
}

// ObserveCommand counts an executed command.
func (m *Metrics) ObserveCommand(cmdType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Commands.WithLabelValues(cmdType, result).Inc()
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
