package smarthttp

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "gitcellar"
	metricsSubsystem = "smarthttp"
)

// metrics holds the Prometheus collectors for pack bytes transferred,
// object counts, and ref-update outcomes, mirroring the teacher's
// httpMetrics registration style.
type metrics struct {
	packBytesIn    prometheus.Counter
	packBytesOut   prometheus.Counter
	objectsIn      prometheus.Counter
	objectsOut     prometheus.Counter
	refUpdateTotal *prometheus.CounterVec
	authFailures   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		packBytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pack_bytes_in_total",
			Help:      "Total bytes of packfile data received via git-receive-pack.",
		}),
		packBytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pack_bytes_out_total",
			Help:      "Total bytes of packfile data sent via git-upload-pack.",
		}),
		objectsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "objects_in_total",
			Help:      "Total objects unpacked and stored via git-receive-pack.",
		}),
		objectsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "objects_out_total",
			Help:      "Total objects packed and sent via git-upload-pack.",
		}),
		refUpdateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "ref_updates_total",
			Help:      "Ref update commands applied via git-receive-pack, by outcome.",
		}, []string{"outcome"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "auth_failures_total",
			Help:      "Requests rejected by the authorize hook.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.packBytesIn, m.packBytesOut, m.objectsIn, m.objectsOut, m.refUpdateTotal, m.authFailures)
	}
	return m
}
