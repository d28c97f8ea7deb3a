package realm

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricWrites           = "writes_total"
	MetricWriteDuration    = "write_duration_seconds"
	MetricPublications     = "publications_total"
	MetricPublishedVersion = "published_version"
	MetricOpenSnapshots    = "open_snapshots"
	MetricNotifications    = "notifications_total"
)

// Write outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomeFailed     = "failed"
)

// Publication results.
const (
	PublicationAdopted   = "adopted"
	PublicationDiscarded = "discarded"
)

// Metrics holds the collectors a Realm updates.
type Metrics struct {
	Writes           *prometheus.CounterVec
	WriteDuration    prometheus.Histogram
	Publications     *prometheus.CounterVec
	PublishedVersion prometheus.Gauge
	OpenSnapshots    prometheus.Gauge
	Notifications    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "realm",
				Name:      MetricWrites,
				Help:      "Write transactions by outcome.",
			},
			[]string{"outcome"},
		),
		WriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "realm",
				Name:      MetricWriteDuration,
				Help:      "Time from dispatch to the end of a write on the writer goroutine.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
		),
		Publications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "realm",
				Name:      MetricPublications,
				Help:      "Snapshot publication attempts by result.",
			},
			[]string{"result"},
		),
		PublishedVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "realm",
				Name:      MetricPublishedVersion,
				Help:      "Version of the published snapshot.",
			},
		),
		OpenSnapshots: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "realm",
				Name:      MetricOpenSnapshots,
				Help:      "Frozen snapshots not yet closed.",
			},
		),
		Notifications: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "realm",
				Name:      MetricNotifications,
				Help:      "Object change notifications delivered.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Writes, m.WriteDuration, m.Publications,
			m.PublishedVersion, m.OpenSnapshots, m.Notifications)
	}
	return m
}
