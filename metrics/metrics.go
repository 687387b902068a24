package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CertificateExpiration = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "certwatch",
		Name:      "certificate_expiration_timestamp_seconds",
		Help:      "Leaf certificate not-after, in seconds since the epoch, by watched URL.",
	}, []string{"url"})

	CheckErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "certwatch",
		Name:      "check_errors_total",
		Help:      "Failed certificate checks by error kind.",
	}, []string{"kind"})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "certwatch",
		Name:      "notifications_total",
		Help:      "Threshold notifications by delivery result.",
	}, []string{"result"})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "certwatch",
		Name:      "cycle_duration_seconds",
		Help:      "Time it took to check every watcher and save the state.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	LastSave = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "certwatch",
		Name:      "last_save_timestamp_seconds",
		Help:      "Time of the last successful state save.",
	})
)

func init() {
	prometheus.MustRegister(
		CertificateExpiration,
		CheckErrors,
		Notifications,
		CycleDuration,
		LastSave,
	)
}
