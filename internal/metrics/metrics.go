// Package metrics holds the prometheus collectors of the forum server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forum",
		Name:      "mutations_total",
		Help:      "Content mutations by operation and result.",
	}, []string{"operation", "result"})

	flushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forum",
		Name:      "flush_duration_seconds",
		Help:      "Time spent writing the forest snapshot to the backend.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"result"})

	observersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "forum",
		Name:      "observers_connected",
		Help:      "Observers currently subscribed to change records.",
	})

	notificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "forum",
		Name:      "notifications_dropped_total",
		Help:      "Observers dropped because their buffer was full.",
	})
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveMutation counts one engine operation.
func ObserveMutation(operation string, err error) {
	mutationsTotal.WithLabelValues(operation, result(err)).Inc()
}

// ObserveFlush records one backend write.
func ObserveFlush(d time.Duration, err error) {
	flushDuration.WithLabelValues(result(err)).Observe(d.Seconds())
}

func SetObservers(n int) {
	observersConnected.Set(float64(n))
}

func IncDropped() {
	notificationsDropped.Inc()
}
