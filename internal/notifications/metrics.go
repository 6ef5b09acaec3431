package notifications

import (
	"time"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notifyrelay"

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatch_total",
			Help:      "Dispatches by request kind, outcome and failing stage",
		},
		[]string{"kind", "outcome", "stage"},
	)

	deliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "delivery_attempts_total",
			Help:      "Transport attempts by channel and result",
		},
		[]string{"channel_type", "result"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time of a single transport call",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel_type"},
	)
)

func recordDispatch(kind RequestKind, outcome, stage string) {
	dispatchTotal.WithLabelValues(string(kind), outcome, stage).Inc()
}

func recordDeliveryAttempt(channel domain.ChannelType, result string) {
	deliveryAttempts.WithLabelValues(string(channel), result).Inc()
}

func recordSendDuration(channel domain.ChannelType, d time.Duration) {
	sendDuration.WithLabelValues(string(channel)).Observe(d.Seconds())
}
