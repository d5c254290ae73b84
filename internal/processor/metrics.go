package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeForwarded = "forwarded"
	outcomeDuplicate = "duplicate"
	outcomeBuffered  = "buffered"
	outcomeStale     = "stale"
	outcomeSettled   = "settled"
	outcomeUnrouted  = "unrouted"
	outcomeFailed    = "failed"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_processor_messages_total",
		Help: "Inbound change events by processing outcome",
	}, []string{"outcome"})
	drainedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdc_processor_buffer_drained_total",
		Help: "Buffered change events replayed after their gap closed",
	})
	publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdc_processor_publish_duration_seconds",
		Help:    "Time until the broker confirmed a forwarded message",
		Buckets: prometheus.DefBuckets,
	})
)
