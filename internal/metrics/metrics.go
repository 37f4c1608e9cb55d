package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 各服务共享的业务指标。注册在默认 Registry 上，
// bootstrap 统一通过 /metrics 暴露。
var (
	SagaCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monat_saga_terminal_total",
		Help: "Sagas reaching a terminal status, by outcome.",
	}, []string{"outcome"}) // completed | compensated

	SagaStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "monat_saga_step_duration_seconds",
		Help:    "Duration of individual saga steps.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})

	ReservationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monat_reservation_version_conflicts_total",
		Help: "Optimistic lock conflicts observed while updating stock counters.",
	})

	ReservationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monat_reservation_rejections_total",
		Help: "Reservations rejected before any write.",
	}, []string{"reason"}) // insufficient_stock | not_found

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monat_outbox_published_total",
		Help: "Outbox events published to the bus, by result.",
	}, []string{"result"}) // ok | error

	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "monat_outbox_pending",
		Help: "Unprocessed outbox rows seen at the last poll.",
	})
)
