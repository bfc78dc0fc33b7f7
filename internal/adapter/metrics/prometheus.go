package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rl1809/ticket-rush/internal/core/domain"
)

// WorkerMetrics records order worker outcomes in Prometheus.
type WorkerMetrics struct {
	orders      *prometheus.CounterVec
	lockRetries prometheus.Counter
	deadLetters *prometheus.CounterVec
	processing  *prometheus.HistogramVec
}

func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	m := &WorkerMetrics{
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketrush",
			Name:      "orders_total",
			Help:      "Orders resolved by the worker, by terminal status.",
		}, []string{"status"}),
		lockRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ticketrush",
			Name:      "lock_retries_total",
			Help:      "Deliveries requeued or discarded because the item lock was held.",
		}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticketrush",
			Name:      "dead_letters_total",
			Help:      "Messages sent to the dead letter queue, by reason.",
		}, []string{"reason"}),
		processing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ticketrush",
			Name:      "order_processing_seconds",
			Help:      "Time from lock acquisition attempt to resolved order.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"status"}),
	}

	reg.MustRegister(m.orders, m.lockRetries, m.deadLetters, m.processing)
	return m
}

func (m *WorkerMetrics) OrderResolved(status domain.OrderStatus, elapsed time.Duration) {
	m.orders.WithLabelValues(string(status)).Inc()
	m.processing.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (m *WorkerMetrics) LockContended() {
	m.lockRetries.Inc()
}

func (m *WorkerMetrics) DeadLettered(reason string) {
	m.deadLetters.WithLabelValues(reason).Inc()
}
