package metrics

import (
	"sync"
	"time"

	"github.com/garrettladley/hookd/internal/service/ingest"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hookd"

var (
	initOnce sync.Once

	deliveriesTotalCounter   *prometheus.CounterVec
	deliveryDurationMetric   *prometheus.HistogramVec
	deliveryAttemptsMetric   prometheus.Histogram
	retriesTotalCounter      prometheus.Counter
	expiredRemovedCounter    prometheus.Counter
	rateLimitedTotalCounter  prometheus.Counter
	callbackPublishedCounter *prometheus.CounterVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		deliveriesTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deliveries_total",
				Help:      "Total number of webhook deliveries by terminal outcome.",
			},
			[]string{"outcome"},
		)

		deliveryDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_delivery_duration_seconds",
				Help:      "Time from receipt to terminal outcome, including backoff.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)

		deliveryAttemptsMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_delivery_attempts",
				Help:      "Number of gate attempts per delivery.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8},
			},
		)

		retriesTotalCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_retries_total",
				Help:      "Total number of retries after transient failures.",
			},
		)

		expiredRemovedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "processed_events_expired_total",
				Help:      "Total number of expired processed-event records removed by cleanup.",
			},
		)

		rateLimitedTotalCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_rate_limited_total",
				Help:      "Total number of deliveries rejected by the rate limiter.",
			},
		)

		callbackPublishedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of processed events handed to the sink by result.",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			deliveriesTotalCounter,
			deliveryDurationMetric,
			deliveryAttemptsMetric,
			retriesTotalCounter,
			expiredRemovedCounter,
			rateLimitedTotalCounter,
			callbackPublishedCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, outcome := range ingest.Outcomes() {
			deliveriesTotalCounter.WithLabelValues(outcome.String())
		}
		for _, result := range []string{"ok", "error"} {
			callbackPublishedCounter.WithLabelValues(result)
		}
	})
}

func IncDelivery(outcome ingest.Outcome) {
	Init()
	deliveriesTotalCounter.WithLabelValues(outcome.String()).Inc()
}

func ObserveDeliveryDuration(outcome ingest.Outcome, d time.Duration) {
	Init()
	deliveryDurationMetric.WithLabelValues(outcome.String()).Observe(d.Seconds())
}

func ObserveDeliveryAttempts(attempts int) {
	Init()
	deliveryAttemptsMetric.Observe(float64(attempts))
}

func IncRetries() {
	Init()
	retriesTotalCounter.Inc()
}

func AddExpiredRemoved(n int64) {
	Init()
	if n > 0 {
		expiredRemovedCounter.Add(float64(n))
	}
}

func IncRateLimited() {
	Init()
	rateLimitedTotalCounter.Inc()
}

func IncPublished(err error) {
	Init()
	if err != nil {
		callbackPublishedCounter.WithLabelValues("error").Inc()
		return
	}
	callbackPublishedCounter.WithLabelValues("ok").Inc()
}

// Recorder feeds controller outcomes into the package metrics.
type Recorder struct{}

var _ ingest.Recorder = Recorder{}

func (Recorder) RecordOutcome(outcome ingest.Outcome, attempts int, elapsed time.Duration) {
	IncDelivery(outcome)
	ObserveDeliveryDuration(outcome, elapsed)
	ObserveDeliveryAttempts(attempts)
}

func (Recorder) RecordRetry(int, time.Duration) {
	IncRetries()
}
