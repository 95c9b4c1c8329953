package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	ledgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "ledger_operations_total",
		Help:      "Stock ledger mutations by operation and result.",
	}, []string{"op", "result"})

	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "events_consumed_total",
		Help:      "Consumed events by topic, type and outcome.",
	}, []string{"topic", "type", "outcome"})

	outboxDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Name:      "outbox_dispatched_total",
		Help:      "Outbox rows relayed to the broker by result.",
	}, []string{"result"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func LedgerOp(op, result string) {
	ledgerOps.WithLabelValues(op, result).Inc()
}

func EventConsumed(topic, typ, outcome string) {
	eventsConsumed.WithLabelValues(topic, typ, outcome).Inc()
}

func OutboxDispatched(result string, n int) {
	outboxDispatched.WithLabelValues(result).Add(float64(n))
}

// Middleware records request latency labelled with the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
