package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatgate_messages_received_total",
		Help: "Total number of messages received",
	}, []string{"chat_type"})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatgate_messages_processed_total",
		Help: "Total number of messages processed",
	}, []string{"status"})

	askDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatgate_ask_duration_seconds",
		Help:    "Duration of LLM ask cycles",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "status"})

	askTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatgate_ask_total",
		Help: "Total number of LLM asks",
	}, []string{"backend", "status"})

	rateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatgate_rate_limit_rejections_total",
		Help: "Total number of rate limited requests",
	})

	queueRefusals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatgate_queue_refusals_total",
		Help: "Total number of requests refused by queue backpressure",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatgate_active_sessions",
		Help: "Number of known sessions",
	})
)

// Metrics provides methods to record metrics.
type Metrics struct{}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) RecordMessageReceived(chatType string) {
	messagesReceived.WithLabelValues(chatType).Inc()
}

func (m *Metrics) RecordMessageProcessed(status string) {
	messagesProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordAsk(backend, status string, duration time.Duration) {
	askDuration.WithLabelValues(backend, status).Observe(duration.Seconds())
	askTotal.WithLabelValues(backend, status).Inc()
}

func (m *Metrics) RecordRateLimitRejection() { rateLimitRejections.Inc() }

func (m *Metrics) RecordQueueRefusal() { queueRefusals.Inc() }

func (m *Metrics) SetActiveSessions(count float64) { activeSessions.Set(count) }

// StartMetricsServer serves /metrics and a health endpoint.
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
