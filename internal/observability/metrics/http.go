package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rayanical/dining-bot-publish/internal/core/domain"
)

const namespace = "dining"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	chatRequestsTotal       *prometheus.CounterVec
	chatRetrievedCandidates *prometheus.HistogramVec
	chatNoContextTotal      *prometheus.CounterVec
	chatSafetyExclusions    *prometheus.CounterVec
	chatValidationFallbacks *prometheus.CounterVec
	chatRetrievalDuration   *prometheus.HistogramVec
	chatGenerationsTotal    *prometheus.CounterVec
	llmTokensTotal          *prometheus.CounterVec
	catalogGeneration       prometheus.Gauge
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chatRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total chat requests that completed retrieval, by intent.",
		},
		[]string{"service", "endpoint", "intent"},
	)
	chatRetrievedCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "retrieved_candidates",
			Help:      "Distribution of candidates per retrieval path.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service", "path"},
	)
	chatNoContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "no_context_total",
			Help:      "Total non-conversational requests answered without menu items.",
		},
		[]string{"service", "endpoint"},
	)
	chatSafetyExclusions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "safety_exclusions_total",
			Help:      "Allergen items removed by the final post-filter.",
		},
		[]string{"service"},
	)
	chatValidationFallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "validation_fallbacks_total",
			Help:      "Structured plans rejected by validation and replaced by semantic search.",
		},
		[]string{"service"},
	)
	chatRetrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "retrieval_duration_seconds",
			Help:      "Time from request to the first generated token being requested.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	chatGenerationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "generations_total",
			Help:      "Completed answer streams by outcome.",
		},
		[]string{"service", "endpoint", "outcome"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Approximate token usage by direction.",
		},
		[]string{"service", "endpoint", "direction"},
	)
	catalogGeneration := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "generation",
			Help:      "Generation of the catalog snapshot currently served.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		chatRequestsTotal,
		chatRetrievedCandidates,
		chatNoContextTotal,
		chatSafetyExclusions,
		chatValidationFallbacks,
		chatRetrievalDuration,
		chatGenerationsTotal,
		llmTokensTotal,
		catalogGeneration,
	)

	return &HTTPServerMetrics{
		registry:                registry,
		requestTotal:            requestTotal,
		requestDuration:         requestDuration,
		requestInFlight:         requestInFlight,
		chatRequestsTotal:       chatRequestsTotal,
		chatRetrievedCandidates: chatRetrievedCandidates,
		chatNoContextTotal:      chatNoContextTotal,
		chatSafetyExclusions:    chatSafetyExclusions,
		chatValidationFallbacks: chatValidationFallbacks,
		chatRetrievalDuration:   chatRetrievalDuration,
		chatGenerationsTotal:    chatGenerationsTotal,
		llmTokensTotal:          llmTokensTotal,
		catalogGeneration:       catalogGeneration,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch path {
	case "/v1/chat", "/v1/catalog", "/v1/catalog/refresh", "/v1/menu/items", "/healthz", "/metrics":
		return path
	default:
		return "other"
	}
}

// RecordRetrieval observes one request's retrieval decisions.
func (m *HTTPServerMetrics) RecordRetrieval(service, endpoint string, result *domain.RetrievalResult, duration time.Duration) {
	if result == nil {
		return
	}
	intent := string(result.Intent.Kind)
	if intent == "" {
		intent = "unknown"
	}
	m.chatRequestsTotal.WithLabelValues(service, endpoint, intent).Inc()
	m.chatRetrievedCandidates.WithLabelValues(service, string(domain.ProvenanceStructured)).Observe(float64(result.StructuredCount))
	m.chatRetrievedCandidates.WithLabelValues(service, string(domain.ProvenanceSemantic)).Observe(float64(result.SemanticCount))
	m.chatRetrievalDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
	m.catalogGeneration.Set(float64(result.Generation))

	if len(result.Candidates) == 0 && result.Intent.Kind != domain.IntentConversational {
		m.chatNoContextTotal.WithLabelValues(service, endpoint).Inc()
	}
	if result.SafetyExclusions > 0 {
		m.chatSafetyExclusions.WithLabelValues(service).Add(float64(result.SafetyExclusions))
	}
	if result.ValidationFallback {
		m.chatValidationFallbacks.WithLabelValues(service).Inc()
	}
	if tokens := result.Prompt.EstimatedTokens; tokens > 0 {
		m.llmTokensTotal.WithLabelValues(service, endpoint, "in").Add(float64(tokens))
	}
}

// RecordGeneration counts a finished answer stream. outcome is done, error
// or cancelled; completionChars is converted to approximate tokens.
func (m *HTTPServerMetrics) RecordGeneration(service, endpoint, outcome string, completionChars int) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.chatGenerationsTotal.WithLabelValues(service, endpoint, outcome).Inc()
	if completionChars > 0 {
		m.llmTokensTotal.WithLabelValues(service, endpoint, "out").Add(float64((completionChars + 3) / 4))
	}
}

func (m *HTTPServerMetrics) SetCatalogGeneration(generation uint64) {
	m.catalogGeneration.Set(float64(generation))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
