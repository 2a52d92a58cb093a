package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tts_gateway_active_sessions",
		Help: "Number of synthesis sessions currently streaming",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_sessions_total",
		Help: "Total number of synthesis sessions by final state",
	}, []string{"status"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_gateway_session_duration_seconds",
		Help:    "Duration of synthesis sessions in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	firstAudioLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tts_gateway_first_audio_latency_seconds",
		Help:    "Time from request sent to the first audio payload",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Protocol metrics
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_frames_total",
		Help: "Total number of response frames received by message type",
	}, []string{"type"})

	segmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tts_gateway_segments_total",
		Help: "Total number of audio segments closed",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_retries_total",
		Help: "Total number of synthesis retries issued by callers",
	}, []string{"surface"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tts_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tts_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" (from server) or "out" (to caller)
)

// Session status labels.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Metrics tracks metrics for a single synthesis session
type Metrics struct {
	sessionID  string
	startTime  time.Time
	sentTime   time.Time
	firstAudio bool
	mu         sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session with its final status
func (m *Metrics) RecordSessionEnd(status string) {
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(status).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordRequestSent marks the moment the request frame went out
func (m *Metrics) RecordRequestSent() {
	m.mu.Lock()
	m.sentTime = time.Now()
	m.mu.Unlock()
}

// RecordAudioReceived observes first-audio latency once per session and
// counts inbound audio bytes.
func (m *Metrics) RecordAudioReceived(n int) {
	m.mu.Lock()
	if !m.firstAudio && !m.sentTime.IsZero() {
		m.firstAudio = true
		firstAudioLatency.Observe(time.Since(m.sentTime).Seconds())
	}
	m.mu.Unlock()
	audioBytesProcessed.WithLabelValues("in").Add(float64(n))
}

// RecordFrame counts a response frame by its message type name
func (m *Metrics) RecordFrame(messageType string) {
	framesTotal.WithLabelValues(messageType).Inc()
}

// RecordSegment counts a closed segment and the bytes yielded for it
func (m *Metrics) RecordSegment(outBytes int) {
	segmentsTotal.Inc()
	audioBytesProcessed.WithLabelValues("out").Add(float64(outBytes))
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordRetry counts a retry issued by a caller surface
func RecordRetry(surface string) {
	retriesTotal.WithLabelValues(surface).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
