// Package metrics provides a simple Prometheus-compatible metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joss/naobridge/internal/logging"
)

// Metrics holds bridge runtime counters.
type Metrics struct {
	// Bridge protocol
	Commands       atomic.Int64
	CommandErrors  atomic.Int64
	ProtocolErrors atomic.Int64

	// Sessions
	Connects      atomic.Int64
	ConnectErrors atomic.Int64
	LiveSessions  atomic.Int64

	// Listening
	Listens          atomic.Int64
	SilenceStops     atomic.Int64
	MaxDurationStops atomic.Int64
	SensorFailures   atomic.Int64

	// Inference
	Transcriptions      atomic.Int64
	TranscriptionErrors atomic.Int64
	Completions         atomic.Int64
	CompletionErrors    atomic.Int64

	// Timing (last operation duration in ms)
	LastListenDurationMs     atomic.Int64
	LastCompletionDurationMs atomic.Int64

	startTime time.Time
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// Global returns the global metrics instance
func Global() *Metrics {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// New returns an empty metrics set.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordCommand records one bridge command and its outcome.
func (m *Metrics) RecordCommand(success bool) {
	m.Commands.Add(1)
	if !success {
		m.CommandErrors.Add(1)
	}
}

// RecordProtocolError records a malformed line or unknown action.
func (m *Metrics) RecordProtocolError() {
	m.ProtocolErrors.Add(1)
}

// RecordConnect records a connect attempt.
func (m *Metrics) RecordConnect(success bool) {
	m.Connects.Add(1)
	if !success {
		m.ConnectErrors.Add(1)
		return
	}
	m.LiveSessions.Add(1)
}

// RecordDisconnect records the end of a live session.
func (m *Metrics) RecordDisconnect() {
	m.LiveSessions.Add(-1)
}

// RecordListen records a closed recording window. reason is "silence" or
// "max_duration".
func (m *Metrics) RecordListen(reason string, sensorFailures int, durationMs int64) {
	m.Listens.Add(1)
	switch reason {
	case "silence":
		m.SilenceStops.Add(1)
	case "max_duration":
		m.MaxDurationStops.Add(1)
	}
	m.SensorFailures.Add(int64(sensorFailures))
	m.LastListenDurationMs.Store(durationMs)
}

// RecordTranscription records a speech-to-text call.
func (m *Metrics) RecordTranscription(success bool) {
	m.Transcriptions.Add(1)
	if !success {
		m.TranscriptionErrors.Add(1)
	}
}

// RecordCompletion records a chat completion call.
func (m *Metrics) RecordCompletion(success bool, durationMs int64) {
	m.Completions.Add(1)
	if !success {
		m.CompletionErrors.Add(1)
	}
	m.LastCompletionDurationMs.Store(durationMs)
}

func writeMetric(w io.Writer, name, help, kind string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %v\n\n", name, value)
}

// Handler returns an HTTP handler for /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		writeMetric(w, "naobridge_uptime_seconds", "Time since the bridge started", "gauge",
			fmt.Sprintf("%.2f", time.Since(m.startTime).Seconds()))

		writeMetric(w, "naobridge_commands_total", "Bridge commands handled", "counter", m.Commands.Load())
		writeMetric(w, "naobridge_command_errors_total", "Bridge commands answered with success=false", "counter", m.CommandErrors.Load())
		writeMetric(w, "naobridge_protocol_errors_total", "Malformed lines and unknown actions", "counter", m.ProtocolErrors.Load())

		writeMetric(w, "naobridge_connects_total", "Robot connect attempts", "counter", m.Connects.Load())
		writeMetric(w, "naobridge_connect_errors_total", "Failed robot connects", "counter", m.ConnectErrors.Load())
		writeMetric(w, "naobridge_live_sessions", "Currently connected sessions", "gauge", m.LiveSessions.Load())

		writeMetric(w, "naobridge_listens_total", "Recording windows closed", "counter", m.Listens.Load())
		writeMetric(w, "naobridge_silence_stops_total", "Recordings ended by silence", "counter", m.SilenceStops.Load())
		writeMetric(w, "naobridge_max_duration_stops_total", "Recordings ended by the duration cap", "counter", m.MaxDurationStops.Load())
		writeMetric(w, "naobridge_sensor_failures_total", "Microphone energy samples that failed", "counter", m.SensorFailures.Load())

		writeMetric(w, "naobridge_transcriptions_total", "Speech-to-text calls", "counter", m.Transcriptions.Load())
		writeMetric(w, "naobridge_transcription_errors_total", "Failed speech-to-text calls", "counter", m.TranscriptionErrors.Load())
		writeMetric(w, "naobridge_completions_total", "Chat completion calls", "counter", m.Completions.Load())
		writeMetric(w, "naobridge_completion_errors_total", "Failed chat completion calls", "counter", m.CompletionErrors.Load())

		writeMetric(w, "naobridge_last_listen_duration_ms", "Last recording window length", "gauge", m.LastListenDurationMs.Load())
		writeMetric(w, "naobridge_last_completion_duration_ms", "Last chat completion latency", "gauge", m.LastCompletionDurationMs.Load())
	}
}

// Server wraps the metrics HTTP server
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server on addr (host:port).
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", Global().Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start starts the metrics server in background
func (s *Server) Start() error {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.New("metrics").Error("listen_failed", map[string]interface{}{"addr": s.srv.Addr}, err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the metrics server
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
