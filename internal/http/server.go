// Package http exposes the operational surface: health and readiness probes
// plus Prometheus metrics. The Server doubles as the orchestrator's metrics
// sink.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"volna/internal/core"
)

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

type Metrics struct {
	CommandsTotal       *prometheus.CounterVec
	EvictionsTotal      *prometheus.CounterVec
	PlaybackErrorsTotal prometheus.Counter
	CaptchaTotal        *prometheus.CounterVec
	CommandDuration     *prometheus.HistogramVec
	ActiveSessions      prometheus.Gauge
}

func newMetrics() *Metrics {
	metrics := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volna_commands_total",
				Help: "Total number of commands executed",
			},
			[]string{"kind", "status"},
		),
		EvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volna_session_evictions_total",
				Help: "Total number of destroyed playback sessions",
			},
			[]string{"reason"},
		),
		PlaybackErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "volna_playback_errors_total",
				Help: "Total number of playback errors reported by the audio node",
			},
		),
		CaptchaTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volna_captcha_challenges_total",
				Help: "Total number of captcha challenge events",
			},
			[]string{"outcome"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "volna_command_duration_seconds",
				Help:    "Time spent executing commands",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "volna_active_sessions",
				Help: "Number of live playback sessions",
			},
		),
	}

	prometheus.MustRegister(
		metrics.CommandsTotal,
		metrics.EvictionsTotal,
		metrics.PlaybackErrorsTotal,
		metrics.CaptchaTotal,
		metrics.CommandDuration,
		metrics.ActiveSessions,
	)

	return metrics
}

// setupRoutes wires the probe and metrics endpoints. ready reports whether
// the audio node connection is up; nil means always ready.
func setupRoutes(logger *zap.Logger, ready func() bool) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok","service":"volna"}`)); err != nil {
			logger.Debug("failed to write healthz response", zap.Error(err))
		}
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte(`{"status":"degraded","service":"volna"}`)); err != nil {
				logger.Debug("failed to write readyz response", zap.Error(err))
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ready","service":"volna"}`)); err != nil {
			logger.Debug("failed to write readyz response", zap.Error(err))
		}
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", homeHandler(logger))

	return mux
}

func homeHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Volna</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .header { color: #333; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
        .endpoint a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <h1 class="header">🎵 Volna</h1>
    <p>Discord music playback orchestrator</p>

    <h2>Endpoints</h2>
    <div class="endpoint">📊 <a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint">💚 <a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint">✅ <a href="/readyz">Ready</a> - Audio node readiness</div>
</body>
</html>`)); err != nil {
			logger.Debug("failed to write home response", zap.Error(err))
		}
	}
}

func createHTTPServer(config *core.ServerConfig, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func NewServer(config *core.ServerConfig, logger *zap.Logger, ready func() bool) *Server {
	return &Server{
		config:  config,
		logger:  logger,
		server:  createHTTPServer(config, setupRoutes(logger, ready)),
		metrics: newMetrics(),
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

func (s *Server) RecordCommand(kind, status string) {
	s.metrics.CommandsTotal.WithLabelValues(kind, status).Inc()
}

func (s *Server) RecordEviction(reason string) {
	s.metrics.EvictionsTotal.WithLabelValues(reason).Inc()
}

func (s *Server) RecordPlaybackError() {
	s.metrics.PlaybackErrorsTotal.Inc()
}

func (s *Server) RecordCaptcha(outcome string) {
	s.metrics.CaptchaTotal.WithLabelValues(outcome).Inc()
}

func (s *Server) RecordCommandDuration(kind string, duration time.Duration) {
	s.metrics.CommandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (s *Server) SetActiveSessions(count int) {
	s.metrics.ActiveSessions.Set(float64(count))
}
