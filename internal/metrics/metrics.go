package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsbrief_fetch_requests_total",
			Help: "Article fetches by domain and outcome",
		},
		[]string{"domain", "status", "detection_src"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsbrief_fetch_duration_seconds",
			Help:    "Duration of article fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsbrief_fetch_bytes_total",
			Help: "Bytes downloaded from article hosts",
		},
		[]string{"domain"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsbrief_proxy_failures_total",
			Help: "Fetches that failed while routed through a proxy",
		},
		[]string{"proxy"},
	)

	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsbrief_search_requests_total",
			Help: "Search capability calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	CompletionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsbrief_llm_requests_total",
			Help: "Language model completions by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsbrief_llm_duration_seconds",
			Help:    "Language model completion latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60},
		},
		[]string{"provider"},
	)

	ItemFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsbrief_item_failures_total",
			Help: "Per-article failures by stage and kind",
		},
		[]string{"stage", "kind"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsbrief_stage_duration_seconds",
			Help:    "Wall time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"stage"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsbrief_runs_total",
			Help: "Pipeline runs by terminal state",
		},
		[]string{"state", "degraded"},
	)

	ArticlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsbrief_articles_total",
			Help: "Articles by final outcome",
		},
		[]string{"outcome"},
	)
)

// RecordFetch records one article fetch. status is the HTTP status or 0 when
// the request never produced a response.
func RecordFetch(domain string, status int, detectionSrc string, d time.Duration, bytes int) {
	statusStr := "error"
	if status > 0 {
		statusStr = strconv.Itoa(status)
	}
	FetchRequestsTotal.WithLabelValues(domain, statusStr, detectionSrc).Inc()
	FetchDuration.WithLabelValues(domain).Observe(d.Seconds())
	FetchBytesTotal.WithLabelValues(domain).Add(float64(bytes))
}

// RecordCompletion records one language model call.
func RecordCompletion(provider string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CompletionRequestsTotal.WithLabelValues(provider, outcome).Inc()
	CompletionDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordSearch records one search capability call.
func RecordSearch(provider string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SearchRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

// Server exposes /metrics over HTTP.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on addr (":9090", "127.0.0.1:0") and serves /metrics in the
// background.
func Start(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()

	return &Server{srv: srv, ln: ln}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
