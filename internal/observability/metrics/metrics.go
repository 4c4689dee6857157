package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocityvault_http_requests_total",
			Help: "Total HTTP requests processed by the backend API.",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "velocityvault_http_request_duration_seconds",
			Help:    "Backend API request duration.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"route", "method"},
	)

	// Clearnode session
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocityvault_clearnode_frames_total",
			Help: "Frames exchanged with the clearnode, by direction and method.",
		},
		[]string{"direction", "method"},
	)

	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "velocityvault_clearnode_pending_requests",
			Help: "Requests awaiting a correlated clearnode response.",
		},
	)

	RequestTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocityvault_clearnode_request_timeouts_total",
			Help: "Requests rejected because no response arrived in time.",
		},
		[]string{"method"},
	)

	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocityvault_clearnode_reconnects_total",
			Help: "Monitor reconnect attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// Agent
	IntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velocityvault_trade_intents_total",
			Help: "Trade intents by terminal status.",
		},
		[]string{"status"},
	)

	IntentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "velocityvault_trade_intent_duration_seconds",
			Help:    "Time spent executing one trade intent.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Handler exposes the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer launches a standalone HTTP server exposing the metrics endpoint.
func StartServer(ctx context.Context, addr, path string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
