package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// HTTP metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comptrack_http_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"route", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comptrack_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Ledger metrics
	CompsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comptrack_comps_recorded_total",
			Help: "Total COMP transactions recorded",
		},
		[]string{"turn"},
	)

	CompAmountCents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comptrack_comp_amount_cents_total",
			Help: "Total COMP amount recorded, in cents",
		},
		[]string{"turn"},
	)

	CompsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comptrack_comps_deleted_total",
			Help: "Total COMP transactions deleted",
		},
	)

	LedgerDaysPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comptrack_ledger_days_purged_total",
			Help: "Operational days removed by the retention sweep",
		},
	)

	// Session metrics
	SessionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "comptrack_sessions_open",
			Help: "Number of monitored manager sessions",
		},
	)

	SessionWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comptrack_session_warnings_total",
			Help: "Inactivity warnings shown",
		},
	)

	SessionExtensions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comptrack_session_extensions_total",
			Help: "Sessions extended from the warning state",
		},
	)

	SessionExpirations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comptrack_session_expirations_total",
			Help: "Sessions signed out for inactivity",
		},
	)

	SignOutFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comptrack_signout_failures_total",
			Help: "Forced sign-outs that returned an error",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		CompsRecorded,
		CompAmountCents,
		CompsDeleted,
		LedgerDaysPurged,
		SessionsOpen,
		SessionWarnings,
		SessionExtensions,
		SessionExpirations,
		SignOutFailures,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler serves /metrics and a liveness /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln := s.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.server.Addr); err != nil {
			return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
		}
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting metrics server")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop shuts the metrics server down, waiting briefly for scrapes in flight.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
