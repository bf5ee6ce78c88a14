package telemetry

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusFunc returns the JSON-encodable view served on /status.
type StatusFunc func() interface{}

// Server exposes /metrics and /status over HTTP.
type Server struct {
	logger zerolog.Logger
	server *http.Server
	ln     net.Listener
}

// Handler builds the HTTP routes without listening.
func Handler(gatherer prometheus.Gatherer, status StatusFunc, logger zerolog.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if status == nil {
			http.Error(w, "status unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			logger.Error().Err(err).Msg("encode status")
		}
	})
	return mux
}

// NewServer starts serving Handler on listen.
func NewServer(listen string, gatherer prometheus.Gatherer, status StatusFunc, logger zerolog.Logger) (*Server, error) {
	if listen == "" {
		listen = ":9108"
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: Handler(gatherer, status, logger), ReadHeaderTimeout: 5 * time.Second}
	s := &Server{logger: logger, server: srv, ln: ln}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("telemetry server stopped")
		}
	}()

	logger.Info().Str("listen", ln.Addr().String()).Msg("telemetry server started")
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close shuts the server down.
func (s *Server) Close() error {
	if s == nil || s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
