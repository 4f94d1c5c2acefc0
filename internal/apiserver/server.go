// Package apiserver serves the agent's local HTTP API.
package apiserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/voltlink/internal/analysis"
	"github.com/autopeer-io/voltlink/internal/controller"
	"github.com/autopeer-io/voltlink/internal/core"
	"github.com/autopeer-io/voltlink/internal/pkg/metrics"
	"github.com/autopeer-io/voltlink/internal/telemetry"
	"github.com/autopeer-io/voltlink/pkg/log"
	"github.com/autopeer-io/voltlink/pkg/options"
)

// Controller is the part of the connection controller the API drives.
type Controller interface {
	Status() controller.Status
	Latest() telemetry.Record
	History() []telemetry.Record
	Connect(ctx context.Context, kind core.TransportKind, target string) (string, error)
	Disconnect()
}

// AnalysisSource exposes the most recent analysis result.
type AnalysisSource interface {
	Last() *analysis.Result
}

// Config wires the server to the agent. Analysis and Analyzer are nil when
// remote analysis is disabled.
type Config struct {
	HttpOptions    *options.HttpOptions
	Controller     Controller
	Analysis       AnalysisSource
	Analyzer       core.Analyzer
	ConnectTimeout time.Duration
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	logger  log.Logger
}

func NewServer(cfg *Config) *Server {
	h := &handler{
		controller:     cfg.Controller,
		analysis:       cfg.Analysis,
		analyzer:       cfg.Analyzer,
		connectTimeout: cfg.ConnectTimeout,
		logger:         log.WithName("apiserver"),
	}
	if h.connectTimeout <= 0 {
		h.connectTimeout = time.Minute
	}

	return &Server{
		server: &http.Server{
			Addr:              cfg.HttpOptions.Addr,
			Handler:           newRouter(h),
			ReadHeaderTimeout: cfg.HttpOptions.Timeout,
		},
		options: cfg.HttpOptions,
		logger:  h.logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func newRouter(h *handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests)

	r.HandleFunc("/healthz", h.ok).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.ok).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)
	api.HandleFunc("/connect", h.connect).Methods(http.MethodPost)
	api.HandleFunc("/disconnect", h.disconnect).Methods(http.MethodPost)

	tel := api.PathPrefix("/telemetry").Subrouter()
	tel.HandleFunc("/latest", h.getLatest).Methods(http.MethodGet)
	tel.HandleFunc("/history", h.getHistory).Methods(http.MethodGet)

	api.HandleFunc("/analysis", h.getAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/ask", h.ask).Methods(http.MethodPost)

	return r
}
