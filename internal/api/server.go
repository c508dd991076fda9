package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"jordanella.com/cost-ruler/internal/logging"
	"jordanella.com/cost-ruler/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// NewRouter builds the API routes. ws and m may be nil.
func NewRouter(h *Handler, ws http.Handler, m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(RequestLogger(logging.NewLogger("http")))
	if m != nil {
		r.Use(metrics.RequestMiddleware(m))
		r.Handle("/metrics", m.Handler())
	}

	r.Get("/healthz", h.Healthz)
	r.Get("/state", h.GetState)
	r.Get("/status", h.GetStatus)
	if ws != nil {
		r.Handle("/ws", ws)
	}

	r.Route("/profiles", func(r chi.Router) {
		r.Get("/", h.ListProfiles)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.GetProfile)
			r.Patch("/", h.RenameProfile)
			r.Delete("/", h.DeleteProfile)
			r.Put("/active", h.ActivateProfile)
		})
	})

	r.Route("/calibration", func(r chi.Router) {
		r.Get("/", h.GetCalibration)
		r.Post("/", h.StartCalibration)
		r.Delete("/", h.CancelCalibration)
	})

	r.Post("/estimator/reset", h.ResetEstimator)
	r.Post("/estimator/lap", h.ToggleLap)

	return r
}

// Server is the HTTP listener
type Server struct {
	srv    *http.Server
	logger *logging.Logger
}

// NewServer creates a server for handler on addr
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logging.NewLogger("api"),
	}
}

// Serve listens until ctx is cancelled, then drains connections
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()
	s.logger.InfoWithContext("API listening", map[string]interface{}{"addr": ln.Addr().String()})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
