// Package health serves the daemon's monitoring endpoints: a JSON /healthz
// snapshot of the orchestrator and the Prometheus /metrics handler.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streetbite/lakepipe/internal/pipeline"
	"github.com/streetbite/lakepipe/internal/watermark"
	"github.com/streetbite/lakepipe/pkg/logger"
)

// Server exposes /healthz and /metrics for the daemon.
type Server struct {
	srv     *http.Server
	pipe    *pipeline.Pipeline
	marks   watermark.Store
	started time.Time
}

func NewServer(addr string, pipe *pipeline.Pipeline, marks watermark.Store) *Server {
	s := &Server{
		pipe:    pipe,
		marks:   marks,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start blocks serving until Shutdown. ErrServerClosed is not an error.
func (s *Server) Start() error {
	logger.Infof("Health server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service":        "lakepipe",
		"status":         "healthy",
		"state":          s.pipe.State().String(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if last := s.pipe.LastResult(); last != nil {
		response["last_run"] = last
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	switch mark, err := s.marks.Read(ctx); {
	case err == nil:
		response["watermark"] = watermark.Format(mark)
	case errors.Is(err, watermark.ErrNotFound):
		response["watermark"] = "none"
	default:
		response["watermark"] = "unknown"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
