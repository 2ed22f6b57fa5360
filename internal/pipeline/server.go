package pipeline

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server exposes live run state over HTTP so an operator can watch a long
// batch without tailing logs.
type Server struct {
	logger  *zap.Logger
	tracker *Tracker
}

func NewServer(tracker *Tracker, logger *zap.Logger) *Server {
	return &Server{
		logger:  logger,
		tracker: tracker,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.health)
	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Get("/", s.getRun)
		r.Get("/entities", s.listEntities)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tracker.Stats())
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	entities := s.tracker.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entities": entities,
		"count":    len(entities),
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	s.logger.Info("starting status server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down status server")
		srv.Shutdown(context.Background())
	}()

	return srv.ListenAndServe()
}
