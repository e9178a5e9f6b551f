// Package server exposes the question answering pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/matthewbaird/askdb/internal/history"
	"github.com/matthewbaird/askdb/internal/logging"
	"github.com/matthewbaird/askdb/internal/pipeline"
	"github.com/matthewbaird/askdb/internal/prior"
	"github.com/matthewbaird/askdb/internal/server/wire"
)

// maxBodyBytes bounds a request body.
const maxBodyBytes = 64 << 10

const msgNoMessage = "Please send a message."

// Answerer answers one question with a user-safe reply.
type Answerer interface {
	HandleQuestion(ctx context.Context, text string) pipeline.Reply
}

// PriorSource builds the grounding payload for a question.
type PriorSource interface {
	Assemble(ctx context.Context, question string) (prior.PriorData, error)
}

// Config holds server configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the chat, inspection and streaming endpoints.
type Server struct {
	cfg      Config
	answerer Answerer
	prior    PriorSource
	history  history.Store
	logger   *zap.Logger
	router   chi.Router
}

// New creates a server and registers its routes.
func New(cfg Config, answerer Answerer, ps PriorSource, hs history.Store, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	s := &Server{
		cfg:      cfg,
		answerer: answerer,
		prior:    ps,
		history:  hs,
		logger:   logger.Named("http"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recovery)
	r.Use(s.logging)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/chat", s.handleChat)

	r.Route("/api", func(r chi.Router) {
		r.Get("/schema", s.handleSchema)
		r.Get("/history", s.handleHistory)
		r.Get("/history/{id}", s.handleHistoryRecord)
		r.Method(http.MethodGet, "/ws", wire.NewHandler(s.answerer, s.logger))
	})

	s.router = r
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

type chatRequest struct {
	Message *string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Message == nil {
		s.writeJSON(w, http.StatusOK, pipeline.Reply{Reply: msgNoMessage})
		return
	}
	s.writeJSON(w, http.StatusOK, s.answerer.HandleQuestion(r.Context(), *req.Message))
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	question := strings.TrimSpace(r.URL.Query().Get("q"))
	pd, err := s.prior.Assemble(r.Context(), question)
	if err != nil {
		s.logger.Warn("schema request failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", pipeline.UserMessage(err))
		return
	}
	s.writeJSON(w, http.StatusOK, pd)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	opts := history.DefaultQueryOptions()
	opts.Limit = queryInt(r, "limit", opts.Limit)
	opts.Outcome = r.URL.Query().Get("outcome")
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "INVALID_SINCE", "since must be an RFC 3339 timestamp")
			return
		}
		opts.Since = &t
	}

	recs, err := s.history.Recent(r.Context(), opts)
	if err != nil {
		s.logger.Error("history query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (s *Server) handleHistoryRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.history.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "no such request")
		return
	}
	if err != nil {
		s.logger.Error("history lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}
