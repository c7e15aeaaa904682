// Package server 提供推荐服务的 HTTP 接口。
//
//	GET  /healthz
//	GET  /metrics
//	GET  /users/{id}/recommendations?limit=10&strategy=hybrid
//	POST /users/{id}/recommendations/refresh
//	POST /users/{id}/ratings            {"item_id":1,"rating":4.5}
//	POST /admin/train
//	POST /admin/reload
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/engine"
	"github.com/rushteam/animerec/feedback"
	"github.com/rushteam/animerec/model"
)

// Publisher 异步投递评分事件；未配置时评分直接写入引擎。
type Publisher interface {
	Publish(ctx context.Context, ev feedback.RatingEvent) error
}

type Server struct {
	engine    *engine.Engine
	publisher Publisher
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
}

type Option func(*Server)

func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithGatherer 设置 /metrics 暴露的指标来源，默认 prometheus.DefaultGatherer。
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:   e,
		gatherer: prometheus.DefaultGatherer,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router 返回挂载了全部路由的 chi.Router。
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/users/{id}", func(r chi.Router) {
		r.Get("/recommendations", s.recommendations)
		r.Post("/recommendations/refresh", s.refresh)
		r.Post("/ratings", s.rate)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Post("/train", s.train)
		r.Post("/reload", s.reload)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type recommendationsResponse struct {
	UserID   int64         `json:"user_id"`
	Strategy string        `json:"strategy"`
	Items    []core.Scored `json:"items"`
}

type ratingRequest struct {
	ItemID int64   `json:"item_id"`
	Rating float64 `json:"rating"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"model_available": s.engine.ModelAvailable(),
	})
}

func (s *Server) recommendations(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, core.NewConfigurationError(core.ModuleEngine, "limit must be an integer"))
			return
		}
		limit = n
	}
	strategy := r.URL.Query().Get("strategy")
	items, err := s.engine.GetRecommendationsForUser(r.Context(), userID, limit, strategy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if strategy == "" {
		strategy = string(core.StrategyHybrid)
	}
	if items == nil {
		items = []core.Scored{}
	}
	writeJSON(w, http.StatusOK, recommendationsResponse{UserID: userID, Strategy: strategy, Items: items})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	if err := s.engine.UpdateRecommendationsCache(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rate(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, core.NewConfigurationError(core.ModuleEngine, "invalid rating body"))
		return
	}
	ev := feedback.NewRatingEvent(userID, req.ItemID, req.Rating)
	if err := ev.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(r.Context(), ev); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"event_id": ev.EventID})
		return
	}
	if err := s.engine.UpsertInteraction(r.Context(), ev.UserID, ev.ItemID, ev.Rating); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"event_id": ev.EventID})
}

func (s *Server) train(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Train(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ReloadModels(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"model_available": s.engine.ModelAvailable()})
}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, core.NewConfigurationError(core.ModuleEngine, "user id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := core.ErrorCodeInternalError
	switch {
	case errors.Is(err, model.ErrTrainingInProgress):
		status, code = http.StatusConflict, model.ErrTrainingInProgress.Code
	case core.IsConfigurationError(err):
		status, code = http.StatusBadRequest, core.ErrorCodeConfiguration
	case core.IsNotFound(err):
		status, code = http.StatusNotFound, core.ErrorCodeNotFound
	case core.IsNotSupported(err):
		status, code = http.StatusNotImplemented, core.ErrorCodeNotSupported
	case core.IsTrainingDataInsufficient(err):
		status, code = http.StatusUnprocessableEntity, core.ErrorCodeTrainingDataInsufficient
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
