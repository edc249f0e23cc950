package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/config"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/metrics"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/service"
)

// Messages returned to the front page.
const (
	msgRefreshed     = "数据更新成功"
	msgLatestFailed  = "获取数据失败"
	msgRefreshFailed = "刷新数据失败: "
)

// Ranking is the service behind the HTTP handlers.
type Ranking interface {
	Latest(ctx context.Context) ([]ranking.Book, error)
	Refresh(ctx context.Context) (service.Outcome, error)
}

// Server wires HTTP handlers to the ranking service.
type Server struct {
	router  chi.Router
	ranking Ranking
	cfg     config.ServerConfig
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(rank Ranking, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ranking: rank,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if cfg.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
	}

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/books", s.getBooks)
		r.Get("/refresh", s.refresh)
	})

	if dir := cfg.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		} else {
			logger.Warn("static directory unavailable, front page disabled", zap.String("dir", dir))
		}
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.ranking.Latest(r.Context())
	if err != nil {
		s.logger.Error("load ranking failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, msgLatestFailed)
		return
	}
	if books == nil {
		books = []ranking.Book{}
	}
	s.writeJSON(w, http.StatusOK, books)
}

type refreshResponse struct {
	Message string         `json:"message"`
	Count   int            `json:"count"`
	Books   []ranking.Book `json:"books"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("refresh requested", zap.String("request_id", requestID(r.Context())))
	out, err := s.ranking.Refresh(r.Context())
	if err != nil {
		s.logger.Error("refresh ranking failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, msgRefreshFailed+err.Error())
		return
	}
	books := out.Books
	if books == nil {
		books = []ranking.Book{}
	}
	s.writeJSON(w, http.StatusOK, refreshResponse{
		Message: msgRefreshed,
		Count:   len(books),
		Books:   books,
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
