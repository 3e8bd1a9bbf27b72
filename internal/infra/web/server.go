package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"pixwave/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RateLimiter is what the server needs from the redis fixed-window limiter.
// A nil limiter disables enqueue rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Server struct {
	genUC     usecase.GenerationUseCase
	ledger    usecase.CreditLedger
	statsUC   usecase.StatsUseCase
	limiter   RateLimiter
	rateLimit int
	rateWin   time.Duration
	apiKey    string
	log       *zerolog.Logger
}

func NewServer(
	genUC usecase.GenerationUseCase,
	ledger usecase.CreditLedger,
	statsUC usecase.StatsUseCase,
	limiter RateLimiter,
	rateLimit int,
	rateWindow time.Duration,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		genUC:     genUC,
		ledger:    ledger,
		statsUC:   statsUC,
		limiter:   limiter,
		rateLimit: rateLimit,
		rateWin:   rateWindow,
		apiKey:    apiKey,
		log:       logger,
	}
}

// Router builds the public API surface consumed by the gallery frontend.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generations", s.handleEnqueue)
		r.Get("/generations/{id}", s.handleStatus)
		r.Get("/credits/balance", s.handleBalance)
	})
	return r
}

// AdminRouter serves the operator surface: stats behind a bearer key, plus
// the prometheus endpoint.
func (s *Server) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.With(s.authMiddleware).Get("/api/v1/admin/stats", s.handleStats)
	return r
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
