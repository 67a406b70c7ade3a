package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	red "speaking-exam-subscription/internal/infra/redis"
	"speaking-exam-subscription/internal/usecase"
)

// Server wires the public payment and entitlement API plus the provider
// webhook endpoints onto one router.
type Server struct {
	payments    usecase.PaymentUseCase
	quota       usecase.QuotaUseCase
	entitlement usecase.EntitlementUseCase
	clickHook   usecase.ClickWebhookUseCase
	playHook    usecase.GooglePlayWebhookUseCase
	auth        *AuthManager
	limiter     *red.RateLimiter
	log         *zerolog.Logger
}

func NewServer(
	payments usecase.PaymentUseCase,
	quota usecase.QuotaUseCase,
	entitlement usecase.EntitlementUseCase,
	clickHook usecase.ClickWebhookUseCase,
	playHook usecase.GooglePlayWebhookUseCase,
	auth *AuthManager,
	limiter *red.RateLimiter,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		payments:    payments,
		quota:       quota,
		entitlement: entitlement,
		clickHook:   clickHook,
		playHook:    playHook,
		auth:        auth,
		limiter:     limiter,
		log:         logger,
	}
}

// Router builds the full route tree. Webhooks bypass user auth: Click
// authenticates by signature, Play by re-fetching from Google.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(TraceID(s.log))
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))
	r.Use(Timeout(15 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/payment/initiate", s.rateLimited("payment_initiate", s.initiateHandler()))
		r.Post("/payment/verify", s.rateLimited("payment_verify", s.verifyHandler()))
		r.Post("/usage/consume", s.consumeHandler())
		r.Get("/subscription", s.subscriptionHandler())
	})

	r.Post("/webhooks/click", s.clickWebhookHandler())
	r.Post("/webhooks/google-play", s.playWebhookHandler())
	return r
}

// rateLimited caps per-user calls on payment endpoints; 10 per minute is
// far above any legitimate client and far below a probing loop.
func (s *Server) rateLimited(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			userID := UserIDFromContext(r.Context())
			ok, err := s.limiter.Allow(r.Context(), red.UserActionKey(userID, action), 10, time.Minute)
			if err != nil {
				// Redis being down must not take payments with it.
				s.log.Warn().Err(err).Msg("rate limiter unavailable")
			} else if !ok {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
		}
		next(w, r)
	}
}
