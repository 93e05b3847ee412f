package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"gitea.jw6.us/james/calsync/internal/auth"
	"gitea.jw6.us/james/calsync/internal/config"
	"gitea.jw6.us/james/calsync/internal/http/ratelimit"
	"gitea.jw6.us/james/calsync/internal/metrics"
	"gitea.jw6.us/james/calsync/internal/store"
	"gitea.jw6.us/james/calsync/internal/sync"
)

// NewRouter wires the admin API and the webhook receiver.
func NewRouter(cfg *config.Config, st *store.Store, svc *sync.Service) http.Handler {
	r := chi.NewRouter()

	// Admin endpoints: 5 requests per second, burst of 10
	adminRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	// Webhook endpoint: 20 requests per second, burst of 50 (Google batches deliveries)
	webhookRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(20), 50, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())
	r.Use(auth.ExtractPrincipal)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := st.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	apiHandler := NewAPIHandler(svc)
	r.Route("/api/calendar", func(r chi.Router) {
		r.Use(adminRateLimiter.Middleware())
		r.Use(auth.RequirePrincipal)
		r.Use(auth.RequireAdmin)

		r.Get("/auth-url", apiHandler.AuthURL)
		r.Get("/callback", apiHandler.Callback)
		r.Get("/status", apiHandler.Status)
		r.Post("/sync", apiHandler.SyncNow)
		r.Post("/enabled", apiHandler.SetEnabled)
		r.Post("/disconnect", apiHandler.Disconnect)
		r.Post("/autosync/start", apiHandler.StartAutoSync)
		r.Post("/autosync/stop", apiHandler.StopAutoSync)
	})

	webhookHandler := NewWebhookHandler(svc.Channels, svc.Coordinator)
	r.With(webhookRateLimiter.Middleware()).Post("/webhooks/google", webhookHandler.Receive)

	return r
}
