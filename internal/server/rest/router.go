package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const requestTimeout = 60 * time.Second

// NewRouter builds the HTTP API.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.logger))
	r.Use(Instrument(h.metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	requireAuth := RequireAuth(h.tokens)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			if h.config.AuthRateLimitPerIP > 0 {
				r.Use(httprate.LimitByIP(h.config.AuthRateLimitPerIP, time.Minute))
			}

			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
			r.Post("/logout", h.Logout)
			r.Get("/verify-email", h.VerifyEmail)
			r.Post("/request-password-reset", h.RequestPasswordReset)
			r.Post("/reset-password", h.ResetPassword)

			r.With(requireAuth).Post("/logout-all", h.LogoutAll)
			r.With(requireAuth).Post("/logout-other-devices", h.LogoutOtherDevices)
			r.With(requireAuth).Post("/resend-verification", h.ResendVerification)
			r.With(requireAuth).Get("/me", h.Me)

			if h.oauth != nil {
				r.Get("/google", h.GoogleLogin)
				r.Get("/google/callback", h.GoogleCallback)
			}
		})

		r.Route("/documents", func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/upload-url", h.DocumentUploadURL)
			r.Get("/download-url", h.DocumentDownloadURL)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	return otelhttp.NewHandler(r, "leadcrm-http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Health reports liveness including database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Error(r.Context(), "health check failed", "err", err)
			respondJSON(w, http.StatusServiceUnavailable, envelope{Success: false, Message: "database unavailable"})
			return
		}
	}
	respondOK(w, http.StatusOK, "ok", nil)
}
