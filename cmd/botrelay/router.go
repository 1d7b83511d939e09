package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpquota "github.com/livedatabots/botrelay/middleware/http"
	"github.com/livedatabots/botrelay/pkg/api"
	"github.com/livedatabots/botrelay/pkg/quota"
)

type routerConfig struct {
	Handler   *api.Handler
	Gate      *quota.Gate
	Mode      quota.Mode
	ClientURL string
	Registry  *prometheus.Registry
	Logger    quota.Logger
}

func newRouter(cfg routerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(api.RequestID)
	r.Use(allowOrigin(cfg.ClientURL))

	r.With(httpquota.Middleware(httpquota.Config{
		Gate:   cfg.Gate,
		Mode:   cfg.Mode,
		Logger: cfg.Logger,
	})).Post("/chat", cfg.Handler.Chat)

	r.Get("/usage", cfg.Handler.Usage)
	r.Get("/database_status", cfg.Handler.DatabaseStatus)
	r.Get("/health", cfg.Handler.Health)

	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// allowOrigin restricts cross-origin requests to the configured client. An
// empty origin adds no CORS headers.
func allowOrigin(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", api.RequestIDHeader},
		ExposedHeaders: []string{api.RequestIDHeader, "X-Quota-Limit", "X-Quota-Remaining", "X-Quota-Reset"},
		MaxAge:         600,
	})
}
