package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/eldtechnologies/confide/internal/access"
	"github.com/eldtechnologies/confide/internal/api/middleware"
	"github.com/eldtechnologies/confide/internal/handlers"
	"github.com/eldtechnologies/confide/internal/store"
)

// maxBodyBytes caps form submissions.
const maxBodyBytes = 64 * 1024

// Options carries everything the router wires together.
type Options struct {
	Logger      zerolog.Logger
	Handler     *handlers.Handler
	Gate        access.Gate
	Redis       *store.RedisStore // nil disables rate limiting
	RateLimit   middleware.RateLimiterConfig
	CORSOrigins []string // empty disables CORS
	StaticDir   string

	// TrustedProxies lists the peers whose forwarding headers name the
	// client. Empty means the connecting address is the client.
	TrustedProxies []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Tracing and metrics first to capture all requests
	r.Use(otelhttp.NewMiddleware("confide.http"))
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.TrustedProxies(opts.TrustedProxies))
	r.Use(middleware.Logger(opts.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.StripSlashes)
	r.Use(chimw.GetHead)

	limit := func(next http.Handler) http.Handler { return next }
	if client := opts.Redis.Client(); client != nil {
		limiter := middleware.NewRateLimiter(client, opts.Logger, opts.RateLimit)
		r.Use(limiter.Guard)
		limit = limiter.Limit
	}

	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	h := opts.Handler

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir(opts.StaticDir)))))
	r.Get("/health", h.Health)

	r.Get("/", h.Home)
	r.With(limit).Post("/submit", h.Submit)
	r.With(limit, middleware.RequireAccess(opts.Gate, "/", opts.Logger)).Get("/messages/{id}", h.ListMessages)
	r.With(limit).Post("/delete_mesg/{id}", h.DeleteMessage)

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.NotFound)

	return r
}

// staticDir returns the path to static files directory.
func staticDir(configured string) string {
	if configured != "" {
		return configured
	}
	// Check if running from app directory (production container)
	if _, err := os.Stat("/app/web/static"); err == nil {
		return "/app/web/static"
	}
	return "web/static"
}
