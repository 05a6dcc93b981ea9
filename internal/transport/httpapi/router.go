package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/savichev/finparse/internal/transport/httpapi/handler"
	"github.com/savichev/finparse/internal/transport/httpapi/middleware"
	"github.com/savichev/finparse/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger           *logger.Logger
	AllowedOrigins   []string
	StatementHandler *handler.StatementHandler
	ParserHandler    *handler.ParserHandler
	HealthHandler    *handler.HealthHandler
	JWTMiddleware    func(http.Handler) http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	// Statement parsing runs sandboxed code and may call the model; keep the
	// request budget tight.
	r.Use(middleware.RateLimit(rate.Limit(10), 5))

	// Health check endpoints (no authentication required)
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
		r.Get("/health/detailed", cfg.HealthHandler.GetHealthDetailed)
	}

	// API routes (require JWT authentication)
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTMiddleware != nil {
			r.Use(cfg.JWTMiddleware)
		}

		if cfg.StatementHandler != nil {
			r.Post("/statements/parse", cfg.StatementHandler.ParseStatement)
			r.Post("/statements/{id}/categorize", cfg.StatementHandler.CategorizeStatement)
		}

		if cfg.ParserHandler != nil {
			r.Route("/parsers", func(r chi.Router) {
				r.Get("/", cfg.ParserHandler.ListParsers)
				r.Get("/{bankKey}", cfg.ParserHandler.GetParserVersions)
				r.Delete("/{bankKey}", cfg.ParserHandler.ClearParser)
			})
		}
	})

	return r
}
