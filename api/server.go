/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. Metrics:    Prometheus request counters and latency
  5. CORS:       Cross-origin requests for frontend
  6. RateLimit:  Per-IP limit on state-changing routes (ulule/limiter)

ROUTE GROUPS:
  /api/inventory/*      Ledger views and stock movements
  /api/sales/*          Sales and sales statistics
  /api/products/*       Catalog
  /api/reconciliation/* Ledger replay runs
  /api/scenarios/*      Demo data
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RouterConfig holds the knobs the router needs from configuration.
type RouterConfig struct {
	AllowedOrigins []string
	// RateLimit uses the limiter format, e.g. "60-M". Empty disables it.
	RateLimit string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) (*chi.Mux, error) {
	writeLimit, err := rateLimitMiddleware(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(h.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Inventory (ledger) routes
		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", h.ListLedger)
			r.Get("/summary", h.InventorySummary)
			r.Get("/product/{productId}", h.ProductLedger)

			r.Group(func(r chi.Router) {
				r.Use(writeLimit)
				r.Post("/add-stock", h.AddStock)
				r.Post("/adjust-stock", h.AdjustStock)
				r.Post("/record-loss", h.RecordLoss)
			})
		})

		// Sales routes
		r.Route("/sales", func(r chi.Router) {
			r.Get("/", h.ListSales)
			r.Get("/stats/summary", h.SalesSummary)
			r.Get("/stats/range", h.SalesRange)
			r.Post("/quote", h.QuoteSale)
			r.Get("/{id}", h.GetSale)
			r.With(writeLimit).Post("/", h.CreateSale)
		})

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/alerts/low-stock", h.LowStock)
			r.Get("/{id}", h.GetProduct)

			r.Group(func(r chi.Router) {
				r.Use(writeLimit)
				r.Post("/", h.CreateProduct)
				r.Put("/{id}", h.UpdateProduct)
				r.Delete("/{id}", h.DeleteProduct)
			})
		})

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/runs", h.ListReconciliationRuns)
			r.Get("/schedule", h.ReconciliationSchedule)
			r.Post("/run", h.RunReconciliation)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r, nil
}

// rateLimitMiddleware returns a per-IP limiter, or a pass-through when rate
// is empty.
func rateLimitMiddleware(rate string) (func(http.Handler) http.Handler, error) {
	if rate == "" {
		return func(next http.Handler) http.Handler { return next }, nil
	}

	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", rate, err)
	}

	instance := limiter.New(memory.NewStore(), parsed)
	return stdlib.NewMiddleware(instance).Handler, nil
}
