/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

SECURITY NOTE:
  Identity arrives in X-Structure-ID / X-User-ID headers resolved by an
  upstream authenticator. There is no auth middleware here.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Structure-ID", "X-User-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Trade routes
		r.Route("/trades", func(r chi.Router) {
			r.Get("/", h.ListTrades)
			r.Post("/", h.CreateTrade)
			r.Get("/{id}/profit", h.TradeProfit)
		})
		r.Delete("/trade-lines/{id}", h.DeleteTradeLine)

		// Inventory views
		r.Route("/inventory", func(r chi.Router) {
			r.Get("/summary", h.InventorySummary)
			r.Get("/by-location", h.InventoryByLocation)
			r.Get("/items/{id}/by-location", h.ItemByLocation)
			r.Get("/locations/{id}/by-item", h.LocationByItem)
		})

		// Player routes
		r.Route("/players", func(r chi.Router) {
			r.Get("/{id}/inventory", h.PlayerInventory)
			r.Get("/{id}/ledger", h.PlayerLedger)
		})

		// Valuation routes
		r.Route("/item-values", func(r chi.Router) {
			r.Get("/", h.ListValuations)
			r.Post("/", h.CreateValuation)
		})

		// Catalog routes
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
		})
		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.ListLocations)
			r.Post("/", h.CreateLocation)
		})
		r.Route("/reasons", func(r chi.Router) {
			r.Get("/", h.ListReasons)
			r.Post("/", h.CreateReason)
		})
		r.Post("/members", h.AddMember)

		// Demo dataset (dev convenience)
		r.Post("/seed", h.SeedDemo)
	})

	return r
}
