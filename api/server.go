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
  1. RequestID:  Unique ID per request for tracing (handlers log it)
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/entries/*        Work entries and their lifecycle
  /api/conflicts/*      Manual conflict re-check
  /api/diagnostics/*    Conflict counts, dangling entries
  /api/employees/*      Employees, undefined slots
  /api/entry-types/*    Entry types
  /api/contracts/*      Contract versions
  /api/calendars/*      Working calendars (JSON definitions)
  /api/sweeps/*         Conflict sweeper runs
  /api/scenarios/*      Demo scenarios and reset (dev only)
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Work entry routes
		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.CreateEntries)
			r.Patch("/", h.UpdateEntries)
			r.Post("/validate", h.ValidateEntries)
			r.Post("/cancel", h.CancelEntries)
			r.Post("/reactivate", h.ReactivateEntries)
			r.Post("/delete", h.DeleteEntries)
			r.Post("/generate", h.GenerateEntries)
			r.Get("/{id}", h.GetEntry)
			r.Delete("/{id}", h.DeleteEntry)
		})

		r.Post("/conflicts/recheck", h.RecheckConflicts)

		r.Route("/diagnostics", func(r chi.Router) {
			r.Get("/conflicts", h.CountConflicts)
			r.Get("/dangling", h.ListDangling)
		})

		// Reference data routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/undefined-slots", h.UndefinedSlots)
		})

		r.Route("/entry-types", func(r chi.Router) {
			r.Get("/", h.ListEntryTypes)
			r.Post("/", h.CreateEntryType)
		})

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.CreateContract)
			r.Delete("/{id}", h.DeleteContract)
		})

		r.Route("/calendars", func(r chi.Router) {
			r.Get("/", h.ListCalendars)
			r.Post("/", h.CreateCalendar)
			r.Get("/{id}", h.GetCalendar)
		})

		// Sweeper routes
		r.Route("/sweeps", func(r chi.Router) {
			r.Get("/", h.ListSweeps)
			r.Post("/run", h.RunSweep)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
