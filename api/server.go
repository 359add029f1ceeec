/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend
  Webhook only:  Per-IP rate limit

ROUTE GROUPS:
  /api/webhooks/*       Device events
  /api/attendance/*     Logs, summaries, lateness, recompute
  /api/employees/*      Employee management
  /api/schedules/*      Work schedules
  /api/rules/*          Penalty rules
  /api/exemptions/*     Penalty exemptions
  /api/penalties/*      Penalties
  /api/admin/*          Batch runs
  /api/settings/*       Runtime settings
  /api/reports/*        Reports and xlsx export
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/worktrack/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configure NewRouter.
type RouterOptions struct {
	AllowedOrigins   []string
	WebhookRateLimit int // requests per client IP per minute
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.WebhookRateLimit <= 0 {
		opts.WebhookRateLimit = 120
	}
	limiter := NewRateLimiter(opts.WebhookRateLimit)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SecretHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			r.With(limiter.Middleware).Post("/device", h.DeviceWebhook)
		})

		r.Route("/attendance", func(r chi.Router) {
			r.Get("/logs", h.ListLogs)
			r.Post("/logs", h.CreateLog)
			r.Delete("/logs/{id}", h.DeleteLog)
			r.Get("/summaries", h.ListSummaries)
			r.Get("/lateness", h.ListLateness)
			r.Get("/lateness/{id}", h.GetLateness)
			r.Post("/recompute", h.Recompute)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Put("/{id}", h.UpdateEmployee)
			r.Delete("/{id}", h.DeleteEmployee)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.ListSchedules)
			r.Post("/", h.CreateSchedule)
			r.Get("/{id}", h.GetSchedule)
			r.Put("/{id}", h.UpdateSchedule)
			r.Delete("/{id}", h.DeleteSchedule)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Get("/{id}", h.GetRule)
			r.Put("/{id}", h.UpdateRule)
			r.Delete("/{id}", h.DeleteRule)
		})

		r.Route("/exemptions", func(r chi.Router) {
			r.Get("/", h.ListExemptions)
			r.Post("/", h.CreateExemption)
			r.Put("/{id}", h.UpdateExemption)
			r.Delete("/{id}", h.DeleteExemption)
		})

		r.Route("/penalties", func(r chi.Router) {
			r.Get("/", h.ListPenalties)
			r.Post("/", h.CreatePenalty)
			r.Put("/{id}", h.UpdatePenalty)
			r.Delete("/{id}", h.DeletePenalty)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/batch/run", h.RunBatch)
			r.Get("/batch/runs", h.ListBatchRuns)
			r.Get("/batch/schedule", h.GetBatchSchedule)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Put("/", h.UpdateSettings)
			r.Post("/telegram/test", h.TestTelegram)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/{kind}", h.GetReport)
			r.Get("/{kind}/export", h.ExportReport)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
