/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Access log: httplog, JSON lines into the shared log sink
  4. Metrics:    http_request_duration_seconds by route pattern
  5. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/agents/*        Agents, sessions, ledger, payroll, plans
  /api/capital/*       Capital movements
  /api/reports/*       Daily reports
  /api/payroll/*       Adjustments and export
  /api/installments/*  Installment plans
  /api/assignments     Supervisor assignments
  /api/settlement/*    Config and daily job
  /api/audit           Audit log
  /api/scenarios/*     Demo data (only with RouterOptions.Scenarios)
  /metrics             Prometheus
  /healthz             Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/warp/teller-settlement/logging"
	"github.com/warp/teller-settlement/metrics"
)

// RouterOptions tunes the outer middleware. The zero value is usable.
type RouterOptions struct {
	AllowedOrigins []string
	AccessLog      bool

	// Scenarios mounts the demo loaders, which wipe the database.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if opts.AccessLog {
		r.Use(accessLog())
	}
	r.Use(observeDuration)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.SaveAgent)
			r.Get("/{id}", h.GetAgent)
			r.Get("/{id}/session", h.GetSession)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/payroll", h.ListPayroll)
			r.Post("/{id}/payroll/sync", h.SyncPayroll)
			r.Post("/{id}/withdrawals", h.RecordWithdrawal)
			r.Post("/{id}/deductions", h.RecordDeduction)
			r.Get("/{id}/installments", h.ListPlans)
		})

		r.Route("/capital", func(r chi.Router) {
			r.Post("/issue", h.IssueCapital)
			r.Post("/add", h.AddFunds)
			r.Post("/remit", h.RemitFunds)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", h.ListReports)
			r.Post("/", h.SubmitReport)
			r.Post("/{id}/override", h.OverrideReport)
			r.Delete("/{id}", h.VoidReport)
		})

		r.Route("/payroll", func(r chi.Router) {
			r.Get("/export", h.ExportPayroll)
			r.Get("/{id}/adjustments", h.ListAdjustments)
		})

		r.Route("/installments", func(r chi.Router) {
			r.Post("/", h.CreatePlan)
			r.Post("/{id}/payments", h.RecordPlanPayment)
			r.Post("/{id}/cancel", h.CancelPlan)
		})

		r.Get("/assignments", h.ListAssignments)

		r.Route("/settlement", func(r chi.Router) {
			r.Get("/config", h.GetConfig)
			r.Put("/config", h.UpdateConfig)
			r.Post("/run", h.RunSettlement)
			r.Get("/runs", h.ListRuns)
		})

		r.Get("/audit", h.ListAudit)

		if opts.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

func accessLog() func(http.Handler) http.Handler {
	logger := slog.New(slog.NewJSONHandler(logging.Writer(), &slog.HandlerOptions{}))
	return httplog.RequestLogger(logger, &httplog.Options{
		Level:              slog.LevelInfo,
		Schema:             httplog.Schema{ResponseStatus: "status", ResponseDuration: "duration_ms"},
		LogRequestBody:     func(*http.Request) bool { return false },
		LogResponseBody:    func(*http.Request) bool { return false },
		LogRequestHeaders:  []string{},
		LogResponseHeaders: []string{},
		LogExtraAttrs: func(req *http.Request, _ string, _ int) []slog.Attr {
			attrs := []slog.Attr{slog.String("component", "http")}
			if id := middleware.GetReqID(req.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if rc := chi.RouteContext(req.Context()); rc != nil {
				if pattern := rc.RoutePattern(); pattern != "" {
					attrs = append(attrs, slog.String("route", pattern))
				}
			}
			return attrs
		},
	})
}

// observeDuration records latency by route pattern so path parameters do
// not explode the label cardinality.
func observeDuration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
