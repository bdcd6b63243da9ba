// Package handler wires the HTTP surface: routing, auth middleware, and the
// translation between API payloads and service calls.
package handler

import (
	"net/http"
	"time"

	"github.com/kmessan/caisse-manager-go/internal/domain"
	"github.com/kmessan/caisse-manager-go/internal/infra/observability"
	"github.com/kmessan/caisse-manager-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(ledgerSvc *service.LedgerService, authSvc *service.AuthService, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(requestMetricsMiddleware(metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(ledgerSvc, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Public routes
		r.Post("/auth/login", authLoginHandler(authSvc, logger))

		// Everything else requires a valid access token. Reads are open to
		// any authenticated user; mutations are gated on the manager role
		// inside the service layer.
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(authSvc, logger))

			// Projects
			r.Get("/projects", listProjectsHandler(ledgerSvc, logger))
			r.Post("/projects", createProjectHandler(ledgerSvc, logger))
			r.Get("/projects/{projectId}", getProjectHandler(ledgerSvc, logger))
			r.Put("/projects/{projectId}", updateProjectHandler(ledgerSvc, logger))
			r.Post("/projects/{projectId}/recompute", recomputeProjectHandler(ledgerSvc, logger))

			// Cash inflows
			r.Get("/inflows", listInflowsHandler(ledgerSvc, logger))
			r.Post("/inflows", createInflowHandler(ledgerSvc, logger))
			r.Get("/inflows/{inflowId}", getInflowHandler(ledgerSvc, logger))
			r.Put("/inflows/{inflowId}", updateInflowHandler(ledgerSvc, logger))
			r.Delete("/inflows/{inflowId}", deleteInflowHandler(ledgerSvc, logger))

			// Expenses
			r.Get("/expenses", listExpensesHandler(ledgerSvc, logger))
			r.Post("/expenses", createExpenseHandler(ledgerSvc, logger))
			r.Get("/expenses/{expenseId}", getExpenseHandler(ledgerSvc, logger))
			r.Put("/expenses/{expenseId}", updateExpenseHandler(ledgerSvc, logger))
			r.Delete("/expenses/{expenseId}", deleteExpenseHandler(ledgerSvc, logger))
			r.Post("/expenses/{expenseId}/validate", validateExpenseHandler(ledgerSvc, logger))
			r.Post("/expenses/{expenseId}/flag-debt", flagExpenseDebtHandler(ledgerSvc, logger))

			// Advance account
			r.Get("/advance/debt", advanceDebtHandler(ledgerSvc, logger))
			r.Get("/advance/reimbursements", listReimbursementsHandler(ledgerSvc, logger))
			r.Post("/advance/reimbursements", createReimbursementHandler(ledgerSvc, logger))

			// Dashboard & metrics
			r.Get("/dashboard", dashboardHandler(ledgerSvc, logger))
			r.Get("/metrics/ledger", ledgerMetricsHandler(metrics))
		})
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(ledgerSvc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "caisse-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		start := time.Now()
		_, err := ledgerSvc.ListProjects(ctx)
		latency := time.Since(start).Milliseconds()
		status := "healthy"
		if err != nil {
			status = "degraded"
		}
		services = append(services, domain.ServiceHealth{
			Name: "supabase", Status: status, LatencyMs: latency, LastChecked: now,
		})

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func ledgerMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetLedgerSnapshot())
	}
}
