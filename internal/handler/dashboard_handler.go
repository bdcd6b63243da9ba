package handler

import (
	"net/http"

	"github.com/kmessan/caisse-manager-go/internal/service"

	"go.uber.org/zap"
)

// dashboardHandler serves the recomputed global summary, optionally
// restricted to a calendar window via ?from=YYYY-MM-DD&to=YYYY-MM-DD.
func dashboardHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard")
		defer span.End()

		summary, err := svc.Dashboard(ctx, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}
