package handler

import (
	"encoding/json"
	"net/http"

	"github.com/kmessan/caisse-manager-go/internal/domain"
	"github.com/kmessan/caisse-manager-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Advance account — debt & reimbursements
// ============================================================

func advanceDebtHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/advance/debt")
		defer span.End()

		debt, err := svc.AdvanceDebt(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"debt": debt})
	}
}

func listReimbursementsHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/advance/reimbursements")
		defer span.End()

		reimbursements, err := svc.ListReimbursements(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reimbursements": reimbursements})
	}
}

func createReimbursementHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/advance/reimbursements")
		defer span.End()

		var req domain.ReimbursementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		reimb, err := svc.RecordReimbursement(ctx, ActorFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, reimb)
	}
}
