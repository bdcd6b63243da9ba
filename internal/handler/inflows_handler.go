package handler

import (
	"encoding/json"
	"net/http"

	"github.com/kmessan/caisse-manager-go/internal/domain"
	"github.com/kmessan/caisse-manager-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Cash inflows
// ============================================================

func listInflowsHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/inflows")
		defer span.End()

		inflows, err := svc.ListInflows(ctx, r.URL.Query().Get("projectId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"inflows": inflows})
	}
}

func getInflowHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/inflows/{inflowId}")
		defer span.End()

		inflow, err := svc.GetInflow(ctx, chi.URLParam(r, "inflowId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, inflow)
	}
}

func createInflowHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/inflows")
		defer span.End()

		var req domain.InflowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		inflow, err := svc.CreateInflow(ctx, ActorFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, inflow)
	}
}

func updateInflowHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/inflows/{inflowId}")
		defer span.End()

		var req domain.InflowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		inflow, err := svc.UpdateInflow(ctx, ActorFromContext(ctx), chi.URLParam(r, "inflowId"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, inflow)
	}
}

func deleteInflowHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/inflows/{inflowId}")
		defer span.End()

		if err := svc.DeleteInflow(ctx, ActorFromContext(ctx), chi.URLParam(r, "inflowId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
