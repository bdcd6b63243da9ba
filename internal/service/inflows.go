package service

import (
	"context"
	"time"

	"github.com/kmessan/caisse-manager-go/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cash inflow operations. Each mutation is a short write sequence: the
// inflow record is the primary write, the project aggregate adjustment and
// the debt cache invalidation follow. A failure after the primary write
// surfaces as *domain.ErrPartialFailure naming the undone step.

func (s *LedgerService) ListInflows(ctx context.Context, projectID string) ([]domain.CashInflow, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListInflows")
	defer span.End()

	return s.store.ListInflows(ctx, projectID)
}

func (s *LedgerService) GetInflow(ctx context.Context, id string) (*domain.CashInflow, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetInflow")
	defer span.End()

	return s.store.GetInflow(ctx, id)
}

func validateInflowRequest(req *domain.InflowRequest) error {
	if req.Amount < 0 {
		return &domain.ErrValidation{Field: "amount", Message: "must not be negative"}
	}
	if req.ProjectID == "" {
		return &domain.ErrValidation{Field: "projectId", Message: "required"}
	}
	if !domain.InflowSource(req.Source).Known() {
		return &domain.ErrValidation{Field: "source", Message: "unknown source tag"}
	}
	if req.Date != "" {
		if _, ok := domain.ParseRecordDate(req.Date); !ok {
			return &domain.ErrValidation{Field: "date", Message: "invalid format, use YYYY-MM-DD"}
		}
	}
	return nil
}

// CreateInflow records a cash inflow and bumps the target project's cached
// aggregates. The project may not exist anymore; that is tolerated and the
// inflow still counts in every recomputed total.
func (s *LedgerService) CreateInflow(ctx context.Context, actor domain.ActorContext, req *domain.InflowRequest) (*domain.CashInflow, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.CreateInflow")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("create_inflow", time.Since(start)) }()

	if err := requireManager(actor, "create inflow"); err != nil {
		return nil, err
	}
	if err := validateInflowRequest(req); err != nil {
		return nil, err
	}

	inflow, err := s.store.CreateInflow(ctx, map[string]any{
		"id":            uuid.New().String(),
		"date":          req.Date,
		"amount":        req.Amount,
		"source":        req.Source,
		"description":   req.Description,
		"project_id":    req.ProjectID,
		"created_by_id": actor.UserID,
	})
	if err != nil {
		s.logger.Error("failed to create inflow", zap.Error(err))
		return nil, err
	}

	if err := s.adjustProjectAggregates(ctx, req.ProjectID, req.Amount, 0); err != nil {
		return inflow, s.partialFailure("create_inflow", "project_aggregates", err)
	}

	if domain.InflowSource(req.Source).IsAdvance() {
		s.debtCache.Delete(debtCacheKey)
	}

	s.logger.Info("inflow recorded",
		zap.String("inflow_id", inflow.ID),
		zap.Float64("amount", inflow.Amount),
		zap.String("source", inflow.Source),
		zap.String("project_id", inflow.ProjectID),
	)
	return inflow, nil
}

// UpdateInflow moves the amount from the old project to the new one, then
// persists the edited record. The two aggregate adjustments are independent:
// the first failing aborts before anything persisted, a later failure is
// partial.
func (s *LedgerService) UpdateInflow(ctx context.Context, actor domain.ActorContext, id string, req *domain.InflowRequest) (*domain.CashInflow, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.UpdateInflow")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("update_inflow", time.Since(start)) }()

	if err := requireManager(actor, "update inflow"); err != nil {
		return nil, err
	}
	if err := validateInflowRequest(req); err != nil {
		return nil, err
	}

	existing, err := s.store.GetInflow(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.adjustProjectAggregates(ctx, existing.ProjectID, -existing.Amount, 0); err != nil {
		return nil, err
	}
	if err := s.adjustProjectAggregates(ctx, req.ProjectID, req.Amount, 0); err != nil {
		return nil, s.partialFailure("update_inflow", "new_project_aggregates", err)
	}

	if err := s.store.UpdateInflow(ctx, id, map[string]any{
		"date":        req.Date,
		"amount":      req.Amount,
		"source":      req.Source,
		"description": req.Description,
		"project_id":  req.ProjectID,
	}); err != nil {
		return nil, s.partialFailure("update_inflow", "inflow_record", err)
	}

	if domain.InflowSource(existing.Source).IsAdvance() || domain.InflowSource(req.Source).IsAdvance() {
		s.debtCache.Delete(debtCacheKey)
	}

	updated := *existing
	updated.Date = req.Date
	updated.Amount = req.Amount
	updated.Source = req.Source
	updated.Description = req.Description
	updated.ProjectID = req.ProjectID
	return &updated, nil
}

// DeleteInflow removes the record and subtracts its amount from the cached
// project aggregates.
func (s *LedgerService) DeleteInflow(ctx context.Context, actor domain.ActorContext, id string) error {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.DeleteInflow")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("delete_inflow", time.Since(start)) }()

	if err := requireManager(actor, "delete inflow"); err != nil {
		return err
	}

	existing, err := s.store.GetInflow(ctx, id)
	if err != nil {
		return err
	}

	if err := s.adjustProjectAggregates(ctx, existing.ProjectID, -existing.Amount, 0); err != nil {
		return err
	}
	if err := s.store.DeleteInflow(ctx, id); err != nil {
		return s.partialFailure("delete_inflow", "inflow_record", err)
	}

	if domain.InflowSource(existing.Source).IsAdvance() {
		s.debtCache.Delete(debtCacheKey)
	}

	s.logger.Info("inflow deleted",
		zap.String("inflow_id", id),
		zap.Float64("amount", existing.Amount),
		zap.String("project_id", existing.ProjectID),
	)
	return nil
}
