package service

import (
	"context"
	"time"

	"github.com/kmessan/caisse-manager-go/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Advance-debt tracking. The debt is never stored: it is recomputed from
// advance-tagged inflows minus reimbursements, memoized in a TTL cache and
// invalidated by every mutation that touches either side.

// AdvanceDebt returns the current advance-account debt.
func (s *LedgerService) AdvanceDebt(ctx context.Context) (float64, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.AdvanceDebt")
	defer span.End()

	if debt, ok := s.debtCache.Get(debtCacheKey); ok {
		s.metrics.IncrCacheHit("advance_debt")
		return debt, nil
	}
	s.metrics.IncrCacheMiss("advance_debt")

	inflows, err := s.store.ListInflows(ctx, "")
	if err != nil {
		return 0, err
	}
	reimbursements, err := s.store.ListReimbursements(ctx)
	if err != nil {
		return 0, err
	}

	debt := domain.AdvanceDebt(inflows, reimbursements)
	s.debtCache.Set(debtCacheKey, debt)
	return debt, nil
}

func (s *LedgerService) ListReimbursements(ctx context.Context) ([]domain.Reimbursement, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListReimbursements")
	defer span.End()

	return s.store.ListReimbursements(ctx)
}

// RecordReimbursement registers a repayment of the advance account. The
// amount must not exceed the outstanding debt; the check runs before any
// write, so a rejected request leaves no record behind. A repayment also
// synthesizes a one-item expense on the reserved repayment project so the
// money shows up on the expense side of the ledger.
func (s *LedgerService) RecordReimbursement(ctx context.Context, actor domain.ActorContext, req *domain.ReimbursementRequest) (*domain.Reimbursement, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.RecordReimbursement")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("record_reimbursement", time.Since(start)) }()

	if err := requireManager(actor, "record reimbursement"); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	if req.Date != "" {
		if _, ok := domain.ParseRecordDate(req.Date); !ok {
			return nil, &domain.ErrValidation{Field: "date", Message: "invalid format, use YYYY-MM-DD"}
		}
	}

	debt, err := s.AdvanceDebt(ctx)
	if err != nil {
		return nil, err
	}
	if req.Amount > debt {
		return nil, &domain.ErrValidation{Field: "amount", Message: "exceeds outstanding advance debt"}
	}

	reimb, err := s.store.CreateReimbursement(ctx, map[string]any{
		"id":            uuid.New().String(),
		"date":          req.Date,
		"amount":        req.Amount,
		"description":   req.Description,
		"created_by_id": actor.UserID,
	})
	if err != nil {
		s.logger.Error("failed to record reimbursement", zap.Error(err))
		return nil, err
	}
	s.debtCache.Delete(debtCacheKey)

	exp, err := s.store.CreateExpense(ctx, map[string]any{
		"id":            uuid.New().String(),
		"date":          req.Date,
		"description":   "advance repayment",
		"project_id":    domain.RepaymentProjectID,
		"status":        string(domain.StatusPending),
		"created_by_id": actor.UserID,
	})
	if err != nil {
		return reimb, s.partialFailure("record_reimbursement", "repayment_expense", err)
	}

	if _, err := s.store.CreateItem(ctx, map[string]any{
		"id":           uuid.New().String(),
		"expense_id":   exp.ID,
		"designation":  "advance repayment",
		"quantity":     1.0,
		"unit_price":   req.Amount,
		"amount_given": req.Amount,
	}); err != nil {
		return reimb, s.partialFailure("record_reimbursement", "repayment_expense_item", err)
	}

	if err := s.adjustProjectAggregates(ctx, domain.RepaymentProjectID, 0, req.Amount); err != nil {
		return reimb, s.partialFailure("record_reimbursement", "project_aggregates", err)
	}

	s.logger.Info("reimbursement recorded",
		zap.String("reimbursement_id", reimb.ID),
		zap.Float64("amount", reimb.Amount),
		zap.Float64("previous_debt", debt),
	)
	return reimb, nil
}
