package service

import (
	"context"
	"time"

	"github.com/kmessan/caisse-manager-go/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Expense operations. An expense and its items are separate records with no
// transactional envelope: create writes the expense first and the items one
// by one, update replaces the item set wholesale, delete cascades by hand.

func (s *LedgerService) expenseView(ctx context.Context, exp *domain.Expense) (*domain.ExpenseView, error) {
	items, err := s.store.ListItems(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	view := &domain.ExpenseView{Expense: *exp, Items: items, Total: domain.ExpenseTotal(items)}
	for _, it := range items {
		view.Remainder += domain.ItemRemainder(it)
	}
	return view, nil
}

func (s *LedgerService) ListExpenses(ctx context.Context, projectID string) ([]domain.ExpenseView, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListExpenses")
	defer span.End()

	expenses, err := s.store.ListExpenses(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListAllItems(ctx)
	if err != nil {
		return nil, err
	}

	byExpense := make(map[string][]domain.ExpenseItem, len(expenses))
	for _, it := range items {
		byExpense[it.ExpenseID] = append(byExpense[it.ExpenseID], it)
	}

	views := make([]domain.ExpenseView, 0, len(expenses))
	for _, exp := range expenses {
		own := byExpense[exp.ID]
		view := domain.ExpenseView{Expense: exp, Items: own, Total: domain.ExpenseTotal(own)}
		for _, it := range own {
			view.Remainder += domain.ItemRemainder(it)
		}
		if view.Items == nil {
			view.Items = []domain.ExpenseItem{}
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *LedgerService) GetExpense(ctx context.Context, id string) (*domain.ExpenseView, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetExpense")
	defer span.End()

	exp, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.expenseView(ctx, exp)
}

func validateExpenseRequest(req *domain.ExpenseRequest) error {
	if req.ProjectID == "" {
		return &domain.ErrValidation{Field: "projectId", Message: "required"}
	}
	if req.Date != "" {
		if _, ok := domain.ParseRecordDate(req.Date); !ok {
			return &domain.ErrValidation{Field: "date", Message: "invalid format, use YYYY-MM-DD"}
		}
	}
	for _, it := range req.Items {
		if it.Quantity < 0 {
			return &domain.ErrValidation{Field: "items.quantity", Message: "must not be negative"}
		}
		if it.UnitPrice < 0 {
			return &domain.ErrValidation{Field: "items.unitPrice", Message: "must not be negative"}
		}
	}
	return nil
}

func requestItemsTotal(items []domain.ExpenseItemInput) float64 {
	converted := make([]domain.ExpenseItem, 0, len(items))
	for _, it := range items {
		converted = append(converted, domain.ExpenseItem{Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return domain.ExpenseTotal(converted)
}

// CreateExpense writes the expense record, then its items, then charges the
// project's cached aggregates with the derived total.
func (s *LedgerService) CreateExpense(ctx context.Context, actor domain.ActorContext, req *domain.ExpenseRequest) (*domain.ExpenseView, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.CreateExpense")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("create_expense", time.Since(start)) }()

	if err := requireManager(actor, "create expense"); err != nil {
		return nil, err
	}
	if err := validateExpenseRequest(req); err != nil {
		return nil, err
	}

	exp, err := s.store.CreateExpense(ctx, map[string]any{
		"id":            uuid.New().String(),
		"date":          req.Date,
		"description":   req.Description,
		"project_id":    req.ProjectID,
		"reference":     req.Reference,
		"status":        string(domain.StatusPending),
		"created_by_id": actor.UserID,
	})
	if err != nil {
		s.logger.Error("failed to create expense", zap.Error(err))
		return nil, err
	}

	items := make([]domain.ExpenseItem, 0, len(req.Items))
	for _, in := range req.Items {
		item, err := s.store.CreateItem(ctx, itemRow(exp.ID, in))
		if err != nil {
			return nil, s.partialFailure("create_expense", "expense_items", err)
		}
		items = append(items, *item)
	}

	total := domain.ExpenseTotal(items)
	if err := s.adjustProjectAggregates(ctx, req.ProjectID, 0, total); err != nil {
		return nil, s.partialFailure("create_expense", "project_aggregates", err)
	}

	s.logger.Info("expense recorded",
		zap.String("expense_id", exp.ID),
		zap.Float64("total", total),
		zap.Int("items", len(items)),
		zap.String("project_id", exp.ProjectID),
	)

	view := &domain.ExpenseView{Expense: *exp, Items: items, Total: total}
	for _, it := range items {
		view.Remainder += domain.ItemRemainder(it)
	}
	return view, nil
}

func itemRow(expenseID string, in domain.ExpenseItemInput) map[string]any {
	return map[string]any{
		"id":           uuid.New().String(),
		"expense_id":   expenseID,
		"designation":  in.Designation,
		"reference":    in.Reference,
		"quantity":     in.Quantity,
		"unit":         in.Unit,
		"unit_price":   in.UnitPrice,
		"supplier":     in.Supplier,
		"amount_given": in.AmountGiven,
		"beneficiary":  in.Beneficiary,
	}
}

// ReplaceItems swaps an expense's stored item set for the given one:
// delete every existing item, then insert the new lines. The two phases are
// not atomic; a reader in between sees a partially emptied expense, which
// the derived totals absorb as a transient understatement.
func (s *LedgerService) ReplaceItems(ctx context.Context, expenseID string, items []domain.ExpenseItemInput) ([]domain.ExpenseItem, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ReplaceItems")
	defer span.End()

	existing, err := s.store.ListItems(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	for _, it := range existing {
		if err := s.store.DeleteItem(ctx, it.ID); err != nil {
			return nil, err
		}
	}

	inserted := make([]domain.ExpenseItem, 0, len(items))
	for _, in := range items {
		item, err := s.store.CreateItem(ctx, itemRow(expenseID, in))
		if err != nil {
			return inserted, err
		}
		inserted = append(inserted, *item)
	}
	return inserted, nil
}

// UpdateExpense rebalances the cached aggregates between the old and new
// project, persists the edited record, and replaces the item set.
func (s *LedgerService) UpdateExpense(ctx context.Context, actor domain.ActorContext, id string, req *domain.ExpenseRequest) (*domain.ExpenseView, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.UpdateExpense")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("update_expense", time.Since(start)) }()

	if err := requireManager(actor, "update expense"); err != nil {
		return nil, err
	}
	if err := validateExpenseRequest(req); err != nil {
		return nil, err
	}

	existing, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	oldItems, err := s.store.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}
	oldTotal := domain.ExpenseTotal(oldItems)
	newTotal := requestItemsTotal(req.Items)

	if err := s.adjustProjectAggregates(ctx, existing.ProjectID, 0, -oldTotal); err != nil {
		return nil, err
	}
	if err := s.adjustProjectAggregates(ctx, req.ProjectID, 0, newTotal); err != nil {
		return nil, s.partialFailure("update_expense", "new_project_aggregates", err)
	}

	if err := s.store.UpdateExpense(ctx, id, map[string]any{
		"date":        req.Date,
		"description": req.Description,
		"project_id":  req.ProjectID,
		"reference":   req.Reference,
	}); err != nil {
		return nil, s.partialFailure("update_expense", "expense_record", err)
	}

	items, err := s.ReplaceItems(ctx, id, req.Items)
	if err != nil {
		return nil, s.partialFailure("update_expense", "expense_items", err)
	}

	updated := *existing
	updated.Date = req.Date
	updated.Description = req.Description
	updated.ProjectID = req.ProjectID
	updated.Reference = req.Reference

	view := &domain.ExpenseView{Expense: updated, Items: items, Total: domain.ExpenseTotal(items)}
	for _, it := range items {
		view.Remainder += domain.ItemRemainder(it)
	}
	return view, nil
}

// DeleteExpense unwinds the cached aggregates, removes the items one by one,
// then the expense record itself.
func (s *LedgerService) DeleteExpense(ctx context.Context, actor domain.ActorContext, id string) error {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.DeleteExpense")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("delete_expense", time.Since(start)) }()

	if err := requireManager(actor, "delete expense"); err != nil {
		return err
	}

	existing, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return err
	}
	items, err := s.store.ListItems(ctx, id)
	if err != nil {
		return err
	}

	if err := s.adjustProjectAggregates(ctx, existing.ProjectID, 0, -domain.ExpenseTotal(items)); err != nil {
		return err
	}
	for _, it := range items {
		if err := s.store.DeleteItem(ctx, it.ID); err != nil {
			return s.partialFailure("delete_expense", "expense_items", err)
		}
	}
	if err := s.store.DeleteExpense(ctx, id); err != nil {
		return s.partialFailure("delete_expense", "expense_record", err)
	}

	s.logger.Info("expense deleted",
		zap.String("expense_id", id),
		zap.String("project_id", existing.ProjectID),
	)
	return nil
}

// ValidateExpense moves an expense into the terminal validated state, which
// makes it count toward the effective balance. Validating an already
// validated expense is a no-op.
func (s *LedgerService) ValidateExpense(ctx context.Context, actor domain.ActorContext, id string) (*domain.ExpenseView, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ValidateExpense")
	defer span.End()

	if err := requireManager(actor, "validate expense"); err != nil {
		return nil, err
	}

	existing, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if domain.NormalizeStatus(existing.Status) == domain.StatusValidated {
		return s.expenseView(ctx, existing)
	}

	if err := s.store.UpdateExpense(ctx, id, map[string]any{
		"status": string(domain.StatusValidated),
	}); err != nil {
		return nil, err
	}

	s.logger.Info("expense validated",
		zap.String("expense_id", id),
		zap.String("validated_by", actor.UserID),
	)

	existing.Status = string(domain.StatusValidated)
	return s.expenseView(ctx, existing)
}

// FlagExpenseAsDebt marks a pending expense as debt. Validated expenses are
// terminal and cannot be flagged.
func (s *LedgerService) FlagExpenseAsDebt(ctx context.Context, actor domain.ActorContext, id string) (*domain.ExpenseView, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.FlagExpenseAsDebt")
	defer span.End()

	if err := requireManager(actor, "flag expense as debt"); err != nil {
		return nil, err
	}

	existing, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if domain.NormalizeStatus(existing.Status) == domain.StatusValidated {
		return nil, &domain.ErrValidation{Field: "status", Message: "validated expenses cannot be flagged as debt"}
	}

	if err := s.store.UpdateExpense(ctx, id, map[string]any{
		"status": string(domain.StatusDebt),
	}); err != nil {
		return nil, err
	}

	existing.Status = string(domain.StatusDebt)
	return s.expenseView(ctx, existing)
}
