// Package service provides the business logic layer (use cases).
// LedgerService executes the multi-step ledger protocols: every mutating
// operation is one business action carried out as several dependent writes
// against a store with no multi-document atomicity.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/kmessan/caisse-manager-go/internal/domain"
	"github.com/kmessan/caisse-manager-go/internal/infra/observability"
	"github.com/kmessan/caisse-manager-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ledgerTracer = otel.Tracer("service/ledger")

const debtCacheKey = "advance_debt"

// LedgerService orchestrates all ledger operations via the record store.
type LedgerService struct {
	store     port.LedgerStore
	debtCache port.Cache[float64]
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(store port.LedgerStore, debtCache port.Cache[float64], metrics *observability.Metrics, logger *zap.Logger) *LedgerService {
	return &LedgerService{store: store, debtCache: debtCache, metrics: metrics, logger: logger}
}

// requireManager gates every mutating entry point on the capability decision
// made by the auth layer. The service trusts it and checks nothing else.
func requireManager(actor domain.ActorContext, action string) error {
	if !actor.CanManage {
		return &domain.ErrForbidden{Action: action}
	}
	return nil
}

// snapshot is one consistent-enough read of the whole record set. The four
// collections are fetched concurrently; a read observed mid-mutation may be
// transiently inconsistent, which callers tolerate by recomputing on the
// next load.
type snapshot struct {
	inflows        []domain.CashInflow
	expenses       []domain.Expense
	items          []domain.ExpenseItem
	reimbursements []domain.Reimbursement
}

func (s *LedgerService) loadSnapshot(ctx context.Context) (*snapshot, error) {
	var snap snapshot

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.store.ListInflows(ctx, "")
		snap.inflows = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.store.ListExpenses(ctx, "")
		snap.expenses = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.store.ListAllItems(ctx)
		snap.items = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.store.ListReimbursements(ctx)
		snap.reimbursements = rows
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// adjustProjectAggregates applies a delta to a project's cached aggregate
// fields. totalIncome is floored at zero so that deleting an inflow larger
// than the cached value never drives it negative. A missing project is a
// tolerated degraded state: the primary record exists either way, and the
// cache can always be rebuilt from raw records.
func (s *LedgerService) adjustProjectAggregates(ctx context.Context, projectID string, incomeDelta, expenseDelta float64) error {
	proj, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			s.logger.Warn("project missing, aggregate adjustment skipped",
				zap.String("project_id", projectID),
			)
			return nil
		}
		return err
	}

	newIncome := proj.TotalIncome + incomeDelta
	if newIncome < 0 {
		newIncome = 0
	}

	return s.store.UpdateProject(ctx, projectID, map[string]any{
		"balance":        proj.Balance + incomeDelta - expenseDelta,
		"total_income":   newIncome,
		"total_expenses": proj.TotalExpenses + expenseDelta,
		"updated_at":     time.Now().Format(time.RFC3339),
	})
}

// partialFailure records and wraps a failure that happened after an earlier
// write of the same operation already persisted. Nothing is rolled back;
// the cached aggregates are recoverable by recomputation.
func (s *LedgerService) partialFailure(op, step string, err error) error {
	s.metrics.IncrPartialFailure(op, step)
	s.logger.Error("ledger operation left partially applied",
		zap.String("operation", op),
		zap.String("step", step),
		zap.Error(err),
	)
	return &domain.ErrPartialFailure{Op: op, Step: step, Err: err}
}

// ============================================================
// Projects
// ============================================================

func (s *LedgerService) ListProjects(ctx context.Context) ([]domain.Project, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListProjects")
	defer span.End()

	return s.store.ListProjects(ctx)
}

func (s *LedgerService) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetProject")
	defer span.End()

	return s.store.GetProject(ctx, id)
}

func (s *LedgerService) CreateProject(ctx context.Context, actor domain.ActorContext, req *domain.ProjectRequest) (*domain.Project, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.CreateProject")
	defer span.End()

	if err := requireManager(actor, "create project"); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	if req.StartDate != "" {
		if _, ok := domain.ParseRecordDate(req.StartDate); !ok {
			return nil, &domain.ErrValidation{Field: "startDate", Message: "invalid format, use YYYY-MM-DD"}
		}
	}

	proj, err := s.store.CreateProject(ctx, map[string]any{
		"name":           req.Name,
		"description":    req.Description,
		"start_date":     req.StartDate,
		"end_date":       req.EndDate,
		"balance":        0.0,
		"total_income":   0.0,
		"total_expenses": 0.0,
		"updated_at":     time.Now().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("failed to create project", zap.Error(err))
		return nil, err
	}

	s.logger.Info("project created",
		zap.String("project_id", proj.ID),
		zap.String("name", proj.Name),
		zap.String("created_by", actor.UserID),
	)
	return proj, nil
}

func (s *LedgerService) UpdateProject(ctx context.Context, actor domain.ActorContext, id string, req *domain.ProjectRequest) error {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.UpdateProject")
	defer span.End()

	if err := requireManager(actor, "update project"); err != nil {
		return err
	}
	if _, err := s.store.GetProject(ctx, id); err != nil {
		return err
	}

	return s.store.UpdateProject(ctx, id, map[string]any{
		"name":        req.Name,
		"description": req.Description,
		"start_date":  req.StartDate,
		"end_date":    req.EndDate,
		"updated_at":  time.Now().Format(time.RFC3339),
	})
}

// RecomputeProjectAggregates rebuilds one project's cached aggregates from
// the raw inflow/expense records and overwrites the cache. This is the
// reconciliation path: the recomputed values are authoritative.
func (s *LedgerService) RecomputeProjectAggregates(ctx context.Context, projectID string) (*domain.Totals, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.RecomputeProjectAggregates")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", projectID))

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	totals := domain.ProjectTotals(projectID, snap.inflows, snap.expenses, snap.items)
	if err := s.store.UpdateProject(ctx, projectID, map[string]any{
		"balance":        totals.Balance,
		"total_income":   totals.Income,
		"total_expenses": totals.Expenses,
		"updated_at":     time.Now().Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	s.metrics.IncrReconciliation()
	s.logger.Info("project aggregates recomputed",
		zap.String("project_id", projectID),
		zap.Float64("income", totals.Income),
		zap.Float64("expenses", totals.Expenses),
		zap.Float64("balance", totals.Balance),
	)
	return &totals, nil
}

// ============================================================
// Dashboard
// ============================================================

// Dashboard recomputes the global figures from raw records. With a date
// window, records with unparseable dates are excluded from the filtered
// totals; without one, everything counts. On an unfiltered load, cached
// project aggregates that drifted from the recomputed truth are overwritten
// best-effort.
func (s *LedgerService) Dashboard(ctx context.Context, from, to string) (*domain.DashboardSummary, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Dashboard")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration("dashboard", time.Since(start)) }()

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	inflows, expenses := snap.inflows, snap.expenses
	var period *domain.SummaryPeriod
	if from != "" || to != "" {
		fromT, okFrom := domain.ParseRecordDate(from)
		toT, okTo := domain.ParseRecordDate(to)
		if from != "" && !okFrom {
			return nil, &domain.ErrValidation{Field: "from", Message: "invalid format, use YYYY-MM-DD"}
		}
		if to != "" && !okTo {
			return nil, &domain.ErrValidation{Field: "to", Message: "invalid format, use YYYY-MM-DD"}
		}
		inflows = domain.InflowsInPeriod(inflows, fromT, toT)
		expenses = domain.ExpensesInPeriod(expenses, fromT, toT)
		period = &domain.SummaryPeriod{From: from, To: to}
	}

	summary := &domain.DashboardSummary{
		TotalIncome:      domain.TotalIncome(inflows),
		TotalExpenses:    domain.TotalExpenses(expenses, snap.items),
		GlobalBalance:    domain.GlobalBalance(inflows, expenses, snap.items),
		EffectiveBalance: domain.EffectiveBalance(inflows, expenses, snap.items),
		AdvanceDebt:      domain.AdvanceDebt(snap.inflows, snap.reimbursements),
		Period:           period,
	}

	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	summary.Projects = make([]domain.ProjectSummary, 0, len(projects))
	for _, p := range projects {
		totals := domain.ProjectTotals(p.ID, inflows, expenses, snap.items)
		summary.Projects = append(summary.Projects, domain.ProjectSummary{
			ProjectID: p.ID,
			Name:      p.Name,
			Income:    totals.Income,
			Expenses:  totals.Expenses,
			Balance:   totals.Balance,
		})

		// Reconcile drifted caches, but only against the full record set.
		if period == nil && (p.Balance != totals.Balance || p.TotalIncome != totals.Income || p.TotalExpenses != totals.Expenses) {
			s.logger.Warn("cached project aggregates drifted, reconciling",
				zap.String("project_id", p.ID),
				zap.Float64("cached_balance", p.Balance),
				zap.Float64("recomputed_balance", totals.Balance),
			)
			if updErr := s.store.UpdateProject(ctx, p.ID, map[string]any{
				"balance":        totals.Balance,
				"total_income":   totals.Income,
				"total_expenses": totals.Expenses,
				"updated_at":     time.Now().Format(time.RFC3339),
			}); updErr != nil {
				s.logger.Error("failed to reconcile project aggregates",
					zap.String("project_id", p.ID),
					zap.Error(updErr),
				)
			} else {
				s.metrics.IncrReconciliation()
			}
		}
	}

	return summary, nil
}
