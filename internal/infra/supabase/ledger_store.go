package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kmessan/caisse-manager-go/internal/domain"
	"github.com/kmessan/caisse-manager-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
)

// Ledger store — implements port.LedgerStore over five PostgREST tables:
// cash_inflows, expenses, expense_items, reimbursements, projects.

// getList fetches rows into out (a pointer to a slice), going through the
// circuit breaker and retry policy. An empty result is not an error here;
// the typed Get wrappers decide whether zero rows means not-found.
func (c *Client) getList(ctx context.Context, path, resource string, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doRequest(ctx, http.MethodGet, path)
			if err != nil {
				return err
			}
			if body == nil || string(body) == "[]" {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s: %w", resource, err)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &domain.ErrCircuitOpen{Service: "supabase/" + resource}
		}
		return &domain.ErrExternalService{Service: "supabase/" + resource, Err: err}
	}
	return nil
}

// insertRow posts one row and decodes the stored representation into out
// (a pointer to a slice of the record type). Writes are never retried.
func (c *Client) insertRow(ctx context.Context, table string, row map[string]any, out any) error {
	body, err := c.doPost(ctx, table, row)
	if err != nil {
		return &domain.ErrExternalService{Service: "supabase/" + table, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ErrExternalService{Service: "supabase/" + table, Err: fmt.Errorf("decode insert result: %w", err)}
	}
	return nil
}

// ============================================================
// Cash inflows
// ============================================================

func (c *Client) ListInflows(ctx context.Context, projectID string) ([]domain.CashInflow, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListInflows")
	defer span.End()

	path := "cash_inflows?order=created_at.desc"
	if projectID != "" {
		path = fmt.Sprintf("cash_inflows?project_id=eq.%s&order=created_at.desc", projectID)
	}

	var rows []domain.CashInflow
	if err := c.getList(ctx, path, "cash_inflows", &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.CashInflow{}
	}
	return rows, nil
}

func (c *Client) GetInflow(ctx context.Context, id string) (*domain.CashInflow, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetInflow")
	defer span.End()

	var rows []domain.CashInflow
	if err := c.getList(ctx, fmt.Sprintf("cash_inflows?id=eq.%s&limit=1", id), "cash_inflows", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "inflow", ID: id}
	}
	return &rows[0], nil
}

func (c *Client) CreateInflow(ctx context.Context, row map[string]any) (*domain.CashInflow, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateInflow")
	defer span.End()

	var results []domain.CashInflow
	if err := c.insertRow(ctx, "cash_inflows", row, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &domain.ErrExternalService{Service: "supabase/cash_inflows", Err: fmt.Errorf("no result returned from insert")}
	}
	return &results[0], nil
}

func (c *Client) UpdateInflow(ctx context.Context, id string, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateInflow")
	defer span.End()

	if err := c.doPatch(ctx, fmt.Sprintf("cash_inflows?id=eq.%s", id), fields); err != nil {
		return &domain.ErrExternalService{Service: "supabase/cash_inflows", Err: err}
	}
	return nil
}

func (c *Client) DeleteInflow(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteInflow")
	defer span.End()

	if err := c.doDelete(ctx, fmt.Sprintf("cash_inflows?id=eq.%s", id)); err != nil {
		return &domain.ErrExternalService{Service: "supabase/cash_inflows", Err: err}
	}
	return nil
}

// ============================================================
// Expenses
// ============================================================

func (c *Client) ListExpenses(ctx context.Context, projectID string) ([]domain.Expense, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListExpenses")
	defer span.End()

	path := "expenses?order=created_at.desc"
	if projectID != "" {
		path = fmt.Sprintf("expenses?project_id=eq.%s&order=created_at.desc", projectID)
	}

	var rows []domain.Expense
	if err := c.getList(ctx, path, "expenses", &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.Expense{}
	}
	return rows, nil
}

func (c *Client) GetExpense(ctx context.Context, id string) (*domain.Expense, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetExpense")
	defer span.End()

	var rows []domain.Expense
	if err := c.getList(ctx, fmt.Sprintf("expenses?id=eq.%s&limit=1", id), "expenses", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "expense", ID: id}
	}
	return &rows[0], nil
}

func (c *Client) CreateExpense(ctx context.Context, row map[string]any) (*domain.Expense, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateExpense")
	defer span.End()

	var results []domain.Expense
	if err := c.insertRow(ctx, "expenses", row, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &domain.ErrExternalService{Service: "supabase/expenses", Err: fmt.Errorf("no result returned from insert")}
	}
	return &results[0], nil
}

func (c *Client) UpdateExpense(ctx context.Context, id string, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateExpense")
	defer span.End()

	if err := c.doPatch(ctx, fmt.Sprintf("expenses?id=eq.%s", id), fields); err != nil {
		return &domain.ErrExternalService{Service: "supabase/expenses", Err: err}
	}
	return nil
}

func (c *Client) DeleteExpense(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteExpense")
	defer span.End()

	if err := c.doDelete(ctx, fmt.Sprintf("expenses?id=eq.%s", id)); err != nil {
		return &domain.ErrExternalService{Service: "supabase/expenses", Err: err}
	}
	return nil
}

// ============================================================
// Expense items
// ============================================================

func (c *Client) ListItems(ctx context.Context, expenseID string) ([]domain.ExpenseItem, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListItems")
	defer span.End()

	var rows []domain.ExpenseItem
	if err := c.getList(ctx, fmt.Sprintf("expense_items?expense_id=eq.%s", expenseID), "expense_items", &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.ExpenseItem{}
	}
	return rows, nil
}

func (c *Client) ListAllItems(ctx context.Context) ([]domain.ExpenseItem, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAllItems")
	defer span.End()

	var rows []domain.ExpenseItem
	if err := c.getList(ctx, "expense_items?limit=10000", "expense_items", &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.ExpenseItem{}
	}
	return rows, nil
}

func (c *Client) CreateItem(ctx context.Context, row map[string]any) (*domain.ExpenseItem, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateItem")
	defer span.End()

	var results []domain.ExpenseItem
	if err := c.insertRow(ctx, "expense_items", row, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &domain.ErrExternalService{Service: "supabase/expense_items", Err: fmt.Errorf("no result returned from insert")}
	}
	return &results[0], nil
}

func (c *Client) DeleteItem(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteItem")
	defer span.End()

	if err := c.doDelete(ctx, fmt.Sprintf("expense_items?id=eq.%s", id)); err != nil {
		return &domain.ErrExternalService{Service: "supabase/expense_items", Err: err}
	}
	return nil
}

// ============================================================
// Reimbursements
// ============================================================

func (c *Client) ListReimbursements(ctx context.Context) ([]domain.Reimbursement, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListReimbursements")
	defer span.End()

	var rows []domain.Reimbursement
	if err := c.getList(ctx, "reimbursements?order=created_at.desc", "reimbursements", &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.Reimbursement{}
	}
	return rows, nil
}

func (c *Client) CreateReimbursement(ctx context.Context, row map[string]any) (*domain.Reimbursement, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateReimbursement")
	defer span.End()

	var results []domain.Reimbursement
	if err := c.insertRow(ctx, "reimbursements", row, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &domain.ErrExternalService{Service: "supabase/reimbursements", Err: fmt.Errorf("no result returned from insert")}
	}
	return &results[0], nil
}

// ============================================================
// Projects
// ============================================================

func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProjects")
	defer span.End()

	var rows []domain.Project
	if err := c.getList(ctx, "projects?order=name.asc", "projects", &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.Project{}
	}
	return rows, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProject")
	defer span.End()

	var rows []domain.Project
	if err := c.getList(ctx, fmt.Sprintf("projects?id=eq.%s&limit=1", id), "projects", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "project", ID: id}
	}
	return &rows[0], nil
}

func (c *Client) CreateProject(ctx context.Context, row map[string]any) (*domain.Project, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateProject")
	defer span.End()

	var results []domain.Project
	if err := c.insertRow(ctx, "projects", row, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &domain.ErrExternalService{Service: "supabase/projects", Err: fmt.Errorf("no result returned from insert")}
	}
	return &results[0], nil
}

func (c *Client) UpdateProject(ctx context.Context, id string, fields map[string]any) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateProject")
	defer span.End()

	if err := c.doPatch(ctx, fmt.Sprintf("projects?id=eq.%s", id), fields); err != nil {
		return &domain.ErrExternalService{Service: "supabase/projects", Err: err}
	}
	return nil
}
