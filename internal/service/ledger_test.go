package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kmessan/caisse-manager-go/internal/domain"
	"github.com/kmessan/caisse-manager-go/internal/infra/cache"
	"github.com/kmessan/caisse-manager-go/internal/infra/observability"
	"github.com/kmessan/caisse-manager-go/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --- In-memory store mock ---

// memStore implements port.LedgerStore over maps. Individual methods can be
// made to fail via failOn to exercise partial-failure paths.
type memStore struct {
	mu             sync.Mutex
	inflows        map[string]domain.CashInflow
	expenses       map[string]domain.Expense
	items          map[string]domain.ExpenseItem
	reimbursements map[string]domain.Reimbursement
	projects       map[string]domain.Project
	failOn         map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		inflows:        map[string]domain.CashInflow{},
		expenses:       map[string]domain.Expense{},
		items:          map[string]domain.ExpenseItem{},
		reimbursements: map[string]domain.Reimbursement{},
		projects:       map[string]domain.Project{},
		failOn:         map[string]error{},
	}
}

func (m *memStore) fail(method string) error {
	if err, ok := m.failOn[method]; ok {
		return err
	}
	return nil
}

func rowString(row map[string]any, key string) string {
	v, _ := row[key].(string)
	return v
}

func rowFloat(row map[string]any, key string) float64 {
	v, _ := row[key].(float64)
	return v
}

func (m *memStore) ListInflows(_ context.Context, projectID string) ([]domain.CashInflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListInflows"); err != nil {
		return nil, err
	}
	out := []domain.CashInflow{}
	for _, in := range m.inflows {
		if projectID == "" || in.ProjectID == projectID {
			out = append(out, in)
		}
	}
	return out, nil
}

func (m *memStore) GetInflow(_ context.Context, id string) (*domain.CashInflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.inflows[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "inflow", ID: id}
	}
	return &in, nil
}

func (m *memStore) CreateInflow(_ context.Context, row map[string]any) (*domain.CashInflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateInflow"); err != nil {
		return nil, err
	}
	in := domain.CashInflow{
		ID:          rowString(row, "id"),
		Date:        rowString(row, "date"),
		Amount:      rowFloat(row, "amount"),
		Source:      rowString(row, "source"),
		Description: rowString(row, "description"),
		ProjectID:   rowString(row, "project_id"),
		CreatedByID: rowString(row, "created_by_id"),
		CreatedAt:   time.Now(),
	}
	m.inflows[in.ID] = in
	return &in, nil
}

func (m *memStore) UpdateInflow(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateInflow"); err != nil {
		return err
	}
	in, ok := m.inflows[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "inflow", ID: id}
	}
	if v, ok := fields["date"]; ok {
		in.Date = v.(string)
	}
	if v, ok := fields["amount"]; ok {
		in.Amount = v.(float64)
	}
	if v, ok := fields["source"]; ok {
		in.Source = v.(string)
	}
	if v, ok := fields["description"]; ok {
		in.Description = v.(string)
	}
	if v, ok := fields["project_id"]; ok {
		in.ProjectID = v.(string)
	}
	m.inflows[id] = in
	return nil
}

func (m *memStore) DeleteInflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteInflow"); err != nil {
		return err
	}
	delete(m.inflows, id)
	return nil
}

func (m *memStore) ListExpenses(_ context.Context, projectID string) ([]domain.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListExpenses"); err != nil {
		return nil, err
	}
	out := []domain.Expense{}
	for _, e := range m.expenses {
		if projectID == "" || e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) GetExpense(_ context.Context, id string) (*domain.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "expense", ID: id}
	}
	return &e, nil
}

func (m *memStore) CreateExpense(_ context.Context, row map[string]any) (*domain.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateExpense"); err != nil {
		return nil, err
	}
	e := domain.Expense{
		ID:          rowString(row, "id"),
		Date:        rowString(row, "date"),
		Description: rowString(row, "description"),
		ProjectID:   rowString(row, "project_id"),
		Reference:   rowString(row, "reference"),
		Status:      rowString(row, "status"),
		CreatedByID: rowString(row, "created_by_id"),
		CreatedAt:   time.Now(),
	}
	m.expenses[e.ID] = e
	return &e, nil
}

func (m *memStore) UpdateExpense(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateExpense"); err != nil {
		return err
	}
	e, ok := m.expenses[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "expense", ID: id}
	}
	if v, ok := fields["date"]; ok {
		e.Date = v.(string)
	}
	if v, ok := fields["description"]; ok {
		e.Description = v.(string)
	}
	if v, ok := fields["project_id"]; ok {
		e.ProjectID = v.(string)
	}
	if v, ok := fields["reference"]; ok {
		e.Reference = v.(string)
	}
	if v, ok := fields["status"]; ok {
		e.Status = v.(string)
	}
	m.expenses[id] = e
	return nil
}

func (m *memStore) DeleteExpense(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteExpense"); err != nil {
		return err
	}
	delete(m.expenses, id)
	return nil
}

func (m *memStore) ListItems(_ context.Context, expenseID string) ([]domain.ExpenseItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.ExpenseItem{}
	for _, it := range m.items {
		if it.ExpenseID == expenseID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) ListAllItems(_ context.Context) ([]domain.ExpenseItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListAllItems"); err != nil {
		return nil, err
	}
	out := []domain.ExpenseItem{}
	for _, it := range m.items {
		out = append(out, it)
	}
	return out, nil
}

func (m *memStore) CreateItem(_ context.Context, row map[string]any) (*domain.ExpenseItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateItem"); err != nil {
		return nil, err
	}
	it := domain.ExpenseItem{
		ID:          rowString(row, "id"),
		ExpenseID:   rowString(row, "expense_id"),
		Designation: rowString(row, "designation"),
		Reference:   rowString(row, "reference"),
		Quantity:    rowFloat(row, "quantity"),
		Unit:        rowString(row, "unit"),
		UnitPrice:   rowFloat(row, "unit_price"),
		Supplier:    rowString(row, "supplier"),
		AmountGiven: rowFloat(row, "amount_given"),
		Beneficiary: rowString(row, "beneficiary"),
	}
	m.items[it.ID] = it
	return &it, nil
}

func (m *memStore) DeleteItem(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteItem"); err != nil {
		return err
	}
	delete(m.items, id)
	return nil
}

func (m *memStore) ListReimbursements(_ context.Context) ([]domain.Reimbursement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListReimbursements"); err != nil {
		return nil, err
	}
	out := []domain.Reimbursement{}
	for _, r := range m.reimbursements {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) CreateReimbursement(_ context.Context, row map[string]any) (*domain.Reimbursement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateReimbursement"); err != nil {
		return nil, err
	}
	r := domain.Reimbursement{
		ID:          rowString(row, "id"),
		Date:        rowString(row, "date"),
		Amount:      rowFloat(row, "amount"),
		Description: rowString(row, "description"),
		CreatedByID: rowString(row, "created_by_id"),
		CreatedAt:   time.Now(),
	}
	m.reimbursements[r.ID] = r
	return &r, nil
}

func (m *memStore) ListProjects(_ context.Context) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListProjects"); err != nil {
		return nil, err
	}
	out := []domain.Project{}
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) GetProject(_ context.Context, id string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetProject"); err != nil {
		return nil, err
	}
	p, ok := m.projects[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "project", ID: id}
	}
	return &p, nil
}

func (m *memStore) CreateProject(_ context.Context, row map[string]any) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := domain.Project{
		ID:          uuid.New().String(),
		Name:        rowString(row, "name"),
		Description: rowString(row, "description"),
		StartDate:   rowString(row, "start_date"),
		EndDate:     rowString(row, "end_date"),
	}
	m.projects[p.ID] = p
	return &p, nil
}

func (m *memStore) UpdateProject(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateProject"); err != nil {
		return err
	}
	p, ok := m.projects[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "project", ID: id}
	}
	if v, ok := fields["name"]; ok {
		p.Name = v.(string)
	}
	if v, ok := fields["balance"]; ok {
		p.Balance = v.(float64)
	}
	if v, ok := fields["total_income"]; ok {
		p.TotalIncome = v.(float64)
	}
	if v, ok := fields["total_expenses"]; ok {
		p.TotalExpenses = v.(float64)
	}
	m.projects[id] = p
	return nil
}

// --- Test fixtures ---

var manager = domain.ActorContext{UserID: "u-1", Name: "Awa", Role: "manager", CanManage: true}
var viewer = domain.ActorContext{UserID: "u-2", Name: "Koffi", Role: "accountant", CanManage: false}

func newService(store *memStore) *service.LedgerService {
	return service.NewLedgerService(store, cache.New[float64](time.Minute), observability.NewMetrics(), zap.NewNop())
}

func seedProject(store *memStore, id string) {
	store.projects[id] = domain.Project{ID: id, Name: "Project " + id}
}

// --- Inflows ---

func TestCreateInflow_UpdatesProjectAggregates(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	inflow, err := svc.CreateInflow(context.Background(), manager, &domain.InflowRequest{
		Date: "2024-06-01", Amount: 1000, Source: "bank", ProjectID: "p1",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if inflow.ID == "" {
		t.Error("expected generated inflow id")
	}
	if inflow.CreatedByID != "u-1" {
		t.Errorf("expected creator u-1, got %s", inflow.CreatedByID)
	}

	p := store.projects["p1"]
	if p.Balance != 1000 || p.TotalIncome != 1000 {
		t.Errorf("expected balance/income 1000, got %v/%v", p.Balance, p.TotalIncome)
	}
}

func TestCreateInflow_RequiresManager(t *testing.T) {
	svc := newService(newMemStore())

	_, err := svc.CreateInflow(context.Background(), viewer, &domain.InflowRequest{
		Amount: 50, Source: "cash", ProjectID: "p1",
	})

	var forbidden *domain.ErrForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateInflow_RejectsBadInput(t *testing.T) {
	svc := newService(newMemStore())

	cases := []domain.InflowRequest{
		{Amount: -5, Source: "bank", ProjectID: "p1"},
		{Amount: 10, Source: "crypto", ProjectID: "p1"},
		{Amount: 10, Source: "bank"},
		{Amount: 10, Source: "bank", ProjectID: "p1", Date: "01/06/2024"},
	}
	for i, req := range cases {
		_, err := svc.CreateInflow(context.Background(), manager, &req)
		var validation *domain.ErrValidation
		if !errors.As(err, &validation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestCreateInflow_MissingProjectTolerated(t *testing.T) {
	store := newMemStore()
	svc := newService(store)

	inflow, err := svc.CreateInflow(context.Background(), manager, &domain.InflowRequest{
		Amount: 500, Source: "bank", ProjectID: "ghost",
	})
	if err != nil {
		t.Fatalf("missing project must not fail the inflow, got %v", err)
	}
	if _, ok := store.inflows[inflow.ID]; !ok {
		t.Error("inflow record must be persisted")
	}
}

func TestCreateInflow_PartialFailureThenRecompute(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	store.failOn["UpdateProject"] = errors.New("store down")
	inflow, err := svc.CreateInflow(context.Background(), manager, &domain.InflowRequest{
		Amount: 1000, Source: "bank", ProjectID: "p1",
	})

	var partial *domain.ErrPartialFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected ErrPartialFailure, got %v", err)
	}
	if partial.Step != "project_aggregates" {
		t.Errorf("expected failing step 'project_aggregates', got %q", partial.Step)
	}
	if inflow == nil {
		t.Fatal("the persisted inflow must be returned alongside the partial failure")
	}
	if _, ok := store.inflows[inflow.ID]; !ok {
		t.Fatal("inflow record must survive the partial failure")
	}
	if store.projects["p1"].TotalIncome != 0 {
		t.Error("aggregates must remain untouched after the failed step")
	}

	// Reconciliation converges to the derived truth.
	delete(store.failOn, "UpdateProject")
	totals, err := svc.RecomputeProjectAggregates(context.Background(), "p1")
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	if totals.Income != 1000 || totals.Balance != 1000 {
		t.Errorf("expected recomputed income/balance 1000, got %+v", totals)
	}
	if store.projects["p1"].TotalIncome != 1000 {
		t.Error("recompute must overwrite the cached aggregates")
	}
}

func TestUpdateInflow_MovesAmountBetweenProjects(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	seedProject(store, "p2")
	svc := newService(store)

	inflow, err := svc.CreateInflow(context.Background(), manager, &domain.InflowRequest{
		Amount: 500, Source: "bank", ProjectID: "p1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.UpdateInflow(context.Background(), manager, inflow.ID, &domain.InflowRequest{
		Amount: 300, Source: "bank", ProjectID: "p2",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	p1, p2 := store.projects["p1"], store.projects["p2"]
	if p1.TotalIncome != 0 || p1.Balance != 0 {
		t.Errorf("p1 should be emptied, got income=%v balance=%v", p1.TotalIncome, p1.Balance)
	}
	if p2.TotalIncome != 300 || p2.Balance != 300 {
		t.Errorf("p2 should hold 300, got income=%v balance=%v", p2.TotalIncome, p2.Balance)
	}
	if store.inflows[inflow.ID].ProjectID != "p2" {
		t.Error("inflow record must point at the new project")
	}
}

func TestDeleteInflow_FloorsIncomeAtZero(t *testing.T) {
	store := newMemStore()
	// Drifted cache: the stored aggregate is smaller than the inflow amount.
	store.projects["p1"] = domain.Project{ID: "p1", TotalIncome: 100, Balance: 100}
	store.inflows["in-1"] = domain.CashInflow{ID: "in-1", Amount: 500, Source: "bank", ProjectID: "p1"}
	svc := newService(store)

	if err := svc.DeleteInflow(context.Background(), manager, "in-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	p := store.projects["p1"]
	if p.TotalIncome != 0 {
		t.Errorf("totalIncome must be floored at 0, got %v", p.TotalIncome)
	}
	if _, ok := store.inflows["in-1"]; ok {
		t.Error("inflow must be deleted")
	}
}

// --- Expenses ---

func TestCreateExpense_ChargesProject(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	view, err := svc.CreateExpense(context.Background(), manager, &domain.ExpenseRequest{
		Date: "2024-06-02", ProjectID: "p1", Description: "site supplies",
		Items: []domain.ExpenseItemInput{
			{Designation: "cement", Quantity: 5, UnitPrice: 30},
			{Designation: "delivery", Quantity: 1, UnitPrice: 100, AmountGiven: 120},
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if view.Total != 250 {
		t.Errorf("expected derived total 250, got %v", view.Total)
	}
	if view.Remainder != 20 {
		t.Errorf("expected remainder 20, got %v", view.Remainder)
	}
	if domain.NormalizeStatus(view.Status) != domain.StatusPending {
		t.Errorf("new expenses start pending, got %q", view.Status)
	}

	p := store.projects["p1"]
	if p.TotalExpenses != 250 || p.Balance != -250 {
		t.Errorf("expected expenses 250 balance -250, got %v/%v", p.TotalExpenses, p.Balance)
	}
}

func TestCreateExpense_PartialFailureOnItems(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	store.failOn["CreateItem"] = errors.New("store down")
	_, err := svc.CreateExpense(context.Background(), manager, &domain.ExpenseRequest{
		ProjectID: "p1",
		Items:     []domain.ExpenseItemInput{{Designation: "cement", Quantity: 2, UnitPrice: 10}},
	})

	var partial *domain.ErrPartialFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected ErrPartialFailure, got %v", err)
	}
	if partial.Step != "expense_items" {
		t.Errorf("expected step 'expense_items', got %q", partial.Step)
	}
	if len(store.expenses) != 1 {
		t.Error("the expense record persisted before the item failure and must remain")
	}
}

func TestUpdateExpense_ReplacesItemSet(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	view, err := svc.CreateExpense(context.Background(), manager, &domain.ExpenseRequest{
		ProjectID: "p1",
		Items: []domain.ExpenseItemInput{
			{Designation: "a", Quantity: 1, UnitPrice: 100},
			{Designation: "b", Quantity: 1, UnitPrice: 50},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.UpdateExpense(context.Background(), manager, view.ID, &domain.ExpenseRequest{
		ProjectID: "p1",
		Items:     []domain.ExpenseItemInput{{Designation: "c", Quantity: 2, UnitPrice: 40}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Items) != 1 || updated.Total != 80 {
		t.Errorf("expected single replacement item totalling 80, got %+v", updated)
	}
	if len(store.items) != 1 {
		t.Errorf("old items must be deleted, %d rows remain", len(store.items))
	}
	if p := store.projects["p1"]; p.TotalExpenses != 80 {
		t.Errorf("expected project expenses 80, got %v", p.TotalExpenses)
	}
}

func TestDeleteExpense_RestoresAggregatesAndCascades(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	view, err := svc.CreateExpense(context.Background(), manager, &domain.ExpenseRequest{
		ProjectID: "p1",
		Items: []domain.ExpenseItemInput{
			{Designation: "cement", Quantity: 5, UnitPrice: 30},
			{Designation: "delivery", Quantity: 1, UnitPrice: 100},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.DeleteExpense(context.Background(), manager, view.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	p := store.projects["p1"]
	if p.TotalExpenses != 0 || p.Balance != 0 {
		t.Errorf("expected aggregates restored, got expenses=%v balance=%v", p.TotalExpenses, p.Balance)
	}
	if len(store.items) != 0 {
		t.Errorf("items must be cascade-deleted, %d remain", len(store.items))
	}
	if len(store.expenses) != 0 {
		t.Error("expense record must be deleted")
	}
}

func TestValidateExpense_TerminalAndIdempotent(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	view, err := svc.CreateExpense(context.Background(), manager, &domain.ExpenseRequest{
		ProjectID: "p1",
		Items:     []domain.ExpenseItemInput{{Designation: "a", Quantity: 1, UnitPrice: 10}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	validated, err := svc.ValidateExpense(context.Background(), manager, view.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if domain.NormalizeStatus(validated.Status) != domain.StatusValidated {
		t.Errorf("expected validated status, got %q", validated.Status)
	}

	// Validating again is a no-op.
	if _, err := svc.ValidateExpense(context.Background(), manager, view.ID); err != nil {
		t.Fatalf("second validate must be a no-op, got %v", err)
	}

	// A validated expense cannot be flagged as debt.
	_, err = svc.FlagExpenseAsDebt(context.Background(), manager, view.ID)
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected ErrValidation flagging a validated expense, got %v", err)
	}
}

func TestFlagExpenseAsDebt(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	view, err := svc.CreateExpense(context.Background(), manager, &domain.ExpenseRequest{
		ProjectID: "p1",
		Items:     []domain.ExpenseItemInput{{Designation: "a", Quantity: 1, UnitPrice: 10}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	flagged, err := svc.FlagExpenseAsDebt(context.Background(), manager, view.ID)
	if err != nil {
		t.Fatalf("flag: %v", err)
	}
	if domain.NormalizeStatus(flagged.Status) != domain.StatusDebt {
		t.Errorf("expected debt status, got %q", flagged.Status)
	}
}

// --- Advance account ---

func TestAdvanceDebt_MemoizedUntilInvalidated(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	if _, err := svc.CreateInflow(context.Background(), manager, &domain.InflowRequest{
		Amount: 300, Source: "advance", ProjectID: "p1",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	debt, err := svc.AdvanceDebt(context.Background())
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt != 300 {
		t.Fatalf("expected debt 300, got %v", debt)
	}

	// A direct store mutation is invisible while the memoized value lives.
	store.mu.Lock()
	store.inflows["sneaky"] = domain.CashInflow{ID: "sneaky", Amount: 100, Source: "advance"}
	store.mu.Unlock()

	debt, _ = svc.AdvanceDebt(context.Background())
	if debt != 300 {
		t.Fatalf("expected memoized debt 300, got %v", debt)
	}

	// A mutation through the service invalidates the memo.
	if _, err := svc.CreateInflow(context.Background(), manager, &domain.InflowRequest{
		Amount: 50, Source: "advance", ProjectID: "p1",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	debt, _ = svc.AdvanceDebt(context.Background())
	if debt != 450 {
		t.Fatalf("expected refreshed debt 450, got %v", debt)
	}
}

func TestRecordReimbursement_RejectsOverpayment(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	if _, err := svc.CreateInflow(context.Background(), manager, &domain.InflowRequest{
		Amount: 300, Source: "advance", ProjectID: "p1",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := svc.RecordReimbursement(context.Background(), manager, &domain.ReimbursementRequest{
		Date: "2024-06-10", Amount: 400,
	})
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(store.reimbursements) != 0 {
		t.Error("a rejected reimbursement must leave no record")
	}
	if len(store.expenses) != 0 {
		t.Error("a rejected reimbursement must synthesize no expense")
	}
}

func TestRecordReimbursement_SynthesizesRepaymentExpense(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	if _, err := svc.CreateInflow(context.Background(), manager, &domain.InflowRequest{
		Amount: 300, Source: "advance", ProjectID: "p1",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	reimb, err := svc.RecordReimbursement(context.Background(), manager, &domain.ReimbursementRequest{
		Date: "2024-06-10", Amount: 200, Description: "partial repayment",
	})
	if err != nil {
		t.Fatalf("reimburse: %v", err)
	}
	if reimb.Amount != 200 {
		t.Errorf("expected amount 200, got %v", reimb.Amount)
	}

	debt, _ := svc.AdvanceDebt(context.Background())
	if debt != 100 {
		t.Errorf("expected remaining debt 100, got %v", debt)
	}

	// The synthesized expense lands on the reserved repayment project with
	// a single 1 × amount item.
	var synthesized *domain.Expense
	for _, e := range store.expenses {
		if e.ProjectID == domain.RepaymentProjectID {
			exp := e
			synthesized = &exp
		}
	}
	if synthesized == nil {
		t.Fatal("expected a synthesized repayment expense")
	}
	items, _ := store.ListItems(context.Background(), synthesized.ID)
	if len(items) != 1 || items[0].Quantity != 1 || items[0].UnitPrice != 200 {
		t.Errorf("expected one 1×200 item, got %+v", items)
	}
}

func TestRecordReimbursement_RepayToZeroThenReject(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)
	ctx := context.Background()

	if _, err := svc.CreateInflow(ctx, manager, &domain.InflowRequest{
		Amount: 1000, Source: "advance", ProjectID: "p1",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.RecordReimbursement(ctx, manager, &domain.ReimbursementRequest{Amount: 300}); err != nil {
		t.Fatalf("first repayment: %v", err)
	}
	if debt, _ := svc.AdvanceDebt(ctx); debt != 700 {
		t.Fatalf("expected debt 700, got %v", debt)
	}

	if _, err := svc.RecordReimbursement(ctx, manager, &domain.ReimbursementRequest{Amount: 700}); err != nil {
		t.Fatalf("second repayment: %v", err)
	}
	if debt, _ := svc.AdvanceDebt(ctx); debt != 0 {
		t.Fatalf("expected debt 0, got %v", debt)
	}

	_, err := svc.RecordReimbursement(ctx, manager, &domain.ReimbursementRequest{Amount: 1})
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected rejection once the debt reached zero, got %v", err)
	}
}

func TestRecordReimbursement_PartialFailureOnExpense(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)

	if _, err := svc.CreateInflow(context.Background(), manager, &domain.InflowRequest{
		Amount: 300, Source: "advance", ProjectID: "p1",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	store.failOn["CreateExpense"] = errors.New("store down")
	reimb, err := svc.RecordReimbursement(context.Background(), manager, &domain.ReimbursementRequest{
		Amount: 100,
	})

	var partial *domain.ErrPartialFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected ErrPartialFailure, got %v", err)
	}
	if partial.Step != "repayment_expense" {
		t.Errorf("expected step 'repayment_expense', got %q", partial.Step)
	}
	if reimb == nil || len(store.reimbursements) != 1 {
		t.Fatal("the reimbursement itself persisted and must be returned")
	}

	// The debt still reflects the persisted reimbursement.
	debt, _ := svc.AdvanceDebt(context.Background())
	if debt != 200 {
		t.Errorf("expected debt 200, got %v", debt)
	}
}

// --- Dashboard ---

func TestDashboard_GlobalAndEffectiveBalances(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)
	ctx := context.Background()

	if _, err := svc.CreateInflow(ctx, manager, &domain.InflowRequest{
		Date: "2024-06-01", Amount: 1000, Source: "bank", ProjectID: "p1",
	}); err != nil {
		t.Fatalf("inflow: %v", err)
	}

	validatedExp, err := svc.CreateExpense(ctx, manager, &domain.ExpenseRequest{
		Date: "2024-06-02", ProjectID: "p1",
		Items: []domain.ExpenseItemInput{{Designation: "a", Quantity: 3, UnitPrice: 100}},
	})
	if err != nil {
		t.Fatalf("expense: %v", err)
	}
	if _, err := svc.ValidateExpense(ctx, manager, validatedExp.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if _, err := svc.CreateExpense(ctx, manager, &domain.ExpenseRequest{
		Date: "2024-06-03", ProjectID: "p1",
		Items: []domain.ExpenseItemInput{{Designation: "b", Quantity: 2, UnitPrice: 100}},
	}); err != nil {
		t.Fatalf("expense: %v", err)
	}

	summary, err := svc.Dashboard(ctx, "", "")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if summary.TotalIncome != 1000 || summary.TotalExpenses != 500 {
		t.Errorf("expected income 1000 expenses 500, got %v/%v", summary.TotalIncome, summary.TotalExpenses)
	}
	if summary.GlobalBalance != 500 {
		t.Errorf("expected global balance 500, got %v", summary.GlobalBalance)
	}
	if summary.EffectiveBalance != 700 {
		t.Errorf("expected effective balance 700 (pending excluded), got %v", summary.EffectiveBalance)
	}
}

func TestDashboard_PeriodFilter(t *testing.T) {
	store := newMemStore()
	seedProject(store, "p1")
	svc := newService(store)
	ctx := context.Background()

	for _, in := range []domain.InflowRequest{
		{Date: "2024-01-15", Amount: 100, Source: "bank", ProjectID: "p1"},
		{Date: "2024-02-15", Amount: 200, Source: "bank", ProjectID: "p1"},
		{Date: "2024-03-15", Amount: 400, Source: "bank", ProjectID: "p1"},
	} {
		req := in
		if _, err := svc.CreateInflow(ctx, manager, &req); err != nil {
			t.Fatalf("inflow: %v", err)
		}
	}

	summary, err := svc.Dashboard(ctx, "2024-02-01", "2024-02-28")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if summary.TotalIncome != 200 {
		t.Errorf("expected filtered income 200, got %v", summary.TotalIncome)
	}
	if summary.Period == nil || summary.Period.From != "2024-02-01" {
		t.Errorf("expected period echoed back, got %+v", summary.Period)
	}

	if _, err := svc.Dashboard(ctx, "bad-date", ""); err == nil {
		t.Error("expected validation error for malformed from date")
	}
}

func TestDashboard_ReconcilesDriftedAggregates(t *testing.T) {
	store := newMemStore()
	store.projects["p1"] = domain.Project{ID: "p1", Balance: 999, TotalIncome: 999}
	store.inflows["in-1"] = domain.CashInflow{ID: "in-1", Date: "2024-06-01", Amount: 100, Source: "bank", ProjectID: "p1"}
	svc := newService(store)

	summary, err := svc.Dashboard(context.Background(), "", "")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(summary.Projects) != 1 || summary.Projects[0].Income != 100 {
		t.Fatalf("expected recomputed project income 100, got %+v", summary.Projects)
	}
	if p := store.projects["p1"]; p.TotalIncome != 100 || p.Balance != 100 {
		t.Errorf("drifted cache must be overwritten, got income=%v balance=%v", p.TotalIncome, p.Balance)
	}
}
