// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/kmessan/caisse-manager-go/internal/domain"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// LedgerStore defines all data operations over the five ledger collections.
// Implemented by the Supabase adapter (or any other persistence layer).
// No multi-document transaction guarantee is assumed: callers sequence their
// writes and must tolerate partial completion.
type LedgerStore interface {
	// Cash inflows
	ListInflows(ctx context.Context, projectID string) ([]domain.CashInflow, error)
	GetInflow(ctx context.Context, id string) (*domain.CashInflow, error)
	CreateInflow(ctx context.Context, row map[string]any) (*domain.CashInflow, error)
	UpdateInflow(ctx context.Context, id string, fields map[string]any) error
	DeleteInflow(ctx context.Context, id string) error

	// Expenses
	ListExpenses(ctx context.Context, projectID string) ([]domain.Expense, error)
	GetExpense(ctx context.Context, id string) (*domain.Expense, error)
	CreateExpense(ctx context.Context, row map[string]any) (*domain.Expense, error)
	UpdateExpense(ctx context.Context, id string, fields map[string]any) error
	DeleteExpense(ctx context.Context, id string) error

	// Expense items
	ListItems(ctx context.Context, expenseID string) ([]domain.ExpenseItem, error)
	ListAllItems(ctx context.Context) ([]domain.ExpenseItem, error)
	CreateItem(ctx context.Context, row map[string]any) (*domain.ExpenseItem, error)
	DeleteItem(ctx context.Context, id string) error

	// Reimbursements
	ListReimbursements(ctx context.Context) ([]domain.Reimbursement, error)
	CreateReimbursement(ctx context.Context, row map[string]any) (*domain.Reimbursement, error)

	// Projects
	ListProjects(ctx context.Context) ([]domain.Project, error)
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	CreateProject(ctx context.Context, row map[string]any) (*domain.Project, error)
	UpdateProject(ctx context.Context, id string, fields map[string]any) error
}

// AuthStore looks up application accounts for the auth service.
type AuthStore interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}
