// Package domain holds the ledger entities and the pure balance rules.
package domain

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date format used on every ledger record.
// Records carry no time component.
const DateLayout = "2006-01-02"

// RepaymentProjectID is the reserved project that receives the expense
// synthesized for every advance reimbursement, so repayments show up in
// expense-side reporting.
const RepaymentProjectID = "advance-repayment"

// ============================================================
// Cash inflows
// ============================================================

// InflowSource tags where a cash inflow came from.
type InflowSource string

const (
	SourceBank     InflowSource = "bank"
	SourceCash     InflowSource = "cash"
	SourceTransfer InflowSource = "transfer"
	SourceAdvance  InflowSource = "advance"
	SourceOther    InflowSource = "other"
)

// Known reports whether the source belongs to the fixed tag set.
func (s InflowSource) Known() bool {
	switch s {
	case SourceBank, SourceCash, SourceTransfer, SourceAdvance, SourceOther:
		return true
	}
	return false
}

// IsAdvance reports whether the inflow draws on the revolving advance account.
func (s InflowSource) IsAdvance() bool { return s == SourceAdvance }

// CashInflow is a positive cash movement into the organization.
type CashInflow struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"`
	Amount      float64   `json:"amount"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	ProjectID   string    `json:"project_id"`
	CreatedByID string    `json:"created_by_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// ============================================================
// Expenses and line items
// ============================================================

// ExpenseStatus is the normalized expense validation state.
type ExpenseStatus string

const (
	StatusPending   ExpenseStatus = "pending"
	StatusValidated ExpenseStatus = "validated"
	StatusDebt      ExpenseStatus = "debt"
)

// NormalizeStatus converts the legacy status string variants to the enum.
// Historical records carry "valid", "true" or "danger"; normalization happens
// once at read time so the balance rules never string-match.
func NormalizeStatus(raw string) ExpenseStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "validated", "valid", "true":
		return StatusValidated
	case "debt", "danger":
		return StatusDebt
	default:
		return StatusPending
	}
}

// Expense is a spending event owning a set of ExpenseItem lines.
// Its total amount is never stored; it is always recomputed from the items.
type Expense struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"`
	Description string    `json:"description"`
	ProjectID   string    `json:"project_id"`
	CreatedByID string    `json:"created_by_id"`
	Status      string    `json:"status"`
	Reference   string    `json:"reference"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExpenseItem is one purchased article or service line.
// AmountGiven is the cash actually handed over for the line and may differ
// from Quantity×UnitPrice (an advance to the supplier, or a partial payment).
type ExpenseItem struct {
	ID          string  `json:"id"`
	ExpenseID   string  `json:"expense_id"`
	Designation string  `json:"designation"`
	Reference   string  `json:"reference"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unit_price"`
	Supplier    string  `json:"supplier"`
	AmountGiven float64 `json:"amount_given"`
	Beneficiary string  `json:"beneficiary"`
}

// ============================================================
// Projects
// ============================================================

// Project is a named allocation bucket. Balance, TotalIncome and
// TotalExpenses are cached aggregates maintained by the ledger operations;
// they are a display hint, not a source of truth, and can always be rebuilt
// from the raw inflow/expense records.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	StartDate     string    `json:"start_date"`
	EndDate       string    `json:"end_date"`
	Balance       float64   `json:"balance"`
	TotalIncome   float64   `json:"total_income"`
	TotalExpenses float64   `json:"total_expenses"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ============================================================
// Reimbursements
// ============================================================

// Reimbursement is a payment reducing the advance-account debt.
type Reimbursement struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	CreatedByID string    `json:"created_by_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// ============================================================
// Actors & users
// ============================================================

// ActorContext identifies the user behind an operation and carries the
// capability decision made by the auth layer. It is passed explicitly into
// every mutating ledger operation; the service never reads ambient state.
type ActorContext struct {
	UserID    string
	Name      string
	Role      string
	CanManage bool
}

// User is an application account, loaded for login only.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	PasswordHash string `json:"password_hash"`
}

// ============================================================
// Requests & views
// ============================================================

// InflowRequest carries the user-editable fields of a cash inflow.
type InflowRequest struct {
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	Source      string  `json:"source"`
	Description string  `json:"description"`
	ProjectID   string  `json:"projectId"`
}

// ExpenseItemInput is one line of an expense create/update request.
type ExpenseItemInput struct {
	Designation string  `json:"designation"`
	Reference   string  `json:"reference"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	UnitPrice   float64 `json:"unitPrice"`
	Supplier    string  `json:"supplier"`
	AmountGiven float64 `json:"amountGiven"`
	Beneficiary string  `json:"beneficiary"`
}

// ExpenseRequest carries the user-editable fields of an expense, items
// included. On update the item set replaces the stored one wholesale.
type ExpenseRequest struct {
	Date        string             `json:"date"`
	Description string             `json:"description"`
	ProjectID   string             `json:"projectId"`
	Reference   string             `json:"reference"`
	Items       []ExpenseItemInput `json:"items"`
}

// ExpenseView joins an expense with its items and derived amounts.
type ExpenseView struct {
	Expense
	Items     []ExpenseItem `json:"items"`
	Total     float64       `json:"total"`
	Remainder float64       `json:"remainder"`
}

// ReimbursementRequest carries a new advance repayment.
type ReimbursementRequest struct {
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

// ProjectRequest carries the user-editable fields of a project.
type ProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
}

// ProjectSummary is one project's recomputed totals on the dashboard.
type ProjectSummary struct {
	ProjectID string  `json:"project_id"`
	Name      string  `json:"name"`
	Income    float64 `json:"income"`
	Expenses  float64 `json:"expenses"`
	Balance   float64 `json:"balance"`
}

// SummaryPeriod is the optional date window of a dashboard summary.
type SummaryPeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DashboardSummary aggregates the whole ledger, recomputed from raw records.
type DashboardSummary struct {
	TotalIncome      float64          `json:"total_income"`
	TotalExpenses    float64          `json:"total_expenses"`
	GlobalBalance    float64          `json:"global_balance"`
	EffectiveBalance float64          `json:"effective_balance"`
	AdvanceDebt      float64          `json:"advance_debt"`
	Projects         []ProjectSummary `json:"projects"`
	Period           *SummaryPeriod   `json:"period,omitempty"`
}

// ServiceHealth is the probe result for one dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latency_ms"`
	LastChecked string `json:"last_checked"`
}

// HealthStatus aggregates dependency probes for GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

// LedgerMetrics is the health snapshot served by GET /v1/metrics/ledger.
type LedgerMetrics struct {
	TotalRequests   int64   `json:"total_requests"`
	ErrorRate       float64 `json:"error_rate"`
	PartialFailures int64   `json:"partial_failures"`
	Reconciliations int64   `json:"reconciliations"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	Period          string  `json:"period"`
}

// LoginRequest carries user credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued access token.
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Role        string `json:"role"`
}
