package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance rules. Everything in this file is a pure derivation over a
// snapshot of records: no store access, no mutation. Monetary accumulation
// runs on decimals so repeated add/remove cycles never drift; results are
// exposed as float64 like the rest of the domain.

// ItemTotal is the billed amount of one line: quantity × unit price.
func ItemTotal(it ExpenseItem) float64 {
	f, _ := itemTotal(it).Float64()
	return f
}

// ItemRemainder is amountGiven − quantity×unitPrice. Positive means cash is
// owed back to the organization, negative means the supplier is still owed.
// Never persisted, always derived.
func ItemRemainder(it ExpenseItem) float64 {
	r := decimal.NewFromFloat(it.AmountGiven).Sub(itemTotal(it))
	f, _ := r.Float64()
	return f
}

func itemTotal(it ExpenseItem) decimal.Decimal {
	return decimal.NewFromFloat(it.Quantity).Mul(decimal.NewFromFloat(it.UnitPrice))
}

// TotalIncome sums all inflow amounts. Absent amounts count as zero.
func TotalIncome(inflows []CashInflow) float64 {
	sum := decimal.Zero
	for _, in := range inflows {
		sum = sum.Add(decimal.NewFromFloat(in.Amount))
	}
	f, _ := sum.Float64()
	return f
}

// TotalExpenses sums quantity×unitPrice over every item of every expense.
// An expense with no items contributes zero; an item whose expense is not in
// the snapshot is ignored.
func TotalExpenses(expenses []Expense, items []ExpenseItem) float64 {
	f, _ := expenseSum(expenses, items, false).Float64()
	return f
}

// ValidatedExpenseTotal is TotalExpenses restricted to validated expenses.
func ValidatedExpenseTotal(expenses []Expense, items []ExpenseItem) float64 {
	f, _ := expenseSum(expenses, items, true).Float64()
	return f
}

func expenseSum(expenses []Expense, items []ExpenseItem, validatedOnly bool) decimal.Decimal {
	included := make(map[string]bool, len(expenses))
	for _, e := range expenses {
		if validatedOnly && NormalizeStatus(e.Status) != StatusValidated {
			continue
		}
		included[e.ID] = true
	}

	sum := decimal.Zero
	for _, it := range items {
		if included[it.ExpenseID] {
			sum = sum.Add(itemTotal(it))
		}
	}
	return sum
}

// ExpenseTotal is the derived amount of a single expense.
func ExpenseTotal(items []ExpenseItem) float64 {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(itemTotal(it))
	}
	f, _ := sum.Float64()
	return f
}

// GlobalBalance is income minus ALL expenses, validated or not — the
// conservative worst-case view.
func GlobalBalance(inflows []CashInflow, expenses []Expense, items []ExpenseItem) float64 {
	return TotalIncome(inflows) - TotalExpenses(expenses, items)
}

// EffectiveBalance is income minus validated expenses only.
func EffectiveBalance(inflows []CashInflow, expenses []Expense, items []ExpenseItem) float64 {
	return TotalIncome(inflows) - ValidatedExpenseTotal(expenses, items)
}

// Totals is a recomputed income/expense/balance triple.
type Totals struct {
	Income   float64 `json:"income"`
	Expenses float64 `json:"expenses"`
	Balance  float64 `json:"balance"`
}

// ProjectTotals recomputes one project's totals from raw records. This is
// the authoritative path; the cached fields on Project only mirror it.
func ProjectTotals(projectID string, inflows []CashInflow, expenses []Expense, items []ExpenseItem) Totals {
	var projInflows []CashInflow
	for _, in := range inflows {
		if in.ProjectID == projectID {
			projInflows = append(projInflows, in)
		}
	}
	var projExpenses []Expense
	for _, e := range expenses {
		if e.ProjectID == projectID {
			projExpenses = append(projExpenses, e)
		}
	}

	income := TotalIncome(projInflows)
	spent := TotalExpenses(projExpenses, items)
	return Totals{Income: income, Expenses: spent, Balance: income - spent}
}

// AdvanceDebt nets advance-tagged inflows against all reimbursements,
// clamped at zero.
func AdvanceDebt(inflows []CashInflow, reimbursements []Reimbursement) float64 {
	drawn := decimal.Zero
	for _, in := range inflows {
		if InflowSource(in.Source).IsAdvance() {
			drawn = drawn.Add(decimal.NewFromFloat(in.Amount))
		}
	}
	repaid := decimal.Zero
	for _, r := range reimbursements {
		repaid = repaid.Add(decimal.NewFromFloat(r.Amount))
	}

	debt := drawn.Sub(repaid)
	if debt.IsNegative() {
		return 0
	}
	f, _ := debt.Float64()
	return f
}

// ParseRecordDate parses a record's calendar date. The second return value
// is false for missing or malformed dates; such records are excluded from
// date-filtered views but still count in unconditioned totals.
func ParseRecordDate(s string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// InflowsInPeriod keeps inflows whose date parses and falls in [from, to].
func InflowsInPeriod(inflows []CashInflow, from, to time.Time) []CashInflow {
	out := make([]CashInflow, 0, len(inflows))
	for _, in := range inflows {
		if d, ok := ParseRecordDate(in.Date); ok && inWindow(d, from, to) {
			out = append(out, in)
		}
	}
	return out
}

// ExpensesInPeriod keeps expenses whose date parses and falls in [from, to].
func ExpensesInPeriod(expenses []Expense, from, to time.Time) []Expense {
	out := make([]Expense, 0, len(expenses))
	for _, e := range expenses {
		if d, ok := ParseRecordDate(e.Date); ok && inWindow(d, from, to) {
			out = append(out, e)
		}
	}
	return out
}

func inWindow(d, from, to time.Time) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	if !to.IsZero() && d.After(to) {
		return false
	}
	return true
}
