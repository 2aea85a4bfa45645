package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkaz/budgetlens/internal/extraction"
	"github.com/mkaz/budgetlens/internal/ledger"
	"github.com/mkaz/budgetlens/internal/receipt"
)

// Reconciler maps validated extraction items into ledger expenses and
// commits them together with the receipt's completed transition. The commit
// is all-or-nothing: a write failure leaves zero expenses behind.
type Reconciler struct {
	db receipt.DB
}

// NewReconciler creates a Reconciler backed by the given store.
func NewReconciler(db receipt.DB) *Reconciler {
	return &Reconciler{db: db}
}

// Reconcile persists one expense per item, each carrying the receipt ID as a
// weak back-reference, and flips the receipt to completed. It returns the
// number of expenses written.
func (r *Reconciler) Reconcile(rec *receipt.Receipt, items []extraction.Item) (int, error) {
	now := time.Now()
	expenses := make([]*ledger.Expense, 0, len(items))
	for _, item := range items {
		expenses = append(expenses, &ledger.Expense{
			ID:              uuid.NewString(),
			Description:     item.Description,
			Amount:          item.Amount,
			Date:            item.Date,
			Type:            ledger.TypeFromHint(item.CategoryHint),
			SourceReceiptID: rec.ID,
			CreatedAt:       now,
		})
	}

	if err := r.db.CompleteWithExpenses(rec.ID, expenses); err != nil {
		return 0, fmt.Errorf("committing expenses: %w", err)
	}
	return len(expenses), nil
}
