package ledger

import "time"

// ExpenseType is the fixed set of expense categories the ledger understands.
type ExpenseType string

const (
	TypeGroceries     ExpenseType = "groceries"
	TypeDining        ExpenseType = "dining"
	TypeTransport     ExpenseType = "transport"
	TypeUtilities     ExpenseType = "utilities"
	TypeHealth        ExpenseType = "health"
	TypeEntertainment ExpenseType = "entertainment"
	TypeHousehold     ExpenseType = "household"
	TypeMisc          ExpenseType = "misc"
)

// Expense is a ledger entry created from a reconciled receipt line item.
// SourceReceiptID is a weak reference: deleting the receipt leaves the
// expense in place.
type Expense struct {
	ID              string      `json:"id"`
	Description     string      `json:"description"`
	Amount          int         `json:"amount"` // Amount in cents
	Date            time.Time   `json:"date"`
	Type            ExpenseType `json:"type"`
	SourceReceiptID string      `json:"source_receipt_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}
