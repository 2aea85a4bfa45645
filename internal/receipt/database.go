package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mkaz/budgetlens/internal/ledger"
)

const (
	receiptBucket      = "receipts"
	statusIndexBucket  = "receipts_by_status"
	expenseBucket      = "expenses"
	expenseIndexBucket = "expenses_by_receipt"
)

// Store errors. ErrConflict is the expected outcome of losing a transition
// race and is not logged as an error by callers.
var (
	ErrNotFound = errors.New("receipt not found")
	ErrConflict = errors.New("receipt status conflict")
)

// DB defines the interface for receipt and expense persistence. All status
// mutations go through Transition or CompleteWithExpenses; the
// compare-and-swap there is the only concurrency control the pipeline needs.
type DB interface {
	// CreateReceipt inserts a new receipt. UploadedAt and UpdatedAt default
	// to now when unset.
	CreateReceipt(r *Receipt) error

	// GetReceipt retrieves a receipt by ID.
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts ordered by upload time ascending.
	ListReceipts() ([]*Receipt, error)

	// ListByStatus returns receipts in the given status ordered by upload
	// time ascending (oldest first).
	ListByStatus(status Status) ([]*Receipt, error)

	// Transition atomically moves a receipt from one status to another.
	// It returns ErrConflict without touching the record when the current
	// status differs from from. The optional update is applied inside the
	// same transaction.
	Transition(id string, from, to Status, update func(*Receipt)) error

	// CompleteWithExpenses writes the reconciled expenses and flips the
	// receipt from processing to completed in one transaction. On
	// ErrConflict or any write failure nothing is committed.
	CompleteWithExpenses(id string, expenses []*ledger.Expense) error

	// ListExpenses returns all expenses.
	ListExpenses() ([]*ledger.Expense, error)

	// ListExpensesByReceipt returns the expenses created from one receipt.
	ListExpensesByReceipt(receiptID string) ([]*ledger.Expense, error)

	// DeleteReceipt removes a receipt. Expenses created from it survive.
	DeleteReceipt(id string) error

	// Close closes the database connection.
	Close() error
}

// BoltDB implements the DB interface using BoltDB. bbolt serializes writers,
// so the status check and swap inside a single Update transaction is atomic
// across goroutines and processes.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptBucket, statusIndexBucket, expenseBucket, expenseIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// statusKey builds a status index key that sorts by upload time within a
// status. The NUL separators keep statuses from prefix-colliding.
func statusKey(status Status, uploadedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s\x00%020d\x00%s", status, uploadedAt.UnixNano(), id))
}

func statusPrefix(status Status) []byte {
	return []byte(string(status) + "\x00")
}

// CreateReceipt inserts a new receipt with its status index entry.
func (b *BoltDB) CreateReceipt(r *Receipt) error {
	now := time.Now()
	if r.UploadedAt.IsZero() {
		r.UploadedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := putReceipt(tx, r); err != nil {
			return err
		}
		return tx.Bucket([]byte(statusIndexBucket)).Put(statusKey(r.Status, r.UploadedAt, r.ID), []byte(r.ID))
	})
}

// GetReceipt retrieves a receipt by ID.
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var r *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		r, err = getReceipt(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListReceipts returns all receipts ordered by upload time ascending.
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		// The status index covers every receipt exactly once; walking it
		// per status keeps upload-time ordering within each group.
		for _, status := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
			group, err := listStatus(tx, status)
			if err != nil {
				return err
			}
			receipts = append(receipts, group...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// ListByStatus returns receipts in the given status, oldest first.
func (b *BoltDB) ListByStatus(status Status) ([]*Receipt, error) {
	var receipts []*Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		receipts, err = listStatus(tx, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// Transition performs the compare-and-swap status update.
func (b *BoltDB) Transition(id string, from, to Status, update func(*Receipt)) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("invalid status transition %q -> %q", from, to)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		r, err := getReceipt(tx, id)
		if err != nil {
			return err
		}
		if r.Status != from {
			return fmt.Errorf("%w: expected %q, found %q", ErrConflict, from, r.Status)
		}

		applyTransition(r, to, update)
		return reindexReceipt(tx, r, from)
	})
}

// CompleteWithExpenses flips processing -> completed and writes the expense
// records in the same transaction. Either everything commits or nothing does.
func (b *BoltDB) CompleteWithExpenses(id string, expenses []*ledger.Expense) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		r, err := getReceipt(tx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusProcessing {
			return fmt.Errorf("%w: expected %q, found %q", ErrConflict, StatusProcessing, r.Status)
		}

		eb := tx.Bucket([]byte(expenseBucket))
		ib := tx.Bucket([]byte(expenseIndexBucket))
		for _, e := range expenses {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshaling expense: %w", err)
			}
			if err := eb.Put([]byte(e.ID), data); err != nil {
				return err
			}
			if err := ib.Put([]byte(e.SourceReceiptID+"\x00"+e.ID), []byte(e.ID)); err != nil {
				return err
			}
		}

		applyTransition(r, StatusCompleted, func(r *Receipt) {
			r.ItemCount = len(expenses)
		})
		return reindexReceipt(tx, r, StatusProcessing)
	})
}

// ListExpenses returns all expenses.
func (b *BoltDB) ListExpenses() ([]*ledger.Expense, error) {
	expenses := make([]*ledger.Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(expenseBucket)).ForEach(func(k, v []byte) error {
			var e ledger.Expense
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			expenses = append(expenses, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// ListExpensesByReceipt returns the expenses created from one receipt.
func (b *BoltDB) ListExpensesByReceipt(receiptID string) ([]*ledger.Expense, error) {
	expenses := make([]*ledger.Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		eb := tx.Bucket([]byte(expenseBucket))
		c := tx.Bucket([]byte(expenseIndexBucket)).Cursor()
		prefix := []byte(receiptID + "\x00")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := eb.Get(v)
			if data == nil {
				continue
			}
			var e ledger.Expense
			if err := json.Unmarshal(data, &e); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			expenses = append(expenses, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// DeleteReceipt removes a receipt and its index entry. Expense records keep
// their source_receipt_id but are never cascade-deleted.
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		r, err := getReceipt(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(statusIndexBucket)).Delete(statusKey(r.Status, r.UploadedAt, r.ID)); err != nil {
			return err
		}
		return tx.Bucket([]byte(receiptBucket)).Delete([]byte(id))
	})
}

// Close closes the database connection.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func getReceipt(tx *bbolt.Tx, id string) (*Receipt, error) {
	data := tx.Bucket([]byte(receiptBucket)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}
	return &r, nil
}

func putReceipt(tx *bbolt.Tx, r *Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	return tx.Bucket([]byte(receiptBucket)).Put([]byte(r.ID), data)
}

func listStatus(tx *bbolt.Tx, status Status) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	c := tx.Bucket([]byte(statusIndexBucket)).Cursor()
	prefix := statusPrefix(status)
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		r, err := getReceipt(tx, string(v))
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// applyTransition mutates r for the new status. Moving back to pending
// (requeue or staleness sweep) clears the previous outcome; reaching a
// terminal state stamps ProcessedAt.
func applyTransition(r *Receipt, to Status, update func(*Receipt)) {
	now := time.Now()
	if update != nil {
		update(r)
	}
	r.Status = to
	r.UpdatedAt = now
	switch {
	case to == StatusPending:
		r.ErrorMessage = ""
		r.ItemCount = 0
		r.ProcessedAt = nil
	case to.Terminal():
		r.ProcessedAt = &now
	}
}

// reindexReceipt persists r and moves its status index entry.
func reindexReceipt(tx *bbolt.Tx, r *Receipt, from Status) error {
	idx := tx.Bucket([]byte(statusIndexBucket))
	if err := idx.Delete(statusKey(from, r.UploadedAt, r.ID)); err != nil {
		return err
	}
	if err := idx.Put(statusKey(r.Status, r.UploadedAt, r.ID), []byte(r.ID)); err != nil {
		return err
	}
	return putReceipt(tx, r)
}
