package receipt

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkaz/budgetlens/internal/ledger"
)

// IDGenerator generates unique IDs for receipts.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates UUIDs. Uploads can arrive concurrently, so
// IDs must not be derived from the clock.
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time.
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service is the ingestion boundary: it accepts uploads, records them as
// pending, and exposes status queries and requeue to the outside. Actual
// extraction is the job supervisor's business.
type Service struct {
	db          DB
	images      ImageStore
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source.
func NewService(db DB, images ImageStore) *Service {
	return NewServiceWithDeps(db, images, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing.
func NewServiceWithDeps(db DB, images ImageStore, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		images:      images,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	filenameStripRe    = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpacesRe   = regexp.MustCompile(`\s+`)
	maxFilenameBaseLen = 50
)

// sanitizeFilename cleans up phone-generated upload names for display.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = filenameStripRe.ReplaceAllString(base, "")
	base = filenameSpacesRe.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > maxFilenameBaseLen {
		base = base[:maxFilenameBaseLen]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// SubmitReceipt stores the uploaded bytes and records a pending receipt.
// The caller is expected to have done basic format and size checks; invalid
// image bytes surface later as a failed extraction, not an upload error.
func (s *Service) SubmitReceipt(filename string, data []byte, contentType string) (*Receipt, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload")
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()
	cleanName := sanitizeFilename(filename)
	storedPath := id + strings.ToLower(filepath.Ext(cleanName))

	if err := s.images.Put(storedPath, data); err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	r := &Receipt{
		ID:          id,
		Filename:    cleanName,
		ContentType: strings.ToLower(strings.TrimSpace(contentType)),
		StoredPath:  storedPath,
		Status:      StatusPending,
		UploadedAt:  now,
		UpdatedAt:   now,
	}

	if err := s.db.CreateReceipt(r); err != nil {
		// Don't orphan the file when the metadata write fails
		if derr := s.images.Delete(storedPath); derr != nil {
			slog.Warn("Failed to clean up stored file", "path", storedPath, "error", derr)
		}
		return nil, fmt.Errorf("creating receipt: %w", err)
	}

	slog.Info("Receipt submitted", "id", id, "filename", cleanName, "size", len(data))
	return r, nil
}

// GetReceipt retrieves a receipt by ID.
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	return s.db.GetReceipt(id)
}

// ListReceipts returns receipts, optionally filtered by status. An empty
// status means all receipts.
func (s *Service) ListReceipts(status Status) ([]*Receipt, error) {
	if status == "" {
		return s.db.ListReceipts()
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	return s.db.ListByStatus(status)
}

// Requeue resets a failed receipt to pending for re-processing. Anything not
// in failed reports ErrConflict and is left alone.
func (s *Service) Requeue(id string) error {
	if err := s.db.Transition(id, StatusFailed, StatusPending, nil); err != nil {
		return err
	}
	slog.Info("Receipt requeued", "id", id)
	return nil
}

// DeleteReceipt removes a receipt and its stored image. Expenses created
// from it are left in the ledger.
func (s *Service) DeleteReceipt(id string) error {
	r, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.images.Delete(r.StoredPath); err != nil {
		// The metadata is what matters; a leaked file is only noise
		slog.Warn("Failed to delete stored file", "path", r.StoredPath, "error", err)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt: %w", err)
	}
	return nil
}

// ListExpenses returns every reconciled expense in the ledger.
func (s *Service) ListExpenses() ([]*ledger.Expense, error) {
	return s.db.ListExpenses()
}

// ExpensesForReceipt returns the expenses reconciled from one receipt.
func (s *Service) ExpensesForReceipt(id string) ([]*ledger.Expense, error) {
	if _, err := s.db.GetReceipt(id); err != nil {
		return nil, err
	}
	return s.db.ListExpensesByReceipt(id)
}

// GetReceiptFile retrieves the stored bytes and content type for a receipt.
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	r, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", err
	}

	data, err := s.images.Get(r.StoredPath)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, r.ContentType, nil
}
