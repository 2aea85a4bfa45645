package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mkaz/budgetlens/internal/extraction"
	"github.com/mkaz/budgetlens/internal/receipt"
)

// Config holds the supervisor's tunables. Zero values fall back to the
// defaults below.
type Config struct {
	// Workers bounds concurrent extractions. The model call is the
	// bottleneck and providers rate-limit, so keep this small.
	Workers int
	// PollInterval is how often pending receipts are dispatched.
	PollInterval time.Duration
	// RetryAttempts is the total extraction attempts per job, including
	// the first.
	RetryAttempts int
	// InitialBackoff is the delay before the first retry; it doubles on
	// each subsequent one.
	InitialBackoff time.Duration
	// ExtractTimeout bounds a single model call inside the extractor and
	// sizes the per-job wall-clock budget here.
	ExtractTimeout time.Duration
	// StaleAfter is how long a receipt may sit in processing before the
	// sweep assumes its worker died and resets it to pending.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 2 * time.Second
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = extraction.DefaultTimeout
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	return c
}

// jobBudget is the wall clock allowed for one job's extraction attempts:
// every attempt at full timeout plus the backoff gaps between them.
func (c Config) jobBudget() time.Duration {
	budget := time.Duration(c.RetryAttempts) * c.ExtractTimeout
	gap := c.InitialBackoff
	for i := 1; i < c.RetryAttempts; i++ {
		budget += 2 * gap // headroom for backoff jitter
		gap *= 2
	}
	return budget
}

// Supervisor owns the pipeline's concurrency policy: it finds pending
// receipts, claims them with the store's compare-and-swap transition, and
// runs extraction, parsing, and reconciliation in a bounded worker pool.
// The CAS is the only duplicate-dispatch guard; there is no in-memory set
// of in-flight IDs to drift out of sync.
type Supervisor struct {
	db         receipt.DB
	images     receipt.ImageStore
	extractor  extraction.Extractor
	reconciler *Reconciler
	cfg        Config
}

// New creates a Supervisor.
func New(db receipt.DB, images receipt.ImageStore, extractor extraction.Extractor, cfg Config) *Supervisor {
	return &Supervisor{
		db:         db,
		images:     images,
		extractor:  extractor,
		reconciler: NewReconciler(db),
		cfg:        cfg.withDefaults(),
	}
}

// Run sweeps crash-orphaned receipts, then polls for pending work until ctx
// is canceled. It blocks until in-flight workers have drained.
func (s *Supervisor) Run(ctx context.Context) error {
	s.SweepStale()

	var workers errgroup.Group
	workers.SetLimit(s.cfg.Workers)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	lastSweep := time.Now()
	for {
		s.dispatch(ctx, &workers)

		select {
		case <-ctx.Done():
			slog.Info("Supervisor stopping, draining workers")
			workers.Wait()
			return nil
		case <-ticker.C:
			if time.Since(lastSweep) >= s.cfg.StaleAfter {
				s.SweepStale()
				lastSweep = time.Now()
			}
		}
	}
}

// dispatch hands pending receipts to the worker pool, oldest first. When the
// pool is full the rest stay pending for the next poll; nothing is claimed
// before a worker slot is available.
func (s *Supervisor) dispatch(ctx context.Context, workers *errgroup.Group) {
	pending, err := s.db.ListByStatus(receipt.StatusPending)
	if err != nil {
		slog.Error("Error listing pending receipts", "error", err)
		return
	}

	for _, r := range pending {
		if ctx.Err() != nil {
			return
		}
		id := r.ID
		if !workers.TryGo(func() error {
			s.process(ctx, id)
			return nil
		}) {
			return
		}
	}
}

// process runs one receipt through claim, extract, parse, and reconcile.
// Every failure below this point is absorbed into the receipt's terminal
// status; nothing propagates to the HTTP boundary.
func (s *Supervisor) process(ctx context.Context, id string) {
	if err := s.db.Transition(id, receipt.StatusPending, receipt.StatusProcessing, nil); err != nil {
		if errors.Is(err, receipt.ErrConflict) {
			// Another worker won the race; not an error
			return
		}
		slog.Error("Error claiming receipt", "id", id, "error", err)
		return
	}

	rec, err := s.db.GetReceipt(id)
	if err != nil {
		slog.Error("Error loading claimed receipt", "id", id, "error", err)
		return
	}

	slog.Info("Processing receipt", "id", id, "filename", rec.Filename)

	data, err := s.images.Get(rec.StoredPath)
	if err != nil {
		s.fail(id, fmt.Sprintf("stored image unavailable: %v", err))
		return
	}

	raw, err := s.extractWithRetry(ctx, data, rec.ContentType)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the attempt. Leave the receipt in
			// processing; the startup sweep reclaims it.
			slog.Info("Extraction interrupted by shutdown", "id", id)
			return
		}
		s.fail(id, err.Error())
		return
	}

	result, err := extraction.ParseItems(raw, rec.UploadedAt)
	if err != nil {
		s.fail(id, fmt.Sprintf("unusable model response: %v", err))
		return
	}
	for _, d := range result.Dropped {
		slog.Warn("Dropped extracted item", "id", id, "index", d.Index, "reason", d.Reason)
	}

	count, err := s.reconciler.Reconcile(rec, result.Items)
	if err != nil {
		if errors.Is(err, receipt.ErrConflict) {
			slog.Warn("Receipt progressed elsewhere during reconciliation", "id", id)
			return
		}
		s.fail(id, fmt.Sprintf("saving expenses: %v", err))
		return
	}

	slog.Info("Receipt completed", "id", id, "expenses", count, "dropped", len(result.Dropped))
}

// extractWithRetry calls the extractor, retrying transient failures with
// exponential backoff up to the retry budget. Only the extraction call is
// retried, never the whole job. The whole attempt loop runs under the job's
// wall-clock budget.
func (s *Supervisor) extractWithRetry(ctx context.Context, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.jobBudget())
	defer cancel()

	var raw string
	attempt := 0
	op := func() error {
		attempt++
		out, err := s.extractor.Extract(ctx, data, contentType)
		if err != nil {
			if !extraction.IsTransient(err) {
				return backoff.Permanent(err)
			}
			slog.Warn("Transient extraction failure", "attempt", attempt, "error", err)
			return err
		}
		raw = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxElapsedTime = 0 // the context deadline is the budget

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.RetryAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", fmt.Errorf("extraction failed after %d attempt(s): %w", attempt, err)
	}
	return raw, nil
}

// fail records the job failure on the receipt. If even that write fails the
// receipt stays in processing for the staleness sweep rather than risking an
// inconsistent status.
func (s *Supervisor) fail(id string, message string) {
	err := s.db.Transition(id, receipt.StatusProcessing, receipt.StatusFailed, func(r *receipt.Receipt) {
		r.ErrorMessage = message
	})
	if err != nil {
		if errors.Is(err, receipt.ErrConflict) {
			return
		}
		slog.Error("Error recording failure, leaving receipt for staleness sweep", "id", id, "error", err)
		return
	}
	slog.Warn("Receipt failed", "id", id, "reason", message)
}

// SweepStale resets receipts stuck in processing past the staleness
// threshold back to pending. A crash mid-job leaves exactly this state
// behind; the CAS transition keeps the sweep from racing live workers that
// finish at the same moment.
func (s *Supervisor) SweepStale() {
	processing, err := s.db.ListByStatus(receipt.StatusProcessing)
	if err != nil {
		slog.Error("Error listing processing receipts for sweep", "error", err)
		return
	}

	swept := 0
	for _, r := range processing {
		if time.Since(r.UpdatedAt) < s.cfg.StaleAfter {
			continue
		}
		err := s.db.Transition(r.ID, receipt.StatusProcessing, receipt.StatusPending, nil)
		if err != nil {
			if !errors.Is(err, receipt.ErrConflict) {
				slog.Error("Error sweeping stale receipt", "id", r.ID, "error", err)
			}
			continue
		}
		swept++
		slog.Info("Reset stale receipt to pending", "id", r.ID, "stale_since", r.UpdatedAt)
	}
	if swept > 0 {
		slog.Info("Staleness sweep complete", "reset", swept)
	}
}
