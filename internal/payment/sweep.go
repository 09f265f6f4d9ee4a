package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Sweep defaults.
const (
	DefaultSweepInterval  = 15 * time.Minute
	DefaultSweepOlderThan = 30 * time.Minute
	sweepBatchLimit       = 100
)

// Sweeper periodically polls the processor for PENDING rows that stopped
// receiving events and feeds the results through the reconciler. It is the
// ops-side mitigation for lost webhooks and for sessions whose browser never
// returned; it never touches rows the reconciler would not.
type Sweeper struct {
	repo       Repository
	client     Client
	reconciler *Reconciler
	olderThan  time.Duration
	logger     *slog.Logger
}

// NewSweeper creates a Sweeper. olderThan <= 0 falls back to the default.
func NewSweeper(repo Repository, client Client, reconciler *Reconciler, olderThan time.Duration, logger *slog.Logger) *Sweeper {
	if olderThan <= 0 {
		olderThan = DefaultSweepOlderThan
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		repo:       repo,
		client:     client,
		reconciler: reconciler,
		olderThan:  olderThan,
		logger:     logger,
	}
}

// Run executes the sweep periodically at the specified interval. It blocks
// and should typically be run in a goroutine; it returns when the stop
// channel is closed.
func (s *Sweeper) Run(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.SweepOnce(context.Background()); err != nil {
				s.logger.Error("pending sweep failed", "error", err)
			}
		case <-stop:
			s.logger.Info("stopping pending sweep")
			return
		}
	}
}

// SweepOnce polls the processor for every stale PENDING row once.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-s.olderThan)
	stale, _, err := s.repo.List(ctx, ListFilter{
		Status:    StatusPending,
		OlderThan: &cutoff,
		Limit:     sweepBatchLimit,
	})
	if err != nil {
		return err
	}

	for _, p := range stale {
		if p.SessionID == nil || *p.SessionID == "" {
			// Cannot be polled; left for manual audit.
			s.logger.WarnContext(ctx, "stale pending payment has no session id",
				"checkout_reference", p.CheckoutReference)
			continue
		}

		checkout, err := s.client.GetCheckout(ctx, *p.SessionID)
		if err != nil {
			s.logger.WarnContext(ctx, "sweep status lookup failed",
				"checkout_reference", p.CheckoutReference,
				"session_id", *p.SessionID,
				"error", err)
			continue
		}

		outcome, terminal := OutcomeFromCheckout(checkout)
		if !terminal {
			continue
		}

		if _, err := s.reconciler.Apply(ctx, Key{Reference: p.CheckoutReference}, outcome, SourceSweep); err != nil && !errors.Is(err, ErrPaymentNotFound) {
			s.logger.ErrorContext(ctx, "sweep reconciliation failed",
				"checkout_reference", p.CheckoutReference,
				"error", err)
		}
	}

	return nil
}
