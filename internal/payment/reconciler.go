package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Source identifies which entry point delivered a reconciliation signal.
type Source string

// Reconciliation sources.
const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceSweep   Source = "sweep"
)

// Key identifies a ledger row by exactly one of its two lookup keys.
type Key struct {
	Reference string
	SessionID string
}

func (k Key) String() string {
	if k.Reference != "" {
		return "reference=" + k.Reference
	}
	return "session_id=" + k.SessionID
}

// Outcome is a terminal processor state to merge into the ledger.
type Outcome struct {
	Status          Status
	TransactionID   string
	TransactionCode string
	PaymentMethod   string
	ErrorMessage    string
}

// Policy decides what happens when a terminal signal disagrees with an
// already-recorded terminal status. Under both policies the first terminal
// write stays authoritative; PolicyFlag additionally records an anomaly for
// operator review.
type Policy string

// Reconciliation policies.
const (
	PolicySticky Policy = "sticky"
	PolicyFlag   Policy = "flag"
)

// ValidPolicy reports whether p names a known reconciliation policy.
func ValidPolicy(p Policy) bool {
	return p == PolicySticky || p == PolicyFlag
}

// Notifier receives first-terminal-transition callbacks. Delivery failures
// must not affect the reconciliation outcome, so the methods return nothing.
type Notifier interface {
	PaymentSucceeded(ctx context.Context, p *Payment)
	PaymentFailed(ctx context.Context, p *Payment)
}

// Reconciler merges terminal processor signals into the ledger. The webhook
// handler, the polled status handler, and the background sweep all apply the
// same transition rule through it.
type Reconciler struct {
	repo      Repository
	anomalies AnomalyRepository
	notifier  Notifier
	policy    Policy
	metrics   *Metrics
	logger    *slog.Logger
}

// NewReconciler creates a Reconciler. The notifier and metrics may be nil;
// the anomaly repository is required.
func NewReconciler(repo Repository, anomalies AnomalyRepository, notifier Notifier, policy Policy, metrics *Metrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if !ValidPolicy(policy) {
		policy = PolicyFlag
	}
	return &Reconciler{
		repo:      repo,
		anomalies: anomalies,
		notifier:  notifier,
		policy:    policy,
		metrics:   metrics,
		logger:    logger,
	}
}

// Apply looks up the payment named by key and merges the outcome using the
// transition rule: PENDING may move to exactly one terminal status; terminal
// states are sticky, so duplicates and late disagreeing signals are no-ops.
// The returned Payment reflects the ledger after the call.
//
// ErrPaymentNotFound means the processor and the ledger disagree about the
// key; an anomaly is recorded since retrying cannot repair that.
func (r *Reconciler) Apply(ctx context.Context, key Key, outcome Outcome, source Source) (*Payment, error) {
	current, err := r.lookup(ctx, key)
	if errors.Is(err, ErrPaymentNotFound) {
		r.logger.WarnContext(ctx, "reconciliation signal for unknown payment",
			"key", key.String(), "source", string(source))
		r.recordAnomaly(ctx, &Anomaly{
			Kind:              AnomalyUnknownReference,
			CheckoutReference: key.Reference,
			SessionID:         key.SessionID,
			Detail:            fmt.Sprintf("%s signal %s for unknown payment", source, outcome.Status),
		})
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}

	if !outcome.Status.Terminal() {
		// Nothing to merge; the processor still reports the session open.
		return current, nil
	}

	if current.Status.Terminal() {
		return r.alreadyTerminal(ctx, current, outcome, source)
	}

	applied, err := r.write(ctx, current.CheckoutReference, outcome)
	if err != nil {
		return nil, err
	}

	updated, err := r.repo.GetByReference(ctx, current.CheckoutReference)
	if err != nil {
		return nil, err
	}

	if !applied {
		// Lost the conditional-update race to a concurrent entry point;
		// re-evaluate against whatever won.
		return r.alreadyTerminal(ctx, updated, outcome, source)
	}

	r.logger.InfoContext(ctx, "payment reconciled",
		"checkout_reference", updated.CheckoutReference,
		"status", string(updated.Status),
		"source", string(source))
	if r.metrics != nil {
		r.metrics.ReconciliationApplied(source, updated.Status)
	}
	r.notify(ctx, updated)

	return updated, nil
}

// alreadyTerminal handles duplicate and disagreeing signals against a row
// that already reached a terminal state. Never an error: replays must return
// success to stop processor retries.
func (r *Reconciler) alreadyTerminal(ctx context.Context, current *Payment, outcome Outcome, source Source) (*Payment, error) {
	if current.Status == outcome.Status {
		r.logger.InfoContext(ctx, "duplicate reconciliation signal ignored",
			"checkout_reference", current.CheckoutReference,
			"status", string(current.Status),
			"source", string(source))
		return current, nil
	}

	r.logger.WarnContext(ctx, "conflicting terminal signals",
		"checkout_reference", current.CheckoutReference,
		"recorded", string(current.Status),
		"incoming", string(outcome.Status),
		"source", string(source))

	if r.policy == PolicyFlag {
		r.recordAnomaly(ctx, &Anomaly{
			Kind:              AnomalyConflictingSignals,
			CheckoutReference: current.CheckoutReference,
			Detail: fmt.Sprintf("ledger says %s, %s signal says %s",
				current.Status, source, outcome.Status),
		})
	}

	return current, nil
}

func (r *Reconciler) write(ctx context.Context, reference string, outcome Outcome) (bool, error) {
	switch outcome.Status {
	case StatusSuccessful:
		return r.repo.MarkSucceeded(ctx, reference, TransactionResult{
			TransactionID:   outcome.TransactionID,
			TransactionCode: outcome.TransactionCode,
			PaymentMethod:   outcome.PaymentMethod,
		})
	case StatusFailed:
		return r.repo.MarkFailed(ctx, reference, outcome.ErrorMessage)
	default:
		return false, fmt.Errorf("unsupported terminal status %q", outcome.Status)
	}
}

func (r *Reconciler) lookup(ctx context.Context, key Key) (*Payment, error) {
	if key.Reference != "" {
		return r.repo.GetByReference(ctx, key.Reference)
	}
	if key.SessionID != "" {
		return r.repo.GetBySessionID(ctx, key.SessionID)
	}
	return nil, ErrPaymentNotFound
}

func (r *Reconciler) recordAnomaly(ctx context.Context, a *Anomaly) {
	if r.anomalies == nil {
		return
	}
	if err := r.anomalies.Record(ctx, a); err != nil {
		r.logger.ErrorContext(ctx, "failed to record anomaly",
			"kind", string(a.Kind), "error", err)
	}
	if r.metrics != nil {
		r.metrics.AnomalyRecorded(a.Kind)
	}
}

func (r *Reconciler) notify(ctx context.Context, p *Payment) {
	if r.notifier == nil {
		return
	}
	switch p.Status {
	case StatusSuccessful:
		r.notifier.PaymentSucceeded(ctx, p)
	case StatusFailed:
		r.notifier.PaymentFailed(ctx, p)
	}
}
