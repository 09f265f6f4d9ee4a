package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cduval/boutique/internal/middleware"
	"github.com/cduval/boutique/internal/payment"
)

// maxWebhookBody caps webhook request bodies at 1 MB.
const maxWebhookBody = 1 << 20

// WebhookHandlers holds dependencies for processor webhook handlers.
type WebhookHandlers struct {
	webhookSecret string
	reconciler    *payment.Reconciler
	webhookRepo   payment.WebhookRepository
	metrics       *payment.Metrics
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(
	webhookSecret string,
	reconciler *payment.Reconciler,
	webhookRepo payment.WebhookRepository,
	metrics *payment.Metrics,
) *WebhookHandlers {
	return &WebhookHandlers{
		webhookSecret: webhookSecret,
		reconciler:    reconciler,
		webhookRepo:   webhookRepo,
		metrics:       metrics,
	}
}

// webhookAck is the body the processor expects on acknowledged events.
type webhookAck struct {
	Received bool `json:"received"`
}

// HandleSumUpWebhook processes payment notifications with signature
// verification over the raw body. Replayed and late events are acknowledged
// without effect; only an internal failure returns 5xx so the processor
// retries.
// POST /webhooks/sumup
func (h *WebhookHandlers) HandleSumUpWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.webhookSecret == "" {
		slog.ErrorContext(ctx, "webhook received but no signing secret configured")
		ctx = middleware.SetErrorCode(ctx, ErrCodeConfig)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeConfig, "webhook processing is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get(payment.SignatureHeader)
	if signature == "" {
		h.signatureFailure(ctx, "missing signature header")
		ctx = middleware.SetErrorCode(ctx, ErrCodeInvalidSignature)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeInvalidSignature, "missing signature")
		return
	}

	if !payment.VerifySignature(body, signature, h.webhookSecret) {
		h.signatureFailure(ctx, "signature mismatch")
		ctx = middleware.SetErrorCode(ctx, ErrCodeInvalidSignature)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeInvalidSignature, "invalid signature")
		return
	}

	var payload payment.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid webhook payload")
		return
	}

	slog.InfoContext(ctx, "webhook event received",
		"event_type", payload.EventType, "event_id", payload.EventID)

	outcome, known := payload.Outcome()
	if !known {
		slog.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", payload.EventType, "event_id", payload.EventID)
		h.ack(ctx, w)
		return
	}

	if _, err := h.reconciler.Apply(ctx, payload.Key(), outcome, payment.SourceWebhook); err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			// Anomaly already recorded; retrying cannot repair a reference
			// mismatch, so mark the event settled and acknowledge to stop
			// the retry loop.
			h.recordEvent(ctx, &payload)
			h.ack(ctx, w)
			return
		}
		// Deliberately not recorded as processed: the 5xx makes the
		// processor redeliver, and the retry must reach Apply again.
		slog.ErrorContext(ctx, "failed to apply webhook event",
			"event_id", payload.EventID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
		return
	}

	h.recordEvent(ctx, &payload)
	h.ack(ctx, w)
}

// recordEvent marks an event id as processed once its outcome is settled.
// Recording after the transition keeps a failed apply retryable; replays of a
// settled event reach Apply again but terminal-sticky makes them no-ops, so
// this only exists to make redeliveries visible in the event log.
func (h *WebhookHandlers) recordEvent(ctx context.Context, p *payment.WebhookPayload) {
	if p.EventID == "" || h.webhookRepo == nil {
		return
	}
	if err := h.webhookRepo.RecordEvent(ctx, p.EventID, p.EventType); err != nil {
		if errors.Is(err, payment.ErrEventAlreadyProcessed) {
			slog.InfoContext(ctx, "webhook event redelivered", "event_id", p.EventID)
			return
		}
		slog.WarnContext(ctx, "failed to record webhook event",
			"event_id", p.EventID, "error", err)
	}
}

func (h *WebhookHandlers) ack(ctx context.Context, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(webhookAck{Received: true}); err != nil {
		slog.ErrorContext(ctx, "failed to encode webhook ack", "error", err)
	}
}

func (h *WebhookHandlers) signatureFailure(ctx context.Context, reason string) {
	slog.WarnContext(ctx, "webhook signature verification failed", "reason", reason)
	if h.metrics != nil {
		h.metrics.WebhookSignatureFailure()
	}
}
