package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cduval/boutique/internal/middleware"
	"github.com/cduval/boutique/internal/payment"
)

// StatusHandlers holds dependencies for the polled payment-status endpoint.
type StatusHandlers struct {
	reconciler  *payment.Reconciler
	sumupClient payment.Client
}

// NewStatusHandlers creates a new StatusHandlers instance.
func NewStatusHandlers(reconciler *payment.Reconciler, sumupClient payment.Client) *StatusHandlers {
	return &StatusHandlers{
		reconciler:  reconciler,
		sumupClient: sumupClient,
	}
}

// PaymentStatusResponse is the confirmation-view contract: everything the
// page needs in a single round trip.
type PaymentStatusResponse struct {
	Status            payment.Status `json:"status"`
	CheckoutReference string         `json:"checkout_reference"`
	TransactionID     *string        `json:"transaction_id,omitempty"`
	TransactionCode   *string        `json:"transaction_code,omitempty"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
}

// GetPaymentStatus looks up the live processor state for a session, merges it
// into the ledger through the shared transition rule, and returns the ledger
// status. Reloading the page replays this and always gets the same answer.
// GET /payments/status?checkout_id=...
func (h *StatusHandlers) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checkoutID := r.URL.Query().Get("checkout_id")
	if checkoutID == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "checkout_id is required")
		return
	}

	if h.sumupClient == nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeConfig)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeConfig, "payment processing is not configured")
		return
	}

	checkout, err := h.sumupClient.GetCheckout(ctx, checkoutID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch checkout from processor",
			"checkout_id", checkoutID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeProcessor)
		WriteError(w, ctx, http.StatusBadGateway, ErrCodeProcessor, "could not fetch payment status")
		return
	}

	key := payment.Key{SessionID: checkoutID}
	if checkout.CheckoutReference != "" {
		key = payment.Key{Reference: checkout.CheckoutReference}
	}

	// OutcomeFromCheckout yields a non-terminal outcome for open sessions;
	// Apply treats that as a pure read.
	outcome, _ := payment.OutcomeFromCheckout(checkout)

	record, err := h.reconciler.Apply(ctx, key, outcome, payment.SourcePoll)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "payment not found")
			return
		}
		slog.ErrorContext(ctx, "failed to reconcile payment status",
			"checkout_id", checkoutID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to resolve payment status")
		return
	}

	response := PaymentStatusResponse{
		Status:            record.Status,
		CheckoutReference: record.CheckoutReference,
		TransactionID:     record.TransactionID,
		TransactionCode:   record.TransactionCode,
		ErrorMessage:      record.ErrorMessage,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
