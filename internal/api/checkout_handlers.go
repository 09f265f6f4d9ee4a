// Package api provides HTTP handlers for the boutique payments API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cduval/boutique/internal/customer"
	"github.com/cduval/boutique/internal/middleware"
	"github.com/cduval/boutique/internal/payment"
	"github.com/cduval/boutique/internal/validate"
)

// CheckoutHandlers holds dependencies for checkout-related HTTP handlers.
type CheckoutHandlers struct {
	customerRepo  customer.Repository
	paymentRepo   payment.Repository
	anomalyRepo   payment.AnomalyRepository
	sumupClient   payment.Client
	publicBaseURL string
	metrics       *payment.Metrics
}

// NewCheckoutHandlers creates a new CheckoutHandlers instance. The processor
// client may be nil when the server runs without payment credentials; the
// endpoint then fails with a configuration error instead of at startup.
func NewCheckoutHandlers(
	customerRepo customer.Repository,
	paymentRepo payment.Repository,
	anomalyRepo payment.AnomalyRepository,
	sumupClient payment.Client,
	publicBaseURL string,
	metrics *payment.Metrics,
) *CheckoutHandlers {
	return &CheckoutHandlers{
		customerRepo:  customerRepo,
		paymentRepo:   paymentRepo,
		anomalyRepo:   anomalyRepo,
		sumupClient:   sumupClient,
		publicBaseURL: publicBaseURL,
		metrics:       metrics,
	}
}

// CheckoutCustomerRequest is the buyer identity captured at checkout time.
type CheckoutCustomerRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// CreateCheckoutRequest represents the request body for starting a checkout.
type CreateCheckoutRequest struct {
	Amount      float64                 `json:"amount"`
	Currency    string                  `json:"currency"`
	Description string                  `json:"description"`
	ProductID   string                  `json:"product_id"`
	Customer    CheckoutCustomerRequest `json:"customer"`
}

// CreateCheckoutResponse carries the hosted session the browser redirects to.
type CreateCheckoutResponse struct {
	CheckoutURL       string `json:"checkout_url"`
	CheckoutID        string `json:"checkout_id"`
	CheckoutReference string `json:"checkout_reference"`
}

// CreateCheckout starts a hosted checkout session and records a PENDING
// ledger row for it.
// POST /payments/checkout
func (h *CheckoutHandlers) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.sumupClient == nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeConfig)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeConfig, "payment processing is not configured")
		return
	}

	var req CreateCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	// Validate everything before any external call.
	amountCents, err := validate.Amount(req.Amount)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "amount: "+err.Error())
		return
	}

	currency, err := validate.Currency(req.Currency)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "currency: "+err.Error())
		return
	}

	description, err := validate.ProductDescription(req.Description)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "description: "+err.Error())
		return
	}

	if strings.TrimSpace(req.ProductID) == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "product_id is required")
		return
	}

	name, err := validate.PersonName(req.Customer.Name)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "customer.name: "+err.Error())
		return
	}

	email, err := validate.Email(req.Customer.Email)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "customer.email: "+err.Error())
		return
	}

	address, err := validate.PostalAddress(req.Customer.Address)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "customer.address: "+err.Error())
		return
	}

	// Resolve-or-create the buyer by email so repeat purchases reuse the
	// same customer row.
	buyer, err := h.customerRepo.Resolve(ctx, &customer.Customer{
		Name:    name,
		Email:   email,
		Phone:   strings.TrimSpace(req.Customer.Phone),
		Address: address,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve customer", "email", email, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to record customer")
		return
	}

	// Minted exactly once per attempt, before the external call.
	reference := payment.NewCheckoutReference(req.ProductID)

	checkout, err := h.sumupClient.CreateCheckout(ctx, payment.CreateCheckoutParams{
		Amount:            req.Amount,
		Currency:          currency,
		Description:       description,
		CheckoutReference: reference,
		ReturnURL:         h.returnURL(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create checkout session",
			"checkout_reference", reference, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeProcessor)
		WriteError(w, ctx, http.StatusBadGateway, ErrCodeProcessor, "payment processor rejected the checkout")
		return
	}

	record := &payment.Payment{
		CheckoutReference: reference,
		SessionID:         &checkout.ID,
		AmountCents:       amountCents,
		Currency:          currency,
		Description:       description,
		ProductID:         req.ProductID,
		CustomerID:        buyer.ID,
		Status:            payment.StatusPending,
	}

	if err := h.paymentRepo.CreatePending(ctx, record); err != nil {
		// The external session exists but the ledger does not know it. Record
		// the orphan so the sweep and operators can find it.
		slog.ErrorContext(ctx, "failed to persist pending payment",
			"checkout_reference", reference, "session_id", checkout.ID, "error", err)
		h.recordOrphan(r, reference, checkout.ID, err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to record payment")
		return
	}

	slog.InfoContext(ctx, "checkout session created",
		"checkout_reference", reference,
		"session_id", checkout.ID,
		"amount_cents", amountCents,
		"currency", currency)
	if h.metrics != nil {
		h.metrics.CheckoutCreated()
	}

	response := CreateCheckoutResponse{
		CheckoutURL:       checkout.CheckoutURL,
		CheckoutID:        checkout.ID,
		CheckoutReference: reference,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// returnURL is where the hosted widget sends the browser back; the processor
// appends the checkout id as a query parameter.
func (h *CheckoutHandlers) returnURL() string {
	return strings.TrimRight(h.publicBaseURL, "/") + "/confirmation"
}

func (h *CheckoutHandlers) recordOrphan(r *http.Request, reference, sessionID string, cause error) {
	if h.anomalyRepo == nil {
		return
	}
	ctx := r.Context()
	a := &payment.Anomaly{
		Kind:              payment.AnomalyOrphanedSession,
		CheckoutReference: reference,
		SessionID:         sessionID,
		Detail:            "ledger write failed after session creation: " + cause.Error(),
	}
	if err := h.anomalyRepo.Record(ctx, a); err != nil {
		slog.ErrorContext(ctx, "failed to record orphaned session anomaly",
			"checkout_reference", reference, "error", err)
	}
	if h.metrics != nil {
		h.metrics.AnomalyRecorded(payment.AnomalyOrphanedSession)
	}
}
