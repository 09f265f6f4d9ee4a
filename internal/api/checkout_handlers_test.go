package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cduval/boutique/internal/customer"
	"github.com/cduval/boutique/internal/payment"
)

// fakeSumUpClient implements payment.Client for handler tests.
type fakeSumUpClient struct {
	createFunc func(ctx context.Context, params payment.CreateCheckoutParams) (*payment.Checkout, error)
	getFunc    func(ctx context.Context, checkoutID string) (*payment.Checkout, error)
}

func (f *fakeSumUpClient) CreateCheckout(ctx context.Context, params payment.CreateCheckoutParams) (*payment.Checkout, error) {
	if f.createFunc == nil {
		return nil, errors.New("createFunc not set")
	}
	return f.createFunc(ctx, params)
}

func (f *fakeSumUpClient) GetCheckout(ctx context.Context, checkoutID string) (*payment.Checkout, error) {
	if f.getFunc == nil {
		return nil, errors.New("getFunc not set")
	}
	return f.getFunc(ctx, checkoutID)
}

// failingPaymentRepo wraps the in-memory repo and fails CreatePending.
type failingPaymentRepo struct {
	*payment.InMemoryRepository
}

func (r *failingPaymentRepo) CreatePending(ctx context.Context, p *payment.Payment) error {
	return errors.New("storage unavailable")
}

func validCheckoutRequest() CreateCheckoutRequest {
	return CreateCheckoutRequest{
		Amount:      17.00,
		Currency:    "EUR",
		Description: "Achat du livre X",
		ProductID:   "2",
		Customer: CheckoutCustomerRequest{
			Name:    "Marie Dupont",
			Email:   "marie@example.com",
			Phone:   "+33612345678",
			Address: "1 rue de la Paix, Paris",
		},
	}
}

func postCheckout(t *testing.T, h *CheckoutHandlers, req CreateCheckoutRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/payments/checkout", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateCheckout(w, r)
	return w
}

func TestCreateCheckout_Success(t *testing.T) {
	customerRepo := customer.NewInMemoryRepository()
	paymentRepo := payment.NewInMemoryRepository()
	anomalyRepo := payment.NewInMemoryAnomalyRepository()

	var gotParams payment.CreateCheckoutParams
	client := &fakeSumUpClient{
		createFunc: func(ctx context.Context, params payment.CreateCheckoutParams) (*payment.Checkout, error) {
			gotParams = params
			return &payment.Checkout{
				ID:                "sess_abc",
				Status:            payment.CheckoutStatusPending,
				Amount:            params.Amount,
				Currency:          params.Currency,
				CheckoutReference: params.CheckoutReference,
				CheckoutURL:       "https://pay.example/sess_abc",
			}, nil
		},
	}

	handlers := NewCheckoutHandlers(customerRepo, paymentRepo, anomalyRepo, client, "https://boutique.example", nil)

	w := postCheckout(t, handlers, validCheckoutRequest())

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp CreateCheckoutResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.CheckoutURL != "https://pay.example/sess_abc" {
		t.Errorf("expected hosted checkout URL, got %q", resp.CheckoutURL)
	}
	if resp.CheckoutID != "sess_abc" {
		t.Errorf("expected checkout_id sess_abc, got %q", resp.CheckoutID)
	}
	if resp.CheckoutReference == "" {
		t.Error("expected a minted checkout_reference")
	}

	if gotParams.ReturnURL != "https://boutique.example/confirmation" {
		t.Errorf("unexpected return URL %q", gotParams.ReturnURL)
	}
	if gotParams.CheckoutReference != resp.CheckoutReference {
		t.Errorf("reference sent to processor %q differs from response %q",
			gotParams.CheckoutReference, resp.CheckoutReference)
	}

	record, err := paymentRepo.GetByReference(context.Background(), resp.CheckoutReference)
	if err != nil {
		t.Fatalf("expected ledger row for %s: %v", resp.CheckoutReference, err)
	}
	if record.Status != payment.StatusPending {
		t.Errorf("expected PENDING ledger row, got %s", record.Status)
	}
	if record.SessionID == nil || *record.SessionID != "sess_abc" {
		t.Errorf("expected session_id sess_abc on ledger row, got %v", record.SessionID)
	}
	if record.AmountCents != 1700 {
		t.Errorf("expected 1700 cents, got %d", record.AmountCents)
	}

	buyer, err := customerRepo.GetByEmail(context.Background(), "marie@example.com")
	if err != nil {
		t.Fatalf("expected customer row: %v", err)
	}
	if record.CustomerID != buyer.ID {
		t.Errorf("ledger row customer %q does not match resolved customer %q", record.CustomerID, buyer.ID)
	}
}

func TestCreateCheckout_RepeatPurchaseReusesCustomer(t *testing.T) {
	customerRepo := customer.NewInMemoryRepository()
	paymentRepo := payment.NewInMemoryRepository()
	client := &fakeSumUpClient{
		createFunc: func(ctx context.Context, params payment.CreateCheckoutParams) (*payment.Checkout, error) {
			return &payment.Checkout{ID: "sess_" + params.CheckoutReference, CheckoutURL: "https://pay.example/x"}, nil
		},
	}
	handlers := NewCheckoutHandlers(customerRepo, paymentRepo, payment.NewInMemoryAnomalyRepository(), client, "https://boutique.example", nil)

	first := postCheckout(t, handlers, validCheckoutRequest())
	second := postCheckout(t, handlers, validCheckoutRequest())
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected both checkouts to succeed, got %d and %d", first.Code, second.Code)
	}

	var r1, r2 CreateCheckoutResponse
	_ = json.NewDecoder(first.Body).Decode(&r1)
	_ = json.NewDecoder(second.Body).Decode(&r2)
	if r1.CheckoutReference == r2.CheckoutReference {
		t.Errorf("expected distinct references, both were %q", r1.CheckoutReference)
	}

	p1, _ := paymentRepo.GetByReference(context.Background(), r1.CheckoutReference)
	p2, _ := paymentRepo.GetByReference(context.Background(), r2.CheckoutReference)
	if p1.CustomerID != p2.CustomerID {
		t.Errorf("expected repeat purchase to reuse customer, got %q and %q", p1.CustomerID, p2.CustomerID)
	}
}

func TestCreateCheckout_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateCheckoutRequest)
	}{
		{"zero amount", func(r *CreateCheckoutRequest) { r.Amount = 0 }},
		{"negative amount", func(r *CreateCheckoutRequest) { r.Amount = -5 }},
		{"bad currency", func(r *CreateCheckoutRequest) { r.Currency = "EURO" }},
		{"missing description", func(r *CreateCheckoutRequest) { r.Description = "" }},
		{"missing product id", func(r *CreateCheckoutRequest) { r.ProductID = "  " }},
		{"missing name", func(r *CreateCheckoutRequest) { r.Customer.Name = "" }},
		{"bad email", func(r *CreateCheckoutRequest) { r.Customer.Email = "not-an-email" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			client := &fakeSumUpClient{
				createFunc: func(ctx context.Context, params payment.CreateCheckoutParams) (*payment.Checkout, error) {
					called = true
					return &payment.Checkout{ID: "sess"}, nil
				},
			}
			handlers := NewCheckoutHandlers(
				customer.NewInMemoryRepository(),
				payment.NewInMemoryRepository(),
				payment.NewInMemoryAnomalyRepository(),
				client, "https://boutique.example", nil)

			req := validCheckoutRequest()
			tt.mutate(&req)

			w := postCheckout(t, handlers, req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
			}
			var errResp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if errResp.Error.Code != ErrCodeValidation {
				t.Errorf("expected error code %s, got %s", ErrCodeValidation, errResp.Error.Code)
			}
			if called {
				t.Error("processor must not be called on validation failure")
			}
		})
	}
}

func TestCreateCheckout_ProcessorNotConfigured(t *testing.T) {
	handlers := NewCheckoutHandlers(
		customer.NewInMemoryRepository(),
		payment.NewInMemoryRepository(),
		payment.NewInMemoryAnomalyRepository(),
		nil, "https://boutique.example", nil)

	w := postCheckout(t, handlers, validCheckoutRequest())
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != ErrCodeConfig {
		t.Errorf("expected error code %s, got %s", ErrCodeConfig, errResp.Error.Code)
	}
}

func TestCreateCheckout_ProcessorError(t *testing.T) {
	paymentRepo := payment.NewInMemoryRepository()
	client := &fakeSumUpClient{
		createFunc: func(ctx context.Context, params payment.CreateCheckoutParams) (*payment.Checkout, error) {
			return nil, payment.ErrProcessor
		},
	}
	handlers := NewCheckoutHandlers(
		customer.NewInMemoryRepository(), paymentRepo,
		payment.NewInMemoryAnomalyRepository(),
		client, "https://boutique.example", nil)

	w := postCheckout(t, handlers, validCheckoutRequest())
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d: %s", w.Code, w.Body.String())
	}

	// No ledger row may exist for a failed session creation.
	_, total, err := paymentRepo.List(context.Background(), payment.ListFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 0 {
		t.Errorf("expected empty ledger, found %d rows", total)
	}
}

func TestCreateCheckout_LedgerWriteFailureRecordsOrphan(t *testing.T) {
	anomalyRepo := payment.NewInMemoryAnomalyRepository()
	client := &fakeSumUpClient{
		createFunc: func(ctx context.Context, params payment.CreateCheckoutParams) (*payment.Checkout, error) {
			return &payment.Checkout{ID: "sess_orphan", CheckoutURL: "https://pay.example/sess_orphan"}, nil
		},
	}
	handlers := NewCheckoutHandlers(
		customer.NewInMemoryRepository(),
		&failingPaymentRepo{payment.NewInMemoryRepository()},
		anomalyRepo,
		client, "https://boutique.example", nil)

	w := postCheckout(t, handlers, validCheckoutRequest())
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}

	anomalies, err := anomalyRepo.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("failed to list anomalies: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Kind != payment.AnomalyOrphanedSession {
		t.Errorf("expected orphaned_session anomaly, got %s", anomalies[0].Kind)
	}
	if anomalies[0].SessionID != "sess_orphan" {
		t.Errorf("expected anomaly to name session sess_orphan, got %q", anomalies[0].SessionID)
	}
}

func TestCreateCheckout_InvalidBody(t *testing.T) {
	handlers := NewCheckoutHandlers(
		customer.NewInMemoryRepository(),
		payment.NewInMemoryRepository(),
		payment.NewInMemoryAnomalyRepository(),
		&fakeSumUpClient{}, "https://boutique.example", nil)

	r := httptest.NewRequest(http.MethodPost, "/payments/checkout", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	handlers.CreateCheckout(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}
