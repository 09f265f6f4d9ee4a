package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cduval/boutique/internal/payment"
)

func newTestReconciler(repo payment.Repository, anomalies payment.AnomalyRepository, policy payment.Policy) *payment.Reconciler {
	return payment.NewReconciler(repo, anomalies, nil, policy, nil, nil)
}

func seedPending(t *testing.T, repo payment.Repository, reference, sessionID string) {
	t.Helper()
	sid := sessionID
	err := repo.CreatePending(context.Background(), &payment.Payment{
		CheckoutReference: reference,
		SessionID:         &sid,
		AmountCents:       1700,
		Currency:          "EUR",
		Description:       "Achat du livre X",
		ProductID:         "2",
		CustomerID:        "cust-1",
		Status:            payment.StatusPending,
	})
	if err != nil {
		t.Fatalf("failed to seed pending payment: %v", err)
	}
}

func getStatus(t *testing.T, h *StatusHandlers, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.GetPaymentStatus(w, r)
	return w
}

func TestGetPaymentStatus_MissingCheckoutID(t *testing.T) {
	repo := payment.NewInMemoryRepository()
	handlers := NewStatusHandlers(newTestReconciler(repo, payment.NewInMemoryAnomalyRepository(), payment.PolicyFlag), &fakeSumUpClient{})

	w := getStatus(t, handlers, "/payments/status")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != ErrCodeValidation {
		t.Errorf("expected error code %s, got %s", ErrCodeValidation, errResp.Error.Code)
	}
}

func TestGetPaymentStatus_PaidReconcilesToSuccessful(t *testing.T) {
	repo := payment.NewInMemoryRepository()
	seedPending(t, repo, "BOOK-2-171234", "sess_abc")

	client := &fakeSumUpClient{
		getFunc: func(ctx context.Context, checkoutID string) (*payment.Checkout, error) {
			return &payment.Checkout{
				ID:                checkoutID,
				Status:            payment.CheckoutStatusPaid,
				CheckoutReference: "BOOK-2-171234",
				TransactionID:     "tx_1",
				TransactionCode:   "TC1",
			}, nil
		},
	}
	handlers := NewStatusHandlers(newTestReconciler(repo, payment.NewInMemoryAnomalyRepository(), payment.PolicyFlag), client)

	w := getStatus(t, handlers, "/payments/status?checkout_id=sess_abc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp PaymentStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != payment.StatusSuccessful {
		t.Errorf("expected SUCCESSFUL, got %s", resp.Status)
	}
	if resp.CheckoutReference != "BOOK-2-171234" {
		t.Errorf("expected checkout_reference BOOK-2-171234, got %q", resp.CheckoutReference)
	}
	if resp.TransactionID == nil || *resp.TransactionID != "tx_1" {
		t.Errorf("expected transaction_id tx_1, got %v", resp.TransactionID)
	}

	record, err := repo.GetByReference(context.Background(), "BOOK-2-171234")
	if err != nil {
		t.Fatalf("ledger lookup failed: %v", err)
	}
	if record.Status != payment.StatusSuccessful {
		t.Errorf("expected ledger row SUCCESSFUL, got %s", record.Status)
	}
}

func TestGetPaymentStatus_FailedReconcilesToFailed(t *testing.T) {
	repo := payment.NewInMemoryRepository()
	seedPending(t, repo, "BOOK-2-171234", "sess_abc")

	client := &fakeSumUpClient{
		getFunc: func(ctx context.Context, checkoutID string) (*payment.Checkout, error) {
			return &payment.Checkout{
				ID:                checkoutID,
				Status:            payment.CheckoutStatusFailed,
				CheckoutReference: "BOOK-2-171234",
				ErrorMessage:      "card declined",
			}, nil
		},
	}
	handlers := NewStatusHandlers(newTestReconciler(repo, payment.NewInMemoryAnomalyRepository(), payment.PolicyFlag), client)

	w := getStatus(t, handlers, "/payments/status?checkout_id=sess_abc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp PaymentStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != payment.StatusFailed {
		t.Errorf("expected FAILED, got %s", resp.Status)
	}
	if resp.ErrorMessage == nil || *resp.ErrorMessage != "card declined" {
		t.Errorf("expected error_message card declined, got %v", resp.ErrorMessage)
	}
}

func TestGetPaymentStatus_OpenSessionStaysPending(t *testing.T) {
	repo := payment.NewInMemoryRepository()
	seedPending(t, repo, "BOOK-2-171234", "sess_abc")

	client := &fakeSumUpClient{
		getFunc: func(ctx context.Context, checkoutID string) (*payment.Checkout, error) {
			return &payment.Checkout{
				ID:                checkoutID,
				Status:            payment.CheckoutStatusPending,
				CheckoutReference: "BOOK-2-171234",
			}, nil
		},
	}
	handlers := NewStatusHandlers(newTestReconciler(repo, payment.NewInMemoryAnomalyRepository(), payment.PolicyFlag), client)

	w := getStatus(t, handlers, "/payments/status?checkout_id=sess_abc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp PaymentStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != payment.StatusPending {
		t.Errorf("expected PENDING, got %s", resp.Status)
	}
}

func TestGetPaymentStatus_UnknownSession(t *testing.T) {
	repo := payment.NewInMemoryRepository()
	anomalies := payment.NewInMemoryAnomalyRepository()

	client := &fakeSumUpClient{
		getFunc: func(ctx context.Context, checkoutID string) (*payment.Checkout, error) {
			return &payment.Checkout{
				ID:                checkoutID,
				Status:            payment.CheckoutStatusPaid,
				CheckoutReference: "BOOK-9-999999",
			}, nil
		},
	}
	handlers := NewStatusHandlers(newTestReconciler(repo, anomalies, payment.PolicyFlag), client)

	w := getStatus(t, handlers, "/payments/status?checkout_id=sess_ghost")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}

	recorded, err := anomalies.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("failed to list anomalies: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Kind != payment.AnomalyUnknownReference {
		t.Errorf("expected one unknown_reference anomaly, got %v", recorded)
	}
}

func TestGetPaymentStatus_ProcessorUnavailable(t *testing.T) {
	repo := payment.NewInMemoryRepository()
	seedPending(t, repo, "BOOK-2-171234", "sess_abc")

	client := &fakeSumUpClient{
		getFunc: func(ctx context.Context, checkoutID string) (*payment.Checkout, error) {
			return nil, payment.ErrProcessor
		},
	}
	handlers := NewStatusHandlers(newTestReconciler(repo, payment.NewInMemoryAnomalyRepository(), payment.PolicyFlag), client)

	w := getStatus(t, handlers, "/payments/status?checkout_id=sess_abc")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", w.Code)
	}
}

// A late disagreeing poll must not overwrite a recorded terminal status.
func TestGetPaymentStatus_TerminalStatusIsSticky(t *testing.T) {
	repo := payment.NewInMemoryRepository()
	anomalies := payment.NewInMemoryAnomalyRepository()
	seedPending(t, repo, "BOOK-2-171234", "sess_abc")

	reconciler := newTestReconciler(repo, anomalies, payment.PolicyFlag)
	if _, err := reconciler.Apply(context.Background(),
		payment.Key{Reference: "BOOK-2-171234"},
		payment.Outcome{Status: payment.StatusSuccessful, TransactionID: "tx_1"},
		payment.SourceWebhook); err != nil {
		t.Fatalf("failed to apply webhook outcome: %v", err)
	}

	client := &fakeSumUpClient{
		getFunc: func(ctx context.Context, checkoutID string) (*payment.Checkout, error) {
			return &payment.Checkout{
				ID:                checkoutID,
				Status:            payment.CheckoutStatusFailed,
				CheckoutReference: "BOOK-2-171234",
				ErrorMessage:      "late disagreement",
			}, nil
		},
	}
	handlers := NewStatusHandlers(reconciler, client)

	w := getStatus(t, handlers, "/payments/status?checkout_id=sess_abc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp PaymentStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != payment.StatusSuccessful {
		t.Errorf("first terminal write must stay authoritative, got %s", resp.Status)
	}

	recorded, err := anomalies.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("failed to list anomalies: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Kind != payment.AnomalyConflictingSignals {
		t.Errorf("expected one conflicting_signals anomaly under flag policy, got %v", recorded)
	}
}
