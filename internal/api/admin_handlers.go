package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cduval/boutique/internal/middleware"
	"github.com/cduval/boutique/internal/payment"
)

// Listing pagination bounds.
const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// AdminHandlers holds dependencies for the operator back-office endpoints.
type AdminHandlers struct {
	paymentRepo payment.Repository
	anomalyRepo payment.AnomalyRepository
}

// NewAdminHandlers creates a new AdminHandlers instance.
func NewAdminHandlers(paymentRepo payment.Repository, anomalyRepo payment.AnomalyRepository) *AdminHandlers {
	return &AdminHandlers{
		paymentRepo: paymentRepo,
		anomalyRepo: anomalyRepo,
	}
}

// ListPaymentsResponse is a page of ledger rows, newest first.
type ListPaymentsResponse struct {
	Payments []*payment.Payment `json:"payments"`
	Total    int                `json:"total"`
	Page     int                `json:"page"`
	Limit    int                `json:"limit"`
}

// ListPayments returns ledger rows filtered by status, product, and creation
// time. The older_than filter (a duration like "30m") combined with
// status=PENDING surfaces rows that never received a terminal event.
// GET /admin/payments
func (h *AdminHandlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := payment.ListFilter{
		ProductID: q.Get("product_id"),
		Page:      1,
		Limit:     defaultPageLimit,
	}

	if s := q.Get("status"); s != "" {
		status := payment.Status(s)
		switch status {
		case payment.StatusPending, payment.StatusSuccessful, payment.StatusFailed, payment.StatusCancelled:
			filter.Status = status
		default:
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "unknown status "+strconv.Quote(s))
			return
		}
	}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "from must be an RFC3339 timestamp")
			return
		}
		filter.From = &t
	}

	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "to must be an RFC3339 timestamp")
			return
		}
		filter.To = &t
	}

	if v := q.Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "older_than must be a positive duration")
			return
		}
		cutoff := time.Now().Add(-d)
		filter.OlderThan = &cutoff
	}

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "page must be a positive integer")
			return
		}
		filter.Page = page
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}
		filter.Limit = limit
	}

	payments, total, err := h.paymentRepo.List(ctx, filter)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list payments", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to list payments")
		return
	}

	response := ListPaymentsResponse{
		Payments: payments,
		Total:    total,
		Page:     filter.Page,
		Limit:    filter.Limit,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// GetPayment returns a single ledger row by checkout reference.
// GET /admin/payments/{reference}
func (h *AdminHandlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reference := strings.TrimPrefix(r.URL.Path, "/admin/payments/")
	if reference == "" || strings.Contains(reference, "/") {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "invalid payment reference")
		return
	}

	p, err := h.paymentRepo.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Payment not found")
			return
		}
		slog.ErrorContext(ctx, "failed to get payment", "reference", reference, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to get payment")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// ListAnomaliesResponse is the most recent reconciliation anomalies.
type ListAnomaliesResponse struct {
	Anomalies []*payment.Anomaly `json:"anomalies"`
}

// ListAnomalies returns recent reconciliation anomalies for operator review.
// GET /admin/anomalies
func (h *AdminHandlers) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		if n > maxPageLimit {
			n = maxPageLimit
		}
		limit = n
	}

	anomalies, err := h.anomalyRepo.List(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list anomalies", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to list anomalies")
		return
	}

	response := ListAnomaliesResponse{Anomalies: anomalies}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
