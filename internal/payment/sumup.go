package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultSumUpAPIURL is the production SumUp REST endpoint.
const DefaultSumUpAPIURL = "https://api.sumup.com/v0.1"

// ErrProcessor wraps any failure talking to the payment processor. Callers
// surface it as a retryable failure and never echo the processor payload to
// the end user.
var ErrProcessor = errors.New("payment processor request failed")

// Checkout statuses as reported by the processor.
const (
	CheckoutStatusPending = "PENDING"
	CheckoutStatusPaid    = "PAID"
	CheckoutStatusFailed  = "FAILED"
)

// CreateCheckoutParams are the fields sent when creating a hosted session.
// MerchantCode is supplied by the client itself.
type CreateCheckoutParams struct {
	Amount            float64
	Currency          string
	Description       string
	CheckoutReference string
	ReturnURL         string
}

// Checkout is the processor's representation of a hosted session, returned by
// both the creation call and the status lookup.
type Checkout struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	CheckoutReference string  `json:"checkout_reference"`
	MerchantCode      string  `json:"merchant_code"`
	Description       string  `json:"description,omitempty"`
	ReturnURL         string  `json:"return_url,omitempty"`
	CheckoutURL       string  `json:"checkout_url,omitempty"`
	Date              string  `json:"date,omitempty"`
	TransactionID     string  `json:"transaction_id,omitempty"`
	TransactionCode   string  `json:"transaction_code,omitempty"`
	ErrorMessage      string  `json:"error_message,omitempty"`
}

// Client is an interface for processor operations to enable testing with mocks.
type Client interface {
	CreateCheckout(ctx context.Context, params CreateCheckoutParams) (*Checkout, error)
	GetCheckout(ctx context.Context, checkoutID string) (*Checkout, error)
}

// SumUpClient implements Client against the SumUp checkouts API.
type SumUpClient struct {
	apiKey       string
	merchantCode string
	apiURL       string
	httpClient   *http.Client
}

// NewSumUpClient creates a processor client with validated configuration.
// apiURL may be empty, in which case the production endpoint is used.
func NewSumUpClient(apiKey, merchantCode, apiURL string) (*SumUpClient, error) {
	if apiKey == "" {
		return nil, errors.New("sumup api key is required")
	}
	if merchantCode == "" {
		return nil, errors.New("sumup merchant code is required")
	}
	if apiURL == "" {
		apiURL = DefaultSumUpAPIURL
	}
	return &SumUpClient{
		apiKey:       apiKey,
		merchantCode: merchantCode,
		apiURL:       apiURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// createCheckoutRequest is the wire shape of the session-creation call.
type createCheckoutRequest struct {
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	Description       string  `json:"description,omitempty"`
	CheckoutReference string  `json:"checkout_reference"`
	MerchantCode      string  `json:"merchant_code"`
	ReturnURL         string  `json:"return_url"`
}

// processorError is the processor-defined error body on non-2xx responses.
type processorError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

// CreateCheckout creates a hosted checkout session. Exactly one external
// session is created per successful invocation.
func (c *SumUpClient) CreateCheckout(ctx context.Context, params CreateCheckoutParams) (*Checkout, error) {
	body := createCheckoutRequest{
		Amount:            params.Amount,
		Currency:          params.Currency,
		Description:       params.Description,
		CheckoutReference: params.CheckoutReference,
		MerchantCode:      c.merchantCode,
		ReturnURL:         params.ReturnURL,
	}

	checkout, err := c.do(ctx, http.MethodPost, "/checkouts", body)
	if err != nil {
		return nil, err
	}
	if checkout.ID == "" || checkout.CheckoutURL == "" {
		return nil, fmt.Errorf("%w: malformed session response", ErrProcessor)
	}
	return checkout, nil
}

// GetCheckout fetches the current state of a hosted session by its id.
func (c *SumUpClient) GetCheckout(ctx context.Context, checkoutID string) (*Checkout, error) {
	if checkoutID == "" {
		return nil, fmt.Errorf("%w: checkout id is required", ErrProcessor)
	}

	checkout, err := c.do(ctx, http.MethodGet, "/checkouts/"+checkoutID, nil)
	if err != nil {
		return nil, err
	}
	if checkout.ID == "" {
		return nil, fmt.Errorf("%w: malformed status response", ErrProcessor)
	}
	return checkout, nil
}

func (c *SumUpClient) do(ctx context.Context, method, path string, body interface{}) (*Checkout, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encode request: %v", ErrProcessor, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrProcessor, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrProcessor, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var perr processorError
		if err := json.Unmarshal(data, &perr); err == nil && perr.Message != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrProcessor, resp.StatusCode, perr.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrProcessor, resp.StatusCode)
	}

	var checkout Checkout
	if err := json.Unmarshal(data, &checkout); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrProcessor, err)
	}

	return &checkout, nil
}

// OutcomeFromCheckout maps a processor session state onto a reconciliation
// outcome. The second return value is false while the session is not in a
// terminal state (or reports a state not yet modeled).
func OutcomeFromCheckout(c *Checkout) (Outcome, bool) {
	switch c.Status {
	case CheckoutStatusPaid:
		return Outcome{
			Status:          StatusSuccessful,
			TransactionID:   c.TransactionID,
			TransactionCode: c.TransactionCode,
		}, true
	case CheckoutStatusFailed:
		msg := c.ErrorMessage
		if msg == "" {
			msg = defaultFailureMessage
		}
		return Outcome{
			Status:       StatusFailed,
			ErrorMessage: msg,
		}, true
	default:
		return Outcome{}, false
	}
}
