package payment

// Webhook event types the reconciler models. Anything else is logged and
// ignored for forward compatibility with processor event types not yet known.
const (
	EventPaymentSuccessful = "payment.successful"
	EventPaymentFailed     = "payment.failed"
)

// WebhookPayload is the decoded body of a processor notification. Either
// CheckoutReference or CheckoutID identifies the ledger row, whichever the
// processor chose to send.
type WebhookPayload struct {
	EventType         string `json:"event_type"`
	EventID           string `json:"event_id,omitempty"`
	Timestamp         string `json:"timestamp,omitempty"`
	CheckoutReference string `json:"checkout_reference,omitempty"`
	CheckoutID        string `json:"checkout_id,omitempty"`
	TransactionID     string `json:"transaction_id,omitempty"`
	TransactionCode   string `json:"transaction_code,omitempty"`
	PaymentMethod     string `json:"payment_method,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

// Key returns the ledger lookup key the payload carries.
func (p *WebhookPayload) Key() Key {
	if p.CheckoutReference != "" {
		return Key{Reference: p.CheckoutReference}
	}
	return Key{SessionID: p.CheckoutID}
}

// Outcome maps a known event type onto a reconciliation outcome. The second
// return value is false for event types not modeled here.
func (p *WebhookPayload) Outcome() (Outcome, bool) {
	switch p.EventType {
	case EventPaymentSuccessful:
		return Outcome{
			Status:          StatusSuccessful,
			TransactionID:   p.TransactionID,
			TransactionCode: p.TransactionCode,
			PaymentMethod:   p.PaymentMethod,
		}, true
	case EventPaymentFailed:
		msg := p.FailureReason
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
