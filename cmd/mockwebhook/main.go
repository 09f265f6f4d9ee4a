// Package main sends a signed SumUp-style webhook notification to a running
// server. It exists for local development: the hosted processor cannot reach
// a workstation, so payment.successful and payment.failed deliveries are
// produced by hand.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cduval/boutique/internal/payment"
)

func main() {
	var (
		url       = flag.String("url", "http://localhost:8080/webhooks/sumup", "webhook endpoint to deliver to")
		secret    = flag.String("secret", os.Getenv("SUMUP_WEBHOOK_SECRET"), "webhook signing secret (defaults to SUMUP_WEBHOOK_SECRET)")
		event     = flag.String("event", payment.EventPaymentSuccessful, "event type to send (payment.successful or payment.failed)")
		reference = flag.String("reference", "", "checkout reference of the ledger row")
		checkout  = flag.String("checkout-id", "", "processor session id (used when no reference is given)")
		txID      = flag.String("transaction-id", "", "transaction id for payment.successful")
		reason    = flag.String("reason", "", "failure reason for payment.failed")
	)
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "a signing secret is required (-secret or SUMUP_WEBHOOK_SECRET)")
		os.Exit(1)
	}
	if *reference == "" && *checkout == "" {
		fmt.Fprintln(os.Stderr, "either -reference or -checkout-id is required")
		os.Exit(1)
	}

	payload := payment.WebhookPayload{
		EventType:         *event,
		EventID:           "evt_" + uuid.New().String(),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		CheckoutReference: *reference,
		CheckoutID:        *checkout,
	}
	switch *event {
	case payment.EventPaymentSuccessful:
		payload.TransactionID = *txID
		if payload.TransactionID == "" {
			payload.TransactionID = "tx_" + uuid.New().String()
		}
		payload.PaymentMethod = "card"
	case payment.EventPaymentFailed:
		payload.FailureReason = *reason
	}

	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to encode payload:", err)
		os.Exit(1)
	}

	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build request:", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(payment.SignatureHeader, payment.SignBody(body, *secret))

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "delivery failed:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s %s -> %s\n", payload.EventType, payload.EventID, resp.Status)
	fmt.Println(string(respBody))

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
