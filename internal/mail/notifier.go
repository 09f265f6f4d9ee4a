package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cduval/boutique/internal/customer"
	"github.com/cduval/boutique/internal/payment"
)

// Notifier emails customers when their payment reaches a terminal status.
// Delivery is best effort: failures are logged and never surface to the
// reconciliation path.
type Notifier struct {
	mailer    *Mailer
	customers customer.Repository
}

// NewNotifier creates a Notifier backed by the given mailer and customer store.
func NewNotifier(mailer *Mailer, customers customer.Repository) *Notifier {
	return &Notifier{
		mailer:    mailer,
		customers: customers,
	}
}

// PaymentSucceeded sends the order confirmation email.
func (n *Notifier) PaymentSucceeded(ctx context.Context, p *payment.Payment) {
	c, err := n.customers.GetByID(ctx, p.CustomerID)
	if err != nil {
		slog.WarnContext(ctx, "skipping order confirmation email, customer lookup failed",
			"checkout_reference", p.CheckoutReference,
			"customer_id", p.CustomerID,
			"error", err)
		return
	}

	amount := formatAmount(p.AmountCents, p.Currency)
	subject := fmt.Sprintf("Confirmation de votre commande %s", p.CheckoutReference)
	text := fmt.Sprintf(
		"Bonjour %s,\n\nNous avons bien reçu votre paiement de %s pour la commande %s.\n"+
			"Votre commande est en cours de préparation.\n\nMerci pour votre achat.\n",
		c.Name, amount, p.CheckoutReference)
	html := fmt.Sprintf(
		"<p>Bonjour %s,</p><p>Nous avons bien reçu votre paiement de <strong>%s</strong> "+
			"pour la commande <strong>%s</strong>.</p><p>Votre commande est en cours de préparation.</p>"+
			"<p>Merci pour votre achat.</p>",
		c.Name, amount, p.CheckoutReference)

	n.send(ctx, p, Message{
		ToEmail:  c.Email,
		ToName:   c.Name,
		Subject:  subject,
		TextPart: text,
		HTMLPart: html,
	})
}

// PaymentFailed sends the payment failure email.
func (n *Notifier) PaymentFailed(ctx context.Context, p *payment.Payment) {
	c, err := n.customers.GetByID(ctx, p.CustomerID)
	if err != nil {
		slog.WarnContext(ctx, "skipping payment failed email, customer lookup failed",
			"checkout_reference", p.CheckoutReference,
			"customer_id", p.CustomerID,
			"error", err)
		return
	}

	amount := formatAmount(p.AmountCents, p.Currency)
	reason := ""
	if p.ErrorMessage != nil && *p.ErrorMessage != "" {
		reason = fmt.Sprintf("\nMotif indiqué par la banque : %s\n", *p.ErrorMessage)
	}

	subject := fmt.Sprintf("Problème avec votre paiement - Commande %s", p.CheckoutReference)
	text := fmt.Sprintf(
		"Bonjour %s,\n\nLe paiement de %s pour la commande %s n'a pas abouti.\n%s"+
			"Vous pouvez réessayer votre achat à tout moment, aucun montant n'a été débité.\n",
		c.Name, amount, p.CheckoutReference, reason)
	html := fmt.Sprintf(
		"<p>Bonjour %s,</p><p>Le paiement de <strong>%s</strong> pour la commande "+
			"<strong>%s</strong> n'a pas abouti.</p><p>Vous pouvez réessayer votre achat à tout moment, "+
			"aucun montant n'a été débité.</p>",
		c.Name, amount, p.CheckoutReference)

	n.send(ctx, p, Message{
		ToEmail:  c.Email,
		ToName:   c.Name,
		Subject:  subject,
		TextPart: text,
		HTMLPart: html,
	})
}

func (n *Notifier) send(ctx context.Context, p *payment.Payment, msg Message) {
	if err := n.mailer.Send(msg); err != nil {
		slog.ErrorContext(ctx, "failed to send email",
			"checkout_reference", p.CheckoutReference,
			"subject", msg.Subject,
			"error", err)
		return
	}
	slog.InfoContext(ctx, "email sent",
		"checkout_reference", p.CheckoutReference,
		"subject", msg.Subject)
}

// formatAmount renders cents as a decimal amount with its currency code.
func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d,%02d %s", cents/100, cents%100, currency)
}
