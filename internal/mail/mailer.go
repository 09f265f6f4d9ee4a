// Package mail sends transactional emails through Mailjet.
package mail

import (
	mailjet "github.com/mailjet/mailjet-apiv3-go/v4"
)

// Sender is the subset of the Mailjet client used by this package.
type Sender interface {
	SendMailV31(data *mailjet.MessagesV31, options ...mailjet.RequestOptions) (*mailjet.ResultsV31, error)
}

// NewClient creates a Mailjet API client from the key pair.
func NewClient(apiKey, secretKey string) *mailjet.Client {
	return mailjet.NewMailjetClient(apiKey, secretKey)
}

// Message is a single transactional email.
type Message struct {
	ToEmail  string
	ToName   string
	Subject  string
	TextPart string
	HTMLPart string
}

// Mailer sends messages through a Mailjet-compatible sender.
type Mailer struct {
	sender      Sender
	senderEmail string
	senderName  string
}

// NewMailer creates a Mailer with the given sender identity.
func NewMailer(sender Sender, senderEmail, senderName string) *Mailer {
	return &Mailer{
		sender:      sender,
		senderEmail: senderEmail,
		senderName:  senderName,
	}
}

// Send delivers a single message via the Mailjet v3.1 send API.
func (m *Mailer) Send(msg Message) error {
	payload := mailjet.MessagesV31{
		Info: []mailjet.InfoMessagesV31{
			{
				From: &mailjet.RecipientV31{
					Email: m.senderEmail,
					Name:  m.senderName,
				},
				To: &mailjet.RecipientsV31{
					{
						Email: msg.ToEmail,
						Name:  msg.ToName,
					},
				},
				Subject:  msg.Subject,
				TextPart: msg.TextPart,
				HTMLPart: msg.HTMLPart,
			},
		},
	}

	res, err := m.sender.SendMailV31(&payload)
	if err != nil {
		return err
	}
	if len(res.ResultsV31) > 0 && res.ResultsV31[0].Status != "success" {
		return &SendError{Status: res.ResultsV31[0].Status}
	}
	return nil
}

// SendError reports a non-success status from the Mailjet API.
type SendError struct {
	Status string
}

func (e *SendError) Error() string {
	return "mailjet send status: " + e.Status
}
