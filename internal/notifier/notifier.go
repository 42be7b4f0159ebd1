// Package notifier delivers digest emails.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/resend/resend-go/v2"
)

// Message is one outgoing email
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

// ErrNotDelivered is returned by senders that handled the message without
// delivering it. Callers must not treat the listings as notified.
var ErrNotDelivered = errors.New("message not delivered")

// Notifier sends a message. A nil error means the provider accepted it.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// ResendNotifier sends email through Resend
type ResendNotifier struct {
	client *resend.Client
}

// NewResendNotifier creates a Resend sender
func NewResendNotifier(apiKey string) *ResendNotifier {
	return &ResendNotifier{client: resend.NewClient(apiKey)}
}

// Send delivers the message
func (n *ResendNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sent, err := n.client.Emails.Send(&resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	log.Printf("[Notifier] Email accepted by Resend (id=%s, to=%s)", sent.Id, strings.Join(msg.To, ","))
	return nil
}

// LogNotifier only logs the message. Used for dry runs.
type LogNotifier struct{}

// Send logs the subject and recipients and reports ErrNotDelivered
func (LogNotifier) Send(ctx context.Context, msg Message) error {
	log.Printf("[Notifier] Dry run: would send %q to %s (%d bytes)", msg.Subject, strings.Join(msg.To, ","), len(msg.HTML))
	return ErrNotDelivered
}
