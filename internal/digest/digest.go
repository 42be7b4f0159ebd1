// Package digest emails the listings that have not been notified yet and
// marks them sent once the email provider accepted the message.
package digest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"property-monitor/internal/models"
	"property-monitor/internal/notifier"
)

// Store is the part of the storage layer the dispatcher needs
type Store interface {
	Unsent() ([]models.Listing, error)
	MarkSent(ids []uint) error
}

// Result describes one dispatch. IDs holds the listings marked sent.
type Result struct {
	Listings int
	Sent     bool
	IDs      []uint
}

// Dispatcher sends the unsent-listings digest
type Dispatcher struct {
	store    Store
	notifier notifier.Notifier
	from     string
	to       []string
}

// NewDispatcher creates a dispatcher
func NewDispatcher(store Store, n notifier.Notifier, from string, to []string) *Dispatcher {
	return &Dispatcher{store: store, notifier: n, from: from, to: to}
}

// SendDigest emails every unsent listing. Listings are marked sent only when
// the notifier reports success, and only the ones rendered into the email.
func (d *Dispatcher) SendDigest(ctx context.Context) (Result, error) {
	listings, err := d.store.Unsent()
	if err != nil {
		return Result{}, fmt.Errorf("failed to load unsent listings: %w", err)
	}
	if len(listings) == 0 {
		log.Println("Digest: No new listings to email")
		return Result{}, nil
	}
	if len(d.to) == 0 {
		log.Printf("Digest: No recipients configured, skipping %d listings", len(listings))
		return Result{Listings: len(listings)}, nil
	}

	log.Printf("Digest: Sending email for %d listings...", len(listings))

	html, err := Render(listings)
	if err != nil {
		return Result{Listings: len(listings)}, err
	}

	msg := notifier.Message{
		From:    d.from,
		To:      d.to,
		Subject: Subject(len(listings)),
		HTML:    html,
	}
	if err := d.notifier.Send(ctx, msg); err != nil {
		if errors.Is(err, notifier.ErrNotDelivered) {
			log.Printf("Digest: Email not delivered, %d listings stay unsent", len(listings))
			return Result{Listings: len(listings)}, nil
		}
		return Result{Listings: len(listings)}, fmt.Errorf("failed to send digest: %w", err)
	}

	ids := make([]uint, 0, len(listings))
	for _, l := range listings {
		ids = append(ids, l.ID)
	}
	if err := d.store.MarkSent(ids); err != nil {
		// Delivered but not marked: these go out again next cycle
		return Result{Listings: len(listings), Sent: true}, fmt.Errorf("digest sent but failed to mark listings: %w", err)
	}

	log.Printf("Digest: Email sent successfully (%d listings)", len(listings))
	return Result{Listings: len(listings), Sent: true, IDs: ids}, nil
}

// Subject returns the email subject for n listings
func Subject(n int) string {
	return fmt.Sprintf("New Property Listings: (%d)", n)
}

var printer = message.NewPrinter(language.English)

var funcs = template.FuncMap{
	"money": func(v *int) string {
		if v == nil {
			return "-"
		}
		return printer.Sprintf("$%d", *v)
	},
	"num": func(v *int) string {
		if v == nil {
			return "-"
		}
		return printer.Sprintf("%d", *v)
	},
	"orDash": func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	},
}

var digestTemplate = template.Must(template.New("digest").Funcs(funcs).Parse(`<h2>Property Digest</h2>
<table style="width:100%; text-align:left; border-collapse:collapse;">
  <thead>
    <tr style="background:#f4f4f4;">
      <th style="padding:8px;">Condo</th>
      <th style="padding:8px;">Price</th>
      <th style="padding:8px;">PSF</th>
      <th style="padding:8px;">Config</th>
      <th style="padding:8px;">Size (sqft)</th>
      <th style="padding:8px;">Platform</th>
      <th style="padding:8px;">Link</th>
    </tr>
  </thead>
  <tbody>
{{- range .}}
    <tr>
      <td style="padding:8px; border-bottom:1px solid #ddd;">{{orDash .CondoName}}</td>
      <td style="padding:8px; border-bottom:1px solid #ddd;">{{money .PriceSGD}}</td>
      <td style="padding:8px; border-bottom:1px solid #ddd;">{{money .PricePSF}}</td>
      <td style="padding:8px; border-bottom:1px solid #ddd;">{{num .Bedrooms}} Bed / {{num .Bathrooms}} Bath</td>
      <td style="padding:8px; border-bottom:1px solid #ddd;">{{num .SizeSqft}}</td>
      <td style="padding:8px; border-bottom:1px solid #ddd;">{{.Platform}}</td>
      <td style="padding:8px; border-bottom:1px solid #ddd;"><a href="{{.URL}}">Link</a></td>
    </tr>
{{- end}}
  </tbody>
</table>
`))

// Render builds the digest HTML table
func Render(listings []models.Listing) (string, error) {
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, listings); err != nil {
		return "", fmt.Errorf("failed to render digest: %w", err)
	}
	return buf.String(), nil
}
