// Package templates holds the HTML bodies of billing notifications.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"
)

// PaymentFailedData fills the failed charge notice.
type PaymentFailedData struct {
	CustomerID     string
	PlanName       string
	AmountMinor    int64
	Currency       string
	DeclineMessage string
	NextRetryAt    *time.Time // nil when no retry is scheduled
	AttemptsLeft   int
}

// SubscriptionCancelledData fills the cancellation notice.
type SubscriptionCancelledData struct {
	CustomerID  string
	PlanName    string
	Reason      string
	CancelledAt time.Time
}

// PaymentFailed renders the notice sent after a declined charge.
func PaymentFailed(d PaymentFailedData) templ.Component {
	return layout("Payment failed", func(w io.Writer) error {
		if err := paragraph(w, fmt.Sprintf("We could not collect %s for your %s subscription.",
			FormatAmount(d.AmountMinor, d.Currency), d.PlanName)); err != nil {
			return err
		}
		if d.DeclineMessage != "" {
			if err := paragraph(w, d.DeclineMessage); err != nil {
				return err
			}
		}
		if d.NextRetryAt != nil {
			return paragraph(w, fmt.Sprintf("We will try again on %s. %d attempt(s) remain before the subscription is cancelled.",
				d.NextRetryAt.UTC().Format("January 2, 2006"), d.AttemptsLeft))
		}
		return paragraph(w, "Please update your payment method to keep your subscription active.")
	})
}

// SubscriptionCancelled renders the notice sent when a subscription ends.
func SubscriptionCancelled(d SubscriptionCancelledData) templ.Component {
	return layout("Subscription cancelled", func(w io.Writer) error {
		msg := fmt.Sprintf("Your %s subscription was cancelled on %s.",
			d.PlanName, d.CancelledAt.UTC().Format("January 2, 2006"))
		if err := paragraph(w, msg); err != nil {
			return err
		}
		if d.Reason != "" {
			return paragraph(w, d.Reason)
		}
		return nil
	})
}

// FormatAmount prints minor units as a decimal amount with an upper-case currency code.
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}

func layout(title string, body func(w io.Writer) error) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>`+
			templ.EscapeString(title)+`</title></head><body style="font-family:sans-serif"><h1>`+
			templ.EscapeString(title)+`</h1>`); err != nil {
			return err
		}
		if err := body(w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

func paragraph(w io.Writer, text string) error {
	_, err := io.WriteString(w, "<p>"+templ.EscapeString(text)+"</p>")
	return err
}
