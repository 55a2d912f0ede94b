package email_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/email"
	"github.com/dmitrymomot/clinicbilling/pkg/email/templates"
)

func validParams() email.SendEmailParams {
	return email.SendEmailParams{
		SendTo:   "owner@clinic.example",
		Subject:  "Payment failed",
		BodyHTML: "<p>hi</p>",
		Tag:      "payment-failed",
	}
}

func TestSendEmailParams_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(p *email.SendEmailParams)
		wantErr bool
	}{
		{name: "valid", mutate: func(*email.SendEmailParams) {}},
		{name: "missing recipient", mutate: func(p *email.SendEmailParams) { p.SendTo = "" }, wantErr: true},
		{name: "bad recipient", mutate: func(p *email.SendEmailParams) { p.SendTo = "not-an-email" }, wantErr: true},
		{name: "missing subject", mutate: func(p *email.SendEmailParams) { p.Subject = "" }, wantErr: true},
		{name: "missing body", mutate: func(p *email.SendEmailParams) { p.BodyHTML = "" }, wantErr: true},
		{name: "subject too long", mutate: func(p *email.SendEmailParams) { p.Subject = strings.Repeat("x", 256) }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, email.ErrInvalidParams)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDevSender_SendEmail(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "emails")
	sender := email.NewDevSender(dir)

	require.NoError(t, sender.SendEmail(context.Background(), validParams()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var htmlFile, jsonFile string
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".html":
			htmlFile = e.Name()
		case ".json":
			jsonFile = e.Name()
		}
	}
	require.NotEmpty(t, htmlFile)
	require.NotEmpty(t, jsonFile)
	assert.Contains(t, htmlFile, "payment-failed")
	assert.Contains(t, htmlFile, "owner_at_clinic.example")

	raw, err := os.ReadFile(filepath.Join(dir, jsonFile))
	require.NoError(t, err)
	var meta map[string]string
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "owner@clinic.example", meta["send_to"])
	assert.Equal(t, "payment-failed", meta["tag"])

	err = sender.SendEmail(context.Background(), email.SendEmailParams{})
	assert.ErrorIs(t, err, email.ErrInvalidParams)
}

func TestMemorySender(t *testing.T) {
	t.Parallel()

	sender := email.NewMemorySender()
	require.NoError(t, sender.SendEmail(context.Background(), validParams()))
	assert.Len(t, sender.Sent("payment-failed"), 1)
	assert.Empty(t, sender.Sent("subscription-cancelled"))

	boom := errors.New("smtp down")
	sender.FailWith(boom)
	err := sender.SendEmail(context.Background(), validParams())
	assert.ErrorIs(t, err, email.ErrFailedToSendEmail)
	assert.ErrorIs(t, err, boom)
}

func TestNewPostmarkClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     email.Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg: email.Config{
				PostmarkServerToken:  "server",
				PostmarkAccountToken: "account",
				SenderEmail:          "billing@clinic.example",
				SupportEmail:         "support@clinic.example",
			},
		},
		{
			name:    "missing tokens",
			cfg:     email.Config{SenderEmail: "billing@clinic.example", SupportEmail: "support@clinic.example"},
			wantErr: true,
		},
		{
			name: "bad sender",
			cfg: email.Config{
				PostmarkServerToken:  "server",
				PostmarkAccountToken: "account",
				SenderEmail:          "billing",
				SupportEmail:         "support@clinic.example",
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, err := email.NewPostmarkClient(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, email.ErrInvalidConfig)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
			assert.True(t, tt.cfg.UsePostmark())
		})
	}
}

func TestTemplates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	retryAt := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	html, err := templates.Render(ctx, templates.PaymentFailed(templates.PaymentFailedData{
		PlanName:       "Clinic <Pro>",
		AmountMinor:    4950,
		Currency:       "usd",
		DeclineMessage: "Your card has insufficient funds.",
		NextRetryAt:    &retryAt,
		AttemptsLeft:   2,
	}))
	require.NoError(t, err)
	assert.Contains(t, html, "49.50 USD")
	assert.Contains(t, html, "Clinic &lt;Pro&gt;")
	assert.Contains(t, html, "March 14, 2026")
	assert.Contains(t, html, "insufficient funds")

	html, err = templates.Render(ctx, templates.PaymentFailed(templates.PaymentFailedData{
		PlanName: "Basic", AmountMinor: 100, Currency: "eur",
	}))
	require.NoError(t, err)
	assert.Contains(t, html, "update your payment method")

	html, err = templates.Render(ctx, templates.SubscriptionCancelled(templates.SubscriptionCancelledData{
		PlanName:    "Basic",
		Reason:      "All payment retries failed.",
		CancelledAt: retryAt,
	}))
	require.NoError(t, err)
	assert.Contains(t, html, "Subscription cancelled")
	assert.Contains(t, html, "All payment retries failed.")
}

func TestFormatAmount(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0.05 USD", templates.FormatAmount(5, "usd"))
	assert.Equal(t, "120.00 EUR", templates.FormatAmount(12000, "eur"))
	assert.Equal(t, "-1.50 USD", templates.FormatAmount(-150, "usd"))
}
