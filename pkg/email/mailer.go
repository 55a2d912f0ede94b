package email

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/dmitrymomot/clinicbilling/pkg/validator"
)

// Sender delivers transactional emails.
type Sender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

// SendEmailParams represents the parameters for sending an email.
type SendEmailParams struct {
	SendTo   string `json:"send_to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	Tag      string `json:"tag,omitempty"` // Postmark message stream tag
}

// Validate checks the recipient, subject and body.
func (p SendEmailParams) Validate() error {
	if err := validator.Apply(
		validator.RequiredString("send_to", p.SendTo),
		validator.ValidEmail("send_to", p.SendTo),
		validator.RequiredString("subject", p.Subject),
		validator.MaxLenString("subject", p.Subject, 255),
		validator.RequiredString("body_html", p.BodyHTML),
	); err != nil {
		return errors.Join(ErrInvalidParams, err)
	}
	return nil
}

// MemorySender keeps sent messages in memory.
type MemorySender struct {
	mu   sync.Mutex
	sent []SendEmailParams
	err  error
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

// FailWith makes subsequent sends return err.
func (s *MemorySender) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemorySender) SendEmail(_ context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return errors.Join(ErrFailedToSendEmail, s.err)
	}
	s.sent = append(s.sent, params)
	return nil
}

// Sent returns the delivered messages, optionally filtered by tag.
func (s *MemorySender) Sent(tag string) []SendEmailParams {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tag == "" {
		return slices.Clone(s.sent)
	}
	var out []SendEmailParams
	for _, p := range s.sent {
		if p.Tag == tag {
			out = append(out, p)
		}
	}
	return out
}
