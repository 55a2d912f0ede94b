// Package email sends transactional billing notifications.
//
// Sender has three implementations: PostmarkClient for production delivery,
// DevSender which writes messages to a directory for local development, and
// MemorySender for tests. Message bodies are templ components from the
// templates subpackage rendered with templates.Render.
//
//	body, err := templates.Render(ctx, templates.PaymentFailed(data))
//	if err != nil {
//		return err
//	}
//	err = sender.SendEmail(ctx, email.SendEmailParams{
//		SendTo:   sub.CustomerEmail,
//		Subject:  "Payment failed",
//		BodyHTML: body,
//		Tag:      "payment-failed",
//	})
package email
