// Package gateway talks to the payment processor.
//
// Outbound, a Gateway creates processor customers and subscriptions, cancels
// them, changes their price with proration and re-attempts payment of a failed
// invoice. Stripe is the production implementation; Memory is an in-process
// stand-in for development and tests. Breaker wraps any Gateway in a circuit
// breaker so a processor outage fails fast instead of piling up timeouts.
//
// Inbound, StripeSource and PaddleSource implement webhook.Source: they verify
// the delivery signature with the processor SDK and normalize the payload into
// a webhook.Event.
//
// Card declines are reported as ErrPaymentDeclined joined with
// subscription.ErrValidation; DeclineMessage turns a decline code into text a
// customer can act on.
package gateway
