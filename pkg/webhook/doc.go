// Package webhook is the inbound boundary for payment processor events.
//
// A Processor authenticates a delivery through a Source, records it in the
// dedup EventLog, translates it into a subscription ledger input and applies
// it. Deliveries are at-least-once and may arrive in any order:
//
//   - a replayed event id that was already processed is accepted without effects
//   - concurrent deliveries of one event id are serialized by a keylock.Locker
//   - events for unknown subscriptions are accepted and logged
//   - stale or disallowed transitions are recorded as reconciliation anomalies
//
// Only two results reach the sender: Accepted, or Rejected for a bad
// signature or an unparsable payload. Infrastructure failures are returned
// as errors so the HTTP layer answers with a 5xx and the processor redelivers.
//
// # Usage
//
//	p := webhook.NewProcessor(ledger, eventLog,
//		webhook.WithLocker(locker),
//		webhook.WithLogger(logger),
//	)
//
//	res, err := p.Handle(ctx, stripeSource, body, r.Header.Get("Stripe-Signature"))
//	switch {
//	case err != nil:
//		// 5xx, let the processor retry
//	case res.Status == webhook.StatusRejected:
//		// 400
//	default:
//		// 200
//	}
package webhook
