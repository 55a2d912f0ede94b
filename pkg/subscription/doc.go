// Package subscription is the authoritative ledger of customer subscriptions.
//
// Every change to a Subscription goes through Ledger.Apply with one of the
// input events (charge succeeded, charge failed, user cancel, period end,
// retry exhausted, plan changed, processor cancelled). The ledger:
//
//   - serializes all transitions of one subscription through a keylock.Locker
//   - checks the move against a fixed transition table
//   - rejects processor events older than the last applied one
//   - absorbs any event delivered to a cancelled subscription as a no-op
//   - writes the new state with an optimistic revision check
//
// Charge failures consult the retry policy (pkg/retry) using the terms
// captured on the subscription at creation. When the policy gives up, the
// same write also cancels the subscription.
//
// Listeners registered with WithListener observe every applied or absorbed
// event after it was committed:
//
//	ledger := subscription.NewLedger(store,
//		subscription.WithLocker(locker),
//		subscription.WithTransactor(tx),
//		subscription.WithListener(notifier.OnOutcome),
//	)
//
//	out, err := ledger.Apply(ctx, id, subscription.Event{
//		Kind:       subscription.ChargeFailed,
//		OccurredAt: evt.Created,
//	})
//
// Error categories are ErrValidation, ErrConflict and ErrExternalService; every
// error returned by the ledger matches one of them or ErrSubscriptionNotFound
// under errors.Is.
package subscription
