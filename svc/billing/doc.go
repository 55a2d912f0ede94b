// Package billing is the application service of the clinic billing system.
//
// It composes the domain packages into the operations exposed over HTTP and
// run by the task worker:
//
//   - Create redeems a coupon, opens the processor subscription and records
//     it in the ledger as one unit of work. If the local write fails after the
//     processor accepted the subscription, the processor side is cancelled.
//   - Cancel and ChangePlan call the processor first and then apply the
//     matching ledger event.
//   - RetryCharge is the handler of the charge-retry task scheduled by the
//     ledger listener; Sweep is the periodic task that ends subscriptions
//     pending cancellation and re-enqueues overdue retries.
//   - Listener reacts to committed ledger outcomes: it schedules retries,
//     sends payment notifications, publishes status changes and cancels the
//     processor subscription once retries are exhausted.
//
// Catalog loads plans and coupons from a YAML seed file at startup.
package billing
