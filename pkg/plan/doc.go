// Package plan is the billing plan catalog.
//
// A Plan is immutable once published: only its name and IsActive flag may
// change, so retiring a plan never alters subscriptions that already reference
// it. Subscriptions capture a Terms snapshot at creation and read billing,
// trial and retry policy from that snapshot only.
package plan
