package subscription

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/clinicbilling/pkg/keylock"
	"github.com/dmitrymomot/clinicbilling/pkg/txn"
)

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLocker sets the per-subscription lock. Defaults to an in-process lock.
func WithLocker(l keylock.Locker) LedgerOption {
	return func(led *Ledger) {
		if l != nil {
			led.locker = l
		}
	}
}

// WithTransactor sets the unit of work used for each transition.
func WithTransactor(tx txn.Transactor) LedgerOption {
	return func(led *Ledger) {
		if tx != nil {
			led.tx = tx
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LedgerOption {
	return func(led *Ledger) {
		if now != nil {
			led.now = now
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(l *slog.Logger) LedgerOption {
	return func(led *Ledger) {
		if l != nil {
			led.logger = l
		}
	}
}

// WithListener registers fn to observe committed outcomes. Listeners run
// synchronously, in registration order, after the subscription lock is released.
func WithListener(fn Listener) LedgerOption {
	return func(led *Ledger) {
		if fn != nil {
			led.listeners = append(led.listeners, fn)
		}
	}
}
