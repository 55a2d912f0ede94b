package billing

import "time"

// Config holds the service settings.
type Config struct {
	CatalogFile         string        `env:"BILLING_CATALOG_FILE"`                          // CatalogFile is a YAML seed of plans and coupons. Empty skips seeding.
	Queue               string        `env:"BILLING_QUEUE" envDefault:"billing"`            // Queue receives charge-retry and sweep tasks.
	SweepInterval       time.Duration `env:"BILLING_SWEEP_INTERVAL" envDefault:"15m"`       // SweepInterval is how often due subscriptions are processed.
	SweepBatch          int           `env:"BILLING_SWEEP_BATCH" envDefault:"100"`          // SweepBatch caps subscriptions handled per status per sweep.
	CompensationTimeout time.Duration `env:"BILLING_COMPENSATION_TIMEOUT" envDefault:"10s"` // CompensationTimeout bounds the processor cancel after a failed create.
}
