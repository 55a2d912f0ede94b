package gateway

import "time"

// StripeConfig configures the Stripe gateway and webhook source.
type StripeConfig struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	Timeout          time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
	APIURL           string        `env:"STRIPE_API_URL"` // overrides the API base URL, e.g. stripe-mock
}

// PaddleConfig configures the Paddle webhook source. Paddle is optional.
type PaddleConfig struct {
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
}

// BreakerConfig configures the circuit breaker around outbound calls.
type BreakerConfig struct {
	MaxFailures      uint32        `env:"BREAKER_MAX_FAILURES" envDefault:"5"`       // consecutive failures that open the circuit
	OpenTimeout      time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"30s"`     // how long the circuit stays open
	HalfOpenRequests uint32        `env:"BREAKER_HALF_OPEN_REQUESTS" envDefault:"1"` // probes allowed while half-open
	Interval         time.Duration `env:"BREAKER_INTERVAL" envDefault:"1m"`          // closed-state counter reset period
}
