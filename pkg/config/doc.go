// Package config parses environment variables into typed structs with
// github.com/caarlos0/env/v11, loading .env files through
// github.com/joho/godotenv first.
//
// Each struct type is parsed once and cached, so packages can call Load for
// their own section without re-reading the environment:
//
//	var cfg struct {
//		PG     pg.Config
//		Stripe gateway.StripeConfig
//	}
//	config.MustLoad(&cfg)
//
// Tests that change the environment call ResetCache or ForceReloadConfig.
package config
