// Package postgres stores plans, coupons, subscriptions, payment attempts,
// webhook events and queue tasks in PostgreSQL.
//
// Every repository resolves its executor with pg.Executor, so calls made
// inside pg.Transactor.WithinTx share one transaction. The schema ships as
// goose migrations embedded in Migrations.
package postgres

import "embed"

// Migrations holds the goose migrations of the billing schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations to pass to pg.Migrate.
const MigrationsDir = "migrations"
