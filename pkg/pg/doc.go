// Package pg bootstraps PostgreSQL access on top of pgx/v5.
//
// Connect opens a *pgxpool.Pool from Config (populated from PG_* environment
// variables), retrying until the database answers. Migrate runs goose
// migrations from an fs.FS, normally embedded in the binary, through the same
// pool. Healthcheck returns a probe suitable for the HTTP health endpoint.
//
// Transactor implements txn.Transactor: WithinTx begins a transaction and
// stores it in the context, and repositories obtain it with Executor so that
// one unit of work spans several stores. Nested calls join the outer
// transaction.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, postgres.Migrations, postgres.MigrationsDir, cfg, logger); err != nil {
//		return err
//	}
//
//	tx := pg.NewTransactor(pool)
//	err = tx.WithinTx(ctx, func(ctx context.Context) error {
//		_, err := pg.Executor(ctx, pool).Exec(ctx, "UPDATE ...")
//		return err
//	})
//
// Helpers such as IsDuplicateKeyError and IsSerializationError classify
// *pgconn.PgError values by SQLSTATE.
package pg
