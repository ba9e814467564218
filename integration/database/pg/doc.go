// Package pg manages PostgreSQL connectivity: a pgx connection pool with
// retry on connect, goose migrations from an fs.FS, a ping healthcheck and
// helpers that run statements on a transaction carried by the context.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, sessionpg.Migrations, cfg, log); err != nil {
//		return err
//	}
//
// Use WithTx to make statements issued through Exec join a transaction:
//
//	tx, err := pool.Begin(ctx)
//	...
//	ctx = pg.WithTx(ctx, tx)
package pg
