// Package pg stores sessions in PostgreSQL. Each session is one row of the
// appserver_sessions table holding its marshalled form, its last activity
// and, when bounded, its expiry. Migrations creates the table.
//
//	pool, err := pgdb.Connect(ctx, cfg.Postgres)
//	if err != nil {
//		return err
//	}
//	if err := pgdb.Migrate(ctx, pool, pg.Migrations, cfg.Postgres, log); err != nil {
//		return err
//	}
//	h, err := pg.New(pool, pg.WithInactivityTimeout(settings.InactivityTimeout))
package pg
