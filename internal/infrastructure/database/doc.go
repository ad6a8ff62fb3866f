// Package database owns the registry database lifecycle.
//
// Two backends are supported. SQLite (the default) is opened with Open and
// runs with WAL mode, foreign keys on and a single connection. PostgreSQL
// is opened with OpenPostgres on a pgx pool. Both apply embedded migrations
// with Migrate; the SQL for each dialect lives in its own directory of
// MigrationsFS, registered by the top-level migrations package.
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Each one runs in its own transaction.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
