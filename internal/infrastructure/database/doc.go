// Package database provides SQLite connectivity and schema migrations.
//
// Migrations are additive-only: new columns are NULLABLE or carry a DEFAULT,
// and every .up.sql has a matching .down.sql.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
