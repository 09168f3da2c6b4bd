// Package database provides SQLite connectivity for fleetlink.
//
// The database holds only the command audit log; live device state and
// telemetry stay in memory. Open configures WAL mode and a busy timeout,
// limits the pool to a single connection and supports ":memory:" for tests.
// Migrate applies versioned SQL files from any fs.FS, normally the embedded
// migrations package.
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
