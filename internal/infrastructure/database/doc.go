// Package database provides SQLite connectivity for projectorctld.
//
// The store is small: device sightings recorded by the registry and the
// command log written as sessions resolve commands. This package manages:
//   - Connection setup with WAL mode and a busy timeout
//   - Versioned schema migrations loaded from an fs.FS
//   - Health checks for the API
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or defaulted, and
// every .up.sql has a .down.sql twin.
package database
