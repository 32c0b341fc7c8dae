// Package sqlstore provides a SQL implementation of the storage interfaces on top of
// gorm. SQLite (pure Go, no cgo), PostgreSQL and MySQL are supported.
//
// The schema is migrated on startup into three tables: oauth_clients, oauth_codes and
// oauth_tokens. Code redemption and refresh token rotation run in a transaction whose
// state change is a conditional UPDATE; the affected row count decides which of several
// concurrent callers wins.
//
// Expired rows are not deleted automatically. Call Cleanup periodically or run
// RunCleanup in a goroutine:
//
//	store, err := sqlstore.New(sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: "oauth.db"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//	go store.RunCleanup(ctx, time.Minute)
package sqlstore
