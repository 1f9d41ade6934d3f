// Package pg bootstraps the Postgres pool used by the entitlement stores.
//
// Connect opens a pgx pool from Config and retries until the database
// answers a ping. Migrate runs goose migrations from an embedded filesystem
// through the pgx stdlib bridge. Healthcheck returns a readiness probe.
//
// Error helpers classify pgx errors so the stores can map them to domain
// errors:
//
//	if pg.IsDuplicateKeyError(err) {
//		return account.ErrAccountExists
//	}
package pg
