// Package postgres implements the account, promo and feature usage stores on
// Postgres through pgx.
//
// Every optimistic write is a single statement guarded in its WHERE clause:
// account updates by version, promo claims by owner IS NULL, activation
// transitions by the expected status. A guard that matches no row is told
// apart from a missing row with a follow-up read.
//
// The schema ships embedded; call Migrate once at startup.
package postgres
