// Package testutil provides shared test helpers: a log-capturing slog
// handler, entitlement fixtures, and an in-process fake of the license
// authority HTTP API.
package testutil
