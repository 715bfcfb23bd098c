// Package postgres wraps a gorm connection to PostgreSQL for the dead
// letter store.
//
// NewPostgres connects once and fails fast. Under FXModule two loops keep
// the connection alive afterwards: MonitorConnection pings the database
// every ten seconds and RetryConnection reconnects with an exponential
// backoff when a ping fails. Errors of Create, Find and Count go through
// TranslateError, so callers can match ErrDuplicateKey and ErrSchemaMismatch
// without importing gorm.
package postgres
