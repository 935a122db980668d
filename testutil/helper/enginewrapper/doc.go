// Package enginewrapper provides test utilities for abstracting over the storage engines and database adapters.
//
// The adapter is selected with the ADAPTER_TYPE environment variable (see testutil/config), so the same
// test suite runs against in-process SQLite, PostgreSQL through pgx.Pool, sql.DB or sqlx.DB, or the
// in-memory engine. PostgreSQL tests are skipped when no DSN is configured.
//
// Usage:
//
//	wrapper := CreateWrapperWithTestConfig(t)
//	defer wrapper.Close()
//
//	engine := wrapper.GetStorageEngine()
package enginewrapper
