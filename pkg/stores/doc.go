// Package stores provides the persistence layer for deployment records,
// backed by SQLite with embedded migrations.
package stores
