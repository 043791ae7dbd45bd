// Package store provides SQLite-backed persistence for the conversation
// archive core. Record shapes live in internal/model; this file
// intentionally holds none, since the Storer interface and SQLiteStore are
// defined in sqlite_store.go.
package store
