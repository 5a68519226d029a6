// Package sqlite implements assistant storage backed by SQLite.
package sqlite
