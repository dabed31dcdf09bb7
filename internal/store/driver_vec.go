//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// cgo build with the sqlite-vec extension auto-loaded into every connection
// of the mattn/go-sqlite3 driver. Enables vec0 virtual tables for ANN search
// on large chunk corpora.
const driverName = "sqlite3"

func init() {
	vec.Auto()
}
