//go:build !sqlite_vec || !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// The pure-Go modernc driver keeps the default build cgo-free. Similarity
// search runs over JSON-serialized embeddings in Go.
const driverName = "sqlite"
