//go:build !cgo

package store

// modernc.org/sqlite is a pure-Go SQLite implementation; it is the fallback
// driver when CGO is disabled, trading the sqlite-vec ANN extension (which
// is CGO-only, see vector_cgo.go) for a build that needs no C toolchain.
import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
