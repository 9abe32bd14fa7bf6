//go:build cgo

package store

// The CGO build uses mattn/go-sqlite3, matching the teacher's primary
// driver. A pure-Go fallback (modernc.org/sqlite) is registered instead
// when CGO is unavailable — see driver_nocgo.go.
import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"
