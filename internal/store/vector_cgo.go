//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"kaioken/internal/logging"
)

// vectorExtAvailable is true only in builds carrying both CGO and the
// sqlite_vec build tag. vec.Auto() registers the extension with every
// subsequently opened *sql.DB connection in this process, matching the
// teacher's internal/store/init_vec.go.
func init() {
	vec.Auto()
	vectorExtAvailable = true
	logging.Store("sqlite-vec extension registered (cgo build)")
}
