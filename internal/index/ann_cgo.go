//go:build sqlite_vec && cgo

package index

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// When built with -tags sqlite_vec and CGO enabled, the real sqlite-vec
// extension is registered against the mattn/go-sqlite3 driver. vec.Auto()
// makes every "sqlite3"-driver connection in the process load the
// extension automatically. No vec0 table is created and VectorSearch still
// runs the linear scan in index.go.
func init() {
	vec.Auto()
}

// annAvailable reports whether this build was compiled with the sqlite-vec
// extension linked in.
const annAvailable = true

// driverName is the database/sql driver registered for this build.
const driverName = "sqlite3"
