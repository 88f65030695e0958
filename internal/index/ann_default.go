//go:build !(sqlite_vec && cgo)

package index

import _ "modernc.org/sqlite"

// annAvailable reports whether this build was compiled with the sqlite-vec
// extension linked in. The default build is CGO-free (modernc.org/sqlite)
// and always takes the linear-scan path in VectorSearch.
const annAvailable = false

// driverName is the database/sql driver registered for this build.
const driverName = "sqlite"
