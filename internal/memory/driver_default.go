//go:build !(sqlite_vec && cgo)

package memory

import (
	_ "modernc.org/sqlite" // pure-Go driver, no extension loading
)

// Without the sqlite_vec build tag the pure-Go driver serves. vec0 is
// unavailable, so similarity search falls back to a brute-force scan.
const driverName = "sqlite"
