//go:build sqlite_vec && cgo

package memory

import (
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// Build with -tags sqlite_vec (cgo required) to get the vec0 virtual
// table for indexed similarity search.
const driverName = "sqlite3"

func init() {
	sqlite_vec.Auto()
}
