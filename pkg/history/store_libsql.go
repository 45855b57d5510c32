//go:build cgo

package history

import (
	_ "github.com/tursodatabase/go-libsql"
)

const driverName = "libsql"

func checkDSN(string) error {
	return nil
}
