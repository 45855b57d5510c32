//go:build !cgo

package history

import (
	"database/sql"
	"errors"
	"strings"

	sqlite "modernc.org/sqlite"
)

const driverName = "libsql"

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}

// Remote libsql URLs need the cgo driver.
func checkDSN(dsn string) error {
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "https://") {
		return errors.New("libsql URL requires cgo-enabled build")
	}
	return nil
}
