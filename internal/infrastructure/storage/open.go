package storage

import (
	"fmt"

	"github.com/vitos/brokerage_gateway/internal/domain"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the ledger store for driver. path is used by sqlite, dsn by postgres.
func Open(driver, path, dsn string) (domain.LedgerStore, error) {
	switch driver {
	case "", DriverSQLite, "sqlite3":
		return NewSQLiteStore(path)
	case DriverPostgres:
		return NewPostgresStore(PostgresOption{ConnString: dsn})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
