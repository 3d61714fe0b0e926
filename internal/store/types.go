package store

import "strings"

type DatabaseType string

const (
	DBTypePostgres DatabaseType = "postgres"
	DBTypeSQLite   DatabaseType = "sqlite"
	DBTypeRedis    DatabaseType = "redis"
	DBTypeMongo    DatabaseType = "mongo"
	DBTypeMemory   DatabaseType = "memory"
)

type DBConfig struct {
	DSN  string
	Type DatabaseType
}

// DetectType picks the backend from the DSN scheme. Anything without a
// known scheme is treated as a SQLite file path.
func DetectType(dsn string) DatabaseType {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DBTypePostgres
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return DBTypeRedis
	case strings.HasPrefix(dsn, "mongodb://"), strings.HasPrefix(dsn, "mongodb+srv://"):
		return DBTypeMongo
	case strings.HasPrefix(dsn, "memory://"):
		return DBTypeMemory
	default:
		return DBTypeSQLite
	}
}

type collectionRow struct {
	Name      string `db:"name"`
	Payload   string `db:"payload"`
	Revision  int64  `db:"revision"`
	Expected  int64  `db:"expected"`
	UpdatedAt int64  `db:"updated_at"`
}
