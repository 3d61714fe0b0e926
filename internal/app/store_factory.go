package app

import (
	"context"
	"fmt"

	"github.com/shrimpsizemoose/examportal/internal/store"
	"github.com/shrimpsizemoose/examportal/internal/store/memory"
	"github.com/shrimpsizemoose/examportal/internal/store/mongo"
	"github.com/shrimpsizemoose/examportal/internal/store/postgres"
	"github.com/shrimpsizemoose/examportal/internal/store/redis"
	"github.com/shrimpsizemoose/examportal/internal/store/sqlite"
)

func NewStore(ctx context.Context, dsn string) (store.CollectionStore, error) {
	dbType := store.DetectType(dsn)

	switch dbType {
	case store.DBTypePostgres:
		return postgres.NewPostgresStore(dsn)
	case store.DBTypeRedis:
		return redis.NewRedisStore(ctx, dsn)
	case store.DBTypeMongo:
		return mongo.NewMongoStore(ctx, dsn)
	case store.DBTypeMemory:
		return memory.NewMemoryStore(), nil
	case store.DBTypeSQLite:
		return sqlite.NewSQLiteStore(&store.DBConfig{DSN: dsn, Type: dbType})
	default:
		return nil, fmt.Errorf("unable to determine database type from DSN: %s", dsn)
	}
}
