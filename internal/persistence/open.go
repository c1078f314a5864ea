package persistence

import (
	"context"
	"fmt"
)

// Backends accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

// Options selects and configures a backend. Fields that a backend does not
// use are ignored.
type Options struct {
	Backend string `config:"backend"`

	// DSN is the SQL data source name (sqlite, postgres) or the MongoDB URI.
	DSN string `config:"dsn"`

	// Addr, Password and DB address a Redis server.
	Addr     string `config:"addr"`
	Password string `config:"password"`
	DB       int    `config:"db"`

	// Table is the SQL table, Redis stream or Mongo collection name.
	Table    string `config:"table"`
	Database string `config:"database"`
	Prefix   string `config:"prefix"`
	MaxLen   int64  `config:"max_len"`
}

// DefaultSQLiteDSN is used when the sqlite backend has no DSN.
const DefaultSQLiteDSN = "file:stagehand.db"

// DefaultOptions writes to a local SQLite file.
func DefaultOptions() Options {
	return Options{
		Backend: BackendSQLite,
		Addr:    "localhost:6379",
	}
}

// Open connects to the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (EnvelopeStore, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewInMemoryStore(), nil
	case BackendSQLite, "":
		dsn := opts.DSN
		if dsn == "" {
			dsn = DefaultSQLiteDSN
		}
		return OpenSQLite(ctx, dsn, opts.Table)
	case BackendPostgres:
		return OpenPostgres(ctx, opts.DSN, opts.Table)
	case BackendRedis:
		return OpenRedis(ctx, opts.Addr, opts.Password, opts.DB, opts.Prefix, opts.Table, opts.MaxLen)
	case BackendMongo:
		return OpenMongo(ctx, opts.DSN, opts.Database, opts.Table)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
