package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	BackendSQLite        = "sqlite"
	BackendElasticsearch = "elasticsearch"
	BackendPostgres      = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend    string
	Dimensions int
	// SQLite is the migrated database used by the sqlite backend.
	SQLite      *sql.DB
	Elastic     ElasticConfig
	PostgresDSN string
}

// Open builds the configured store and ensures its index exists.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Backend {
	case BackendSQLite, "":
		if opts.SQLite == nil {
			return nil, fmt.Errorf("sqlite vector store needs an open database")
		}
		s = NewSQLiteStore(opts.SQLite, opts.Dimensions)
	case BackendElasticsearch:
		s, err = NewElasticStore(opts.Elastic, opts.Dimensions)
	case BackendPostgres:
		s, err = NewPostgresStore(ctx, opts.PostgresDSN, opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if err := s.EnsureIndex(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
