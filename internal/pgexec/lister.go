package pgexec

import (
	"context"
	"log/slog"
)

// Template databases and databases that refuse connections are noise to
// callers picking an execution target.
const listDatabasesQuery = `SELECT datname FROM pg_database WHERE datistemplate = false AND datallowconn ORDER BY datname`

// Catalog is the set of databases visible to the server credential. It is
// recomputed on every call; the set changes as databases are created and
// dropped between calls.
type Catalog struct {
	Databases []string
	Count     int
}

// Lister enumerates databases through the admin database, never a caller
// database.
type Lister struct {
	cfg      Config
	log      *slog.Logger
	provider *Provider
}

func NewLister(cfg Config, log *slog.Logger, provider *Provider) *Lister {
	return &Lister{cfg: cfg, log: log, provider: provider}
}

func (l *Lister) List(ctx context.Context) (*Catalog, error) {
	conn, err := l.provider.Acquire(ctx, l.cfg.AdminDatabase)
	if err != nil {
		return nil, err
	}
	defer l.provider.Release(conn)

	qctx, cancel := context.WithTimeout(ctx, l.cfg.QueryTimeout)
	defer cancel()

	rows, err := conn.Query(qctx, listDatabasesQuery)
	if err != nil {
		return nil, wrapError(KindConnectionError, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapError(KindConnectionError, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(KindConnectionError, err)
	}

	l.log.Debug("pgexec: listed databases", "count", len(names))
	return &Catalog{Databases: names, Count: len(names)}, nil
}

// Ping verifies the admin database is reachable under the shared credential.
// Used by the readiness endpoint and the startup probe.
func (l *Lister) Ping(ctx context.Context) error {
	conn, err := l.provider.Acquire(ctx, l.cfg.AdminDatabase)
	if err != nil {
		return err
	}
	defer l.provider.Release(conn)
	return conn.Ping(ctx)
}
