package pgexec

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// releaseTimeout bounds connection teardown. Release runs on a fresh context
// because the request context is often already cancelled on the paths that
// reach it.
const releaseTimeout = 5 * time.Second

// Conn is the slice of *pgx.Conn the executor needs. One Conn serves exactly
// one request and is closed when that request ends.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// DialFunc opens a connection from a connection string. Production wraps
// pgx.Connect; tests substitute fakes.
type DialFunc func(ctx context.Context, connString string) (Conn, error)

// Provider opens one fresh connection per request to a named database under
// the shared server credential. Connections are never pooled or reused:
// requests target different databases and must not see each other's session
// state.
type Provider struct {
	cfg  Config
	log  *slog.Logger
	dial DialFunc
}

func NewProvider(cfg Config, log *slog.Logger) *Provider {
	return &Provider{
		cfg: cfg,
		log: log,
		dial: func(ctx context.Context, connString string) (Conn, error) {
			return pgx.Connect(ctx, connString)
		},
	}
}

// Acquire opens a connection to database. It does not retry: retrying an
// authentication failure or an unknown database would only burn the caller's
// timeout budget.
func (p *Provider) Acquire(ctx context.Context, database string) (Conn, error) {
	conn, err := p.dial(ctx, p.connString(database))
	if err != nil {
		p.log.Debug("pgexec: connection failed", "database", database, "error", err)
		return nil, &Error{
			Kind:    KindConnectionError,
			Message: fmt.Sprintf("failed to connect to database %q: %v", database, err),
			cause:   err,
		}
	}
	return conn, nil
}

// Release closes conn. Safe to call on every exit path; close errors are
// logged, not propagated, since the request outcome is already decided.
func (p *Provider) Release(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		p.log.Warn("pgexec: failed to close connection", "error", err)
	}
}

func (p *Provider) connString(database string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.cfg.User, p.cfg.Password),
		Host:   net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port)),
		Path:   "/" + database,
	}
	q := url.Values{}
	q.Set("connect_timeout", strconv.Itoa(int(p.cfg.ConnectTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}
