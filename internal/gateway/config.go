package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gradekit/pggate/internal/pgexec"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// Executor runs one SQL statement against a named database under the
// process-wide time and row budgets. Implemented by *pgexec.Executor.
type Executor interface {
	Execute(ctx context.Context, database, query string) (*pgexec.Result, error)
}

// Lister enumerates the databases visible to the server credential and
// reports whether the server is reachable. Implemented by *pgexec.Lister.
type Lister interface {
	List(ctx context.Context) (*pgexec.Catalog, error)
	Ping(ctx context.Context) error
}

type Config struct {
	Logger *slog.Logger

	Executor Executor
	Lister   Lister

	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedTokens     []string // Bearer tokens allowed for MCP endpoint authentication
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if c.Lister == nil {
		return fmt.Errorf("lister is required")
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
