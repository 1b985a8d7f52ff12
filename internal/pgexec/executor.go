package pgexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Result is the success side of an execution outcome. Statements without a
// result set report the server's affected-row count and an empty column list.
type Result struct {
	Columns   []string
	Rows      []Row
	RowCount  int
	Truncated bool
	Elapsed   time.Duration
}

// Executor runs one statement per call under the configured wall-clock
// deadline and row cap. Each call owns exactly one connection for its
// lifetime; the connection is released on every exit path before the
// outcome is returned.
type Executor struct {
	cfg      Config
	log      *slog.Logger
	provider *Provider
	clock    clockwork.Clock
}

func NewExecutor(cfg Config, log *slog.Logger, provider *Provider) *Executor {
	return &Executor{
		cfg:      cfg,
		log:      log,
		provider: provider,
		clock:    clockwork.NewRealClock(),
	}
}

func (e *Executor) Execute(ctx context.Context, database, query string) (*Result, error) {
	// Policy is checked before any connection is attempted.
	if e.cfg.ReadOnly && Classify(query) == Mutating {
		return nil, Errorf(KindPolicyViolation,
			"server is in read-only mode; only read-only statements are allowed")
	}

	conn, err := e.provider.Acquire(ctx, database)
	if err != nil {
		return nil, err
	}
	defer e.provider.Release(conn)

	// pgx sends a server-side cancel request when this context expires, so
	// the statement actually stops instead of running on detached.
	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	start := e.clock.Now()
	rows, err := conn.Query(qctx, query)
	if err != nil {
		return nil, e.mapQueryError(qctx, err)
	}

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	out := make([]Row, 0, min(e.cfg.MaxRows, 64))
	truncated := false
	for rows.Next() {
		if len(out) == e.cfg.MaxRows {
			truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			rows.Close()
			return nil, e.mapQueryError(qctx, err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}

	if truncated {
		// Cancel instead of draining: closing normally would read the whole
		// remainder off the wire, which defeats the row cap. The connection
		// is request-scoped, so aborting it costs nothing.
		cancel()
		rows.Close()
	} else {
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, e.mapQueryError(qctx, err)
		}
	}

	res := &Result{
		Columns:   columns,
		Rows:      out,
		RowCount:  len(out),
		Truncated: truncated,
		Elapsed:   e.clock.Since(start),
	}
	if len(columns) == 0 {
		res.RowCount = int(rows.CommandTag().RowsAffected())
	}

	e.log.Debug("pgexec: statement completed",
		"database", database,
		"row_count", res.RowCount,
		"truncated", res.Truncated,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// mapQueryError converts driver errors into the failure taxonomy. Server
// messages pass through verbatim; they are the caller's only diagnostics.
func (e *Executor) mapQueryError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		pgconn.Timeout(err) {
		return &Error{
			Kind: KindTimeout,
			Message: fmt.Sprintf("query exceeded the %s execution deadline and was cancelled",
				e.cfg.QueryTimeout),
			cause: err,
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{Kind: KindQueryError, Message: pgErr.Message, cause: err}
	}
	return wrapError(KindQueryError, err)
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return v
	}
}
