package pgexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func testConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           5432,
		User:           "postgres",
		Password:       "secret",
		AdminDatabase:  "postgres",
		ReadOnly:       true,
		QueryTimeout:   5 * time.Second,
		MaxRows:        1000,
		ConnectTimeout: time.Second,
	}
}

type fakeRows struct {
	names  []string
	rows   [][]any
	idx    int
	tag    pgconn.CommandTag
	err    error
	closed bool
}

func (r *fakeRows) Close()                      { r.closed = true }
func (r *fakeRows) Err() error                  { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return r.tag }
func (r *fakeRows) RawValues() [][]byte         { return nil }
func (r *fakeRows) Conn() *pgx.Conn             { return nil }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.names))
	for i, name := range r.names {
		fds[i] = pgconn.FieldDescription{Name: name}
	}
	return fds
}

func (r *fakeRows) Next() bool {
	if r.closed || r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i, d := range dest {
		p, ok := d.(*string)
		if !ok {
			return fmt.Errorf("unsupported scan destination %T", d)
		}
		*p = row[i].(string)
	}
	return nil
}

type fakeConn struct {
	queryFn  func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	pingErr  error
	closeErr error
	closed   bool
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.queryFn(ctx, sql, args...)
}

func (c *fakeConn) Ping(ctx context.Context) error { return c.pingErr }

func (c *fakeConn) Close(ctx context.Context) error {
	c.closed = true
	return c.closeErr
}

func testProvider(t *testing.T, cfg Config, dial DialFunc) *Provider {
	t.Helper()
	p := NewProvider(cfg, testLogger(t))
	p.dial = dial
	return p
}

func dialTo(conn Conn) DialFunc {
	return func(ctx context.Context, connString string) (Conn, error) {
		return conn, nil
	}
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, kind, e.Kind)
}

func TestPGExec_Executor_PolicyViolation(t *testing.T) {
	t.Parallel()

	dialed := false
	dial := func(ctx context.Context, connString string) (Conn, error) {
		dialed = true
		return &fakeConn{}, nil
	}
	cfg := testConfig()
	exec := NewExecutor(cfg, testLogger(t), testProvider(t, cfg, dial))

	res, err := exec.Execute(t.Context(), "student_db1", "DELETE FROM students")
	require.Nil(t, res)
	requireKind(t, err, KindPolicyViolation)
	require.False(t, dialed, "policy violations must be rejected before any connection attempt")
}

func TestPGExec_Executor_SelectRows(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	conn.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return &fakeRows{
			names: []string{"id", "name"},
			rows: [][]any{
				{int32(1), []byte("alice")},
				{int32(2), "bob"},
			},
		}, nil
	}
	cfg := testConfig()
	exec := NewExecutor(cfg, testLogger(t), testProvider(t, cfg, dialTo(conn)))

	res, err := exec.Execute(t.Context(), "student_db1", "SELECT id, name FROM students")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, res.Columns)
	require.Equal(t, 2, res.RowCount)
	require.False(t, res.Truncated)
	require.Equal(t, int32(1), res.Rows[0]["id"])
	require.Equal(t, "alice", res.Rows[0]["name"], "byte slices are returned as strings")
	require.Equal(t, "bob", res.Rows[1]["name"])
	require.GreaterOrEqual(t, res.Elapsed, time.Duration(0))
	require.True(t, conn.closed, "connection must be released after the request")
}

func TestPGExec_Executor_Truncation(t *testing.T) {
	t.Parallel()

	makeRows := func(n int) [][]any {
		rows := make([][]any, n)
		for i := range rows {
			rows[i] = []any{int32(i)}
		}
		return rows
	}

	t.Run("result larger than max rows is cut off", func(t *testing.T) {
		t.Parallel()

		conn := &fakeConn{}
		conn.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &fakeRows{names: []string{"id"}, rows: makeRows(10)}, nil
		}
		cfg := testConfig()
		cfg.MaxRows = 3
		exec := NewExecutor(cfg, testLogger(t), testProvider(t, cfg, dialTo(conn)))

		res, err := exec.Execute(t.Context(), "student_db1", "SELECT * FROM students")
		require.NoError(t, err)
		require.Equal(t, 3, res.RowCount)
		require.Len(t, res.Rows, 3)
		require.True(t, res.Truncated)
		require.True(t, conn.closed)
	})

	t.Run("result exactly at max rows is not truncated", func(t *testing.T) {
		t.Parallel()

		conn := &fakeConn{}
		conn.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &fakeRows{names: []string{"id"}, rows: makeRows(3)}, nil
		}
		cfg := testConfig()
		cfg.MaxRows = 3
		exec := NewExecutor(cfg, testLogger(t), testProvider(t, cfg, dialTo(conn)))

		res, err := exec.Execute(t.Context(), "student_db1", "SELECT * FROM students")
		require.NoError(t, err)
		require.Equal(t, 3, res.RowCount)
		require.False(t, res.Truncated)
	})

	t.Run("result smaller than max rows is not truncated", func(t *testing.T) {
		t.Parallel()

		conn := &fakeConn{}
		conn.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &fakeRows{names: []string{"id"}, rows: makeRows(2)}, nil
		}
		cfg := testConfig()
		cfg.MaxRows = 3
		exec := NewExecutor(cfg, testLogger(t), testProvider(t, cfg, dialTo(conn)))

		res, err := exec.Execute(t.Context(), "student_db1", "SELECT * FROM students")
		require.NoError(t, err)
		require.Equal(t, 2, res.RowCount)
		require.False(t, res.Truncated)
	})
}

func TestPGExec_Executor_AffectedRows(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	conn.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return &fakeRows{tag: pgconn.NewCommandTag("DELETE 4")}, nil
	}
	cfg := testConfig()
	cfg.ReadOnly = false
	exec := NewExecutor(cfg, testLogger(t), testProvider(t, cfg, dialTo(conn)))

	res, err := exec.Execute(t.Context(), "student_db1", "DELETE FROM students WHERE id < 5")
	require.NoError(t, err)
	require.Empty(t, res.Columns)
	require.Empty(t, res.Rows)
	require.Equal(t, 4, res.RowCount, "mutating statements report the server's affected-row count")
	require.False(t, res.Truncated)
	require.True(t, conn.closed)
}

func TestPGExec_Executor_QueryErrorPassthrough(t *testing.T) {
	t.Parallel()

	serverMsg := `syntax error at or near "FORM"`
	conn := &fakeConn{}
	conn.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return nil, &pgconn.PgError{Severity: "ERROR", Code: "42601", Message: serverMsg}
	}
	cfg := testConfig()
	exec := NewExecutor(cfg, testLogger(t), testProvider(t, cfg, dialTo(conn)))

	res, err := exec.Execute(t.Context(), "student_db1", "SELECT * FORM students")
	require.Nil(t, res)
	requireKind(t, err, KindQueryError)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, serverMsg, e.Message, "server messages must pass through verbatim")
	require.True(t, conn.closed)
}

func TestPGExec_Executor_Timeout(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	conn.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	cfg := testConfig()
	cfg.QueryTimeout = 10 * time.Millisecond
	exec := NewExecutor(cfg, testLogger(t), testProvider(t, cfg, dialTo(conn)))

	res, err := exec.Execute(t.Context(), "student_db1", "SELECT pg_sleep(60)")
	require.Nil(t, res)
	requireKind(t, err, KindTimeout)
	require.True(t, conn.closed, "connection must be released synchronously on timeout")
}

func TestPGExec_Executor_ConnectionError(t *testing.T) {
	t.Parallel()

	dial := func(ctx context.Context, connString string) (Conn, error) {
		return nil, errors.New(`database "no_such_db" does not exist`)
	}
	cfg := testConfig()
	exec := NewExecutor(cfg, testLogger(t), testProvider(t, cfg, dial))

	res, err := exec.Execute(t.Context(), "no_such_db", "SELECT 1")
	require.Nil(t, res)
	requireKind(t, err, KindConnectionError)
	require.Contains(t, err.Error(), "no_such_db")
}

func TestPGExec_Executor_ReadOnlyAllowsSelect(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	conn.queryFn = func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return &fakeRows{names: []string{"one"}, rows: [][]any{{int32(1)}}}, nil
	}
	cfg := testConfig()
	require.True(t, cfg.ReadOnly)
	exec := NewExecutor(cfg, testLogger(t), testProvider(t, cfg, dialTo(conn)))

	res, err := exec.Execute(t.Context(), "student_db1", "SELECT 1")
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
}
