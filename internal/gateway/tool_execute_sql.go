package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gradekit/pggate/internal/gateway/metrics"
	"github.com/gradekit/pggate/internal/pgexec"
)

const executeSQLDescription = `
	PURPOSE:
	Execute a SQL statement on the named PostgreSQL database.

	Statements run under a server-enforced execution deadline and a maximum
	result-row cap; results larger than the cap are truncated. When the
	server is in read-only mode, only read-only statements (SELECT, SHOW,
	EXPLAIN SELECT, WITH ... SELECT) are accepted.

	EXAMPLES:
	- List tables: execute_sql('mydb', "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'")
	- Describe a table: execute_sql('mydb', "SELECT column_name, data_type FROM information_schema.columns WHERE table_name = 'users'")
	- Query data: execute_sql('mydb', 'SELECT * FROM users LIMIT 10')

	Failures carry a machine-checkable error_kind: INVALID_REQUEST,
	POLICY_VIOLATION, CONNECTION_ERROR, TIMEOUT, or QUERY_ERROR.
`

type ExecuteSQLInput struct {
	Database string `json:"database"`
	Query    string `json:"query"`
}

type ExecuteSQLOutput struct {
	Status    string       `json:"status"`
	Rows      []pgexec.Row `json:"rows"`
	RowCount  int          `json:"row_count"`
	Columns   []string     `json:"columns"`
	Message   string       `json:"message"`
	Truncated bool         `json:"truncated"`
	ErrorKind string       `json:"error_kind,omitempty"`
}

func RegisterExecuteSQLTool(log *slog.Logger, server *mcp.Server, executor Executor) error {
	req, err := jsonschema.For[ExecuteSQLInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create execute_sql input schema: %w", err)
	}

	res, err := jsonschema.For[ExecuteSQLOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create execute_sql output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "execute_sql",
		Description:  executeSQLDescription,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ExecuteSQLInput) (*mcp.CallToolResult, ExecuteSQLOutput, error) {
		startTime := time.Now()
		out := handleExecuteSQL(ctx, log, executor, in)
		duration := time.Since(startTime).Seconds()

		metrics.ToolCallsTotal.WithLabelValues("execute_sql", out.Status).Inc()
		metrics.ToolCallDuration.WithLabelValues("execute_sql").Observe(duration)

		// Failures stay structured: the caller always sees status, message,
		// and error_kind rather than a protocol fault.
		return nil, out, nil
	})
	return nil
}

func handleExecuteSQL(ctx context.Context, log *slog.Logger, executor Executor, in ExecuteSQLInput) ExecuteSQLOutput {
	if strings.TrimSpace(in.Database) == "" {
		return executeSQLFailure(pgexec.KindInvalidRequest, "database is required")
	}
	if strings.TrimSpace(in.Query) == "" {
		return executeSQLFailure(pgexec.KindInvalidRequest, "query is required")
	}

	log.Debug("gateway: executing sql", "database", in.Database)

	res, err := executor.Execute(ctx, in.Database, in.Query)
	if err != nil {
		kind := pgexec.KindOf(err)
		metrics.ExecuteSQLFailuresTotal.WithLabelValues(string(kind)).Inc()
		log.Debug("gateway: execute_sql failed", "database", in.Database, "kind", kind, "error", err)
		return executeSQLFailure(kind, failureMessage(err))
	}

	rows := res.Rows
	if rows == nil {
		rows = []pgexec.Row{}
	}
	columns := res.Columns
	if columns == nil {
		columns = []string{}
	}

	return ExecuteSQLOutput{
		Status:    "success",
		Rows:      rows,
		RowCount:  res.RowCount,
		Columns:   columns,
		Message:   successMessage(res),
		Truncated: res.Truncated,
	}
}

func successMessage(res *pgexec.Result) string {
	if len(res.Columns) == 0 {
		return fmt.Sprintf("Query executed successfully. %d rows affected.", res.RowCount)
	}
	msg := fmt.Sprintf("Query executed successfully. Returned %d rows.", res.RowCount)
	if res.Truncated {
		msg += fmt.Sprintf(" (Limited to %d rows)", res.RowCount)
	}
	return msg
}

func executeSQLFailure(kind pgexec.Kind, message string) ExecuteSQLOutput {
	return ExecuteSQLOutput{
		Status:    "error",
		Rows:      []pgexec.Row{},
		Columns:   []string{},
		Message:   message,
		ErrorKind: string(kind),
	}
}

// failureMessage extracts the human-readable message from a structured
// failure, falling back to the raw error text.
func failureMessage(err error) string {
	var e *pgexec.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
