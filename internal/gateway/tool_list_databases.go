package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gradekit/pggate/internal/gateway/metrics"
)

const listDatabasesDescription = `
	PURPOSE:
	List the databases available on the PostgreSQL server.

	Returns database names that can be used as the database argument of
	execute_sql. Template databases and databases that refuse connections
	are excluded. The list is recomputed on every call.
`

type ListDatabasesInput struct{}

type ListDatabasesOutput struct {
	Status    string   `json:"status"`
	Databases []string `json:"databases"`
	Count     int      `json:"count"`
	Message   string   `json:"message,omitempty"`
}

func RegisterListDatabasesTool(log *slog.Logger, server *mcp.Server, lister Lister) error {
	req, err := jsonschema.For[ListDatabasesInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create list_databases input schema: %w", err)
	}

	res, err := jsonschema.For[ListDatabasesOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create list_databases output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "list_databases",
		Description:  listDatabasesDescription,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ListDatabasesInput) (*mcp.CallToolResult, ListDatabasesOutput, error) {
		startTime := time.Now()
		out := handleListDatabases(ctx, log, lister)
		duration := time.Since(startTime).Seconds()

		metrics.ToolCallsTotal.WithLabelValues("list_databases", out.Status).Inc()
		metrics.ToolCallDuration.WithLabelValues("list_databases").Observe(duration)

		return nil, out, nil
	})
	return nil
}

func handleListDatabases(ctx context.Context, log *slog.Logger, lister Lister) ListDatabasesOutput {
	catalog, err := lister.List(ctx)
	if err != nil {
		log.Debug("gateway: list_databases failed", "error", err)
		return ListDatabasesOutput{
			Status:    "error",
			Databases: []string{},
			Message:   failureMessage(err),
		}
	}

	databases := catalog.Databases
	if databases == nil {
		databases = []string{}
	}

	return ListDatabasesOutput{
		Status:    "success",
		Databases: databases,
		Count:     catalog.Count,
	}
}
