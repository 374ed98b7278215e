package sqlgate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

// RegisterMCPTools registers every gateway operation as an MCP tool on the
// given MCP server.
func RegisterMCPTools(mcpServer *server.MCPServer, g *Gateway) {
	// execute_query tool
	executeQueryTool := mcp.NewTool("execute_query",
		mcp.WithDescription("Execute a read-only SELECT, WITH or DESCRIBE statement. Unbounded SELECTs are limited to the configured row count. Returns columns and rows as JSON."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to execute"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum rows to return, capped at the server limit"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(executeQueryTool, g.loggedToolHandler("execute_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return missingArgument("sql"), nil
		}
		output, err := g.ExecuteQuery(ctx, QueryInput{SQL: sql, Limit: req.GetInt("limit", 0)})
		return toolResult(output, err, "query result")
	}))

	// describe_table tool
	describeTableTool := mcp.NewTool("describe_table",
		mcp.WithDescription("Describe a table or view: columns with types, nullability, defaults and comments, plus indexes and foreign keys."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table name to describe"),
		),
		mcp.WithString("owner",
			mcp.Description("The schema that owns the table (defaults to the search path)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(describeTableTool, g.loggedToolHandler("describe_table", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return missingArgument("table_name"), nil
		}
		output, err := g.DescribeTable(ctx, DescribeTableInput{TableName: table, Owner: req.GetString("owner", "")})
		return toolResult(output, err, "describe table result")
	}))

	ownerArgument := mcp.WithString("owner",
		mcp.Description("Only list objects in this schema"),
	)

	// list_tables tool
	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List the tables you may query, with row estimates, last analyze time and comments."),
		ownerArgument,
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listTablesTool, g.loggedToolHandler("list_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := g.ListTables(ctx, ListInput{Owner: req.GetString("owner", "")})
		return toolResult(output, err, "list tables result")
	}))

	// list_views tool
	listViewsTool := mcp.NewTool("list_views",
		mcp.WithDescription("List the views and materialized views you may query."),
		ownerArgument,
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listViewsTool, g.loggedToolHandler("list_views", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := g.ListViews(ctx, ListInput{Owner: req.GetString("owner", "")})
		return toolResult(output, err, "list views result")
	}))

	// list_procedures tool
	listProceduresTool := mcp.NewTool("list_procedures",
		mcp.WithDescription("List user-defined functions and procedures with their arguments and return types."),
		ownerArgument,
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listProceduresTool, g.loggedToolHandler("list_procedures", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := g.ListProcedures(ctx, ListInput{Owner: req.GetString("owner", "")})
		return toolResult(output, err, "list procedures result")
	}))

	// explain_query tool
	explainQueryTool := mcp.NewTool("explain_query",
		mcp.WithDescription("Show the estimated execution plan of a SELECT or WITH statement without running it."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to explain"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(explainQueryTool, g.loggedToolHandler("explain_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return missingArgument("sql"), nil
		}
		output, err := g.ExplainQuery(ctx, ExplainInput{SQL: sql})
		return toolResult(output, err, "explain result")
	}))

	// generate_sample_queries tool
	sampleQueriesTool := mcp.NewTool("generate_sample_queries",
		mcp.WithDescription("Generate example queries for a table based on its column types."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table to generate queries for"),
		),
		mcp.WithString("owner",
			mcp.Description("The schema that owns the table (defaults to the search path)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(sampleQueriesTool, g.loggedToolHandler("generate_sample_queries", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return missingArgument("table_name"), nil
		}
		output, err := g.GenerateSampleQueries(ctx, SampleQueriesInput{TableName: table, Owner: req.GetString("owner", "")})
		return toolResult(output, err, "sample queries result")
	}))

	// export_query_results tool
	exportTool := mcp.NewTool("export_query_results",
		mcp.WithDescription("Run a read-only statement and export its rows as JSON or CSV. Large exports may be returned as a download URL."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement whose rows to export"),
		),
		mcp.WithString("format",
			mcp.Description("Export format (defaults to json)"),
			mcp.Enum("json", "csv"),
		),
		mcp.WithNumber("max_rows",
			mcp.Description("Maximum rows to export, capped at the server limit"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(exportTool, g.loggedToolHandler("export_query_results", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return missingArgument("sql"), nil
		}
		output, err := g.ExportQueryResults(ctx, ExportInput{
			SQL:     sql,
			Format:  req.GetString("format", "json"),
			MaxRows: req.GetInt("max_rows", 0),
		})
		return toolResult(output, err, "export result")
	}))
}

// toolError is the JSON body of a failed tool call.
type toolError struct {
	Error toolErrorBody `json:"error"`
}

type toolErrorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
	Hint      string `json:"hint,omitempty"`
}

// toolResult encodes output as the tool's JSON text, or err as a tool error.
func toolResult(output any, err error, what string) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return errorResult(errs.Wrap(errs.KindInternal, "failed to marshal "+what, err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	e, ok := errs.As(err)
	if !ok {
		e = errs.Wrap(errs.KindInternal, err.Error(), err)
	}
	jsonBytes, mErr := json.Marshal(toolError{Error: toolErrorBody{
		Kind:      e.Kind.String(),
		Message:   e.Message,
		Code:      e.Code,
		Retryable: e.Retryable,
		Hint:      e.Hint,
	}})
	if mErr != nil {
		return mcp.NewToolResultError(e.Error())
	}
	return mcp.NewToolResultError(string(jsonBytes))
}

func missingArgument(name string) *mcp.CallToolResult {
	return errorResult(errs.Newf(errs.KindInvalidInput, "%s parameter is required", name))
}

// loggedToolHandler wraps a tool handler to log request and response lengths
// and record the call.
func (g *Gateway) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		startTime := time.Now()
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		failed := err != nil || (result != nil && result.IsError)
		g.metrics.RecordToolCall(tool, failed, time.Since(startTime))
		g.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Bool("is_error", failed).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
