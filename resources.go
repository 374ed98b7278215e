package sqlgate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

const (
	overviewURI      = "sqlgate://schema/overview"
	tableURITemplate = "sqlgate://table/{name}"
	tableURIPrefix   = "sqlgate://table/"
)

// SchemaOverview lists every visible table, view and procedure in one
// document.
func (g *Gateway) SchemaOverview(ctx context.Context) (*SchemaOverview, error) {
	startTime := time.Now()

	tables, err := g.listTables(ctx, ListInput{})
	if err != nil {
		return nil, g.fail("schema_overview", err)
	}
	views, err := g.listViews(ctx, ListInput{})
	if err != nil {
		return nil, g.fail("schema_overview", err)
	}
	procs, err := g.listProcedures(ctx, ListInput{})
	if err != nil {
		return nil, g.fail("schema_overview", err)
	}

	g.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Int("view_count", len(views)).
		Int("procedure_count", len(procs)).
		Msg("SchemaOverview executed")

	return &SchemaOverview{
		DatabaseType:   "PostgreSQL",
		Tables:         tables,
		Views:          views,
		Procedures:     procs,
		TableCount:     len(tables),
		ViewCount:      len(views),
		ProcedureCount: len(procs),
		GeneratedAt:    g.now().UTC(),
	}, nil
}

// RegisterMCPResources registers the schema overview resource and the
// per-table resource template on the given MCP server.
func RegisterMCPResources(mcpServer *server.MCPServer, g *Gateway) {
	overview := mcp.NewResource(overviewURI, "Schema overview",
		mcp.WithResourceDescription("All tables, views and procedures visible to the gateway, with counts."),
		mcp.WithMIMEType("application/json"),
	)
	mcpServer.AddResource(overview, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		output, err := g.SchemaOverview(ctx)
		if err != nil {
			return nil, err
		}
		return jsonContents(req.Params.URI, output)
	})

	table := mcp.NewResourceTemplate(tableURITemplate, "Table metadata",
		mcp.WithTemplateDescription("Columns, indexes and foreign keys of one table. The name may be schema-qualified."),
		mcp.WithTemplateMIMEType("application/json"),
	)
	mcpServer.AddResourceTemplate(table, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		input, err := tableFromURI(req.Params.URI)
		if err != nil {
			return nil, err
		}
		output, err := g.DescribeTable(ctx, input)
		if err != nil {
			return nil, err
		}
		return jsonContents(req.Params.URI, output)
	})
}

// tableFromURI extracts "[schema.]table" from a sqlgate://table/ URI.
func tableFromURI(uri string) (DescribeTableInput, error) {
	raw, ok := strings.CutPrefix(uri, tableURIPrefix)
	if !ok || raw == "" {
		return DescribeTableInput{}, errs.Newf(errs.KindInvalidInput, "resource URI %q does not name a table", uri)
	}
	name, err := url.PathUnescape(raw)
	if err != nil {
		return DescribeTableInput{}, errs.Wrap(errs.KindInvalidInput, fmt.Sprintf("resource URI %q is not valid", uri), err)
	}
	if owner, table, found := strings.Cut(name, "."); found {
		return DescribeTableInput{Owner: owner, TableName: table}, nil
	}
	return DescribeTableInput{TableName: name}, nil
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to marshal resource", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
