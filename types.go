package sqlgate

import (
	"time"

	"github.com/rickchristie/sqlgate-mcp/internal/normalize"
)

// Scalar is a normalized result value: null, integer, float, string or
// boolean.
type Scalar = normalize.Scalar

// QueryInput is the input for ExecuteQuery.
type QueryInput struct {
	SQL string `json:"sql"`
	// Limit overrides the injected row limit for this call. It is capped at
	// the configured limit; zero uses the configured limit.
	Limit int `json:"limit,omitempty"`
}

// RowError reports a row withheld because one of its values could not be
// materialized.
type RowError struct {
	Row     int    `json:"row"` // zero-based position in the result stream
	Message string `json:"message"`
}

// QueryResult is the output of ExecuteQuery.
type QueryResult struct {
	Columns              []string   `json:"columns"`
	Rows                 [][]Scalar `json:"rows"`
	RowCount             int        `json:"row_count"`
	ExecutionTimeSeconds float64    `json:"execution_time_seconds"`
	Query                string     `json:"query"`
	// RowLimit is the LIMIT appended to the statement, zero when none was.
	RowLimit  int        `json:"row_limit,omitempty"`
	RowErrors []RowError `json:"row_errors,omitempty"`
}

// ExplainInput is the input for ExplainQuery.
type ExplainInput struct {
	SQL string `json:"sql"`
}

// PlanRow is one node of a flattened execution plan, in pre-order.
type PlanRow struct {
	ID          int      `json:"id"`
	ParentID    *int     `json:"parent_id"`
	Depth       int      `json:"depth"`
	Operation   string   `json:"operation"`
	Options     string   `json:"options,omitempty"`
	ObjectOwner string   `json:"object_owner,omitempty"`
	ObjectName  string   `json:"object_name,omitempty"`
	IndexName   string   `json:"index_name,omitempty"`
	Alias       string   `json:"alias,omitempty"`
	Cost        float64  `json:"cost"`
	StartupCost float64  `json:"startup_cost"`
	Cardinality int64    `json:"cardinality"`
	Width       int64    `json:"width"`
	Bytes       int64    `json:"bytes"`
	Predicates  []string `json:"predicates,omitempty"`
}

// ExplainResult is the output of ExplainQuery.
type ExplainResult struct {
	StatementID          string    `json:"statement_id"`
	Query                string    `json:"query"`
	Plan                 []PlanRow `json:"plan"`
	TotalCost            float64   `json:"total_cost"`
	ExecutionTimeSeconds float64   `json:"execution_time_seconds"`
}

// ListInput filters introspection listings by schema.
type ListInput struct {
	Owner string `json:"owner,omitempty"`
}

// TableSummary is one entry of ListTables.
type TableSummary struct {
	Owner        string     `json:"owner"`
	TableName    string     `json:"table_name"`
	TableOwner   string     `json:"table_owner"`
	Type         string     `json:"type"` // table, partitioned_table, foreign_table
	NumRows      *int64     `json:"num_rows"`
	LastAnalyzed *time.Time `json:"last_analyzed"`
	TableComment *string    `json:"table_comment"`
}

// ListTablesResult is the output of ListTables.
type ListTablesResult struct {
	Tables []TableSummary `json:"tables"`
}

// ViewSummary is one entry of ListViews.
type ViewSummary struct {
	Owner        string  `json:"owner"`
	ViewName     string  `json:"view_name"`
	ViewComment  *string `json:"view_comment"`
	Materialized bool    `json:"materialized"`
}

// ListViewsResult is the output of ListViews.
type ListViewsResult struct {
	Views []ViewSummary `json:"views"`
}

// ProcedureSummary is one entry of ListProcedures.
type ProcedureSummary struct {
	Owner      string  `json:"owner"`
	ObjectName string  `json:"object_name"`
	ObjectType string  `json:"object_type"` // FUNCTION, PROCEDURE, AGGREGATE, WINDOW
	Status     string  `json:"status"`
	Arguments  string  `json:"arguments"`
	ReturnType *string `json:"return_type"`
}

// ListProceduresResult is the output of ListProcedures.
type ListProceduresResult struct {
	Procedures []ProcedureSummary `json:"procedures"`
}

// DescribeTableInput is the input for DescribeTable. Owner is the schema;
// when empty the table is resolved through the search path.
type DescribeTableInput struct {
	TableName string `json:"table_name"`
	Owner     string `json:"owner,omitempty"`
}

// ColumnMetadata describes a single column.
type ColumnMetadata struct {
	ColumnName    string  `json:"column_name"`
	DataType      string  `json:"data_type"`
	DataLength    *int32  `json:"data_length"`
	DataPrecision *int32  `json:"data_precision"`
	DataScale     *int32  `json:"data_scale"`
	Nullable      bool    `json:"nullable"`
	DataDefault   *string `json:"data_default"`
	ColumnComment *string `json:"column_comment"`
	ColumnID      int32   `json:"column_id"`
	IsPrimaryKey  bool    `json:"is_primary_key"`
}

// IndexInfo describes a single index.
type IndexInfo struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	IsUnique   bool   `json:"is_unique"`
	IsPrimary  bool   `json:"is_primary"`
}

// ForeignKeyInfo describes a single foreign key.
type ForeignKeyInfo struct {
	Name              string `json:"name"`
	Columns           string `json:"columns"`
	ReferencedOwner   string `json:"referenced_owner"`
	ReferencedTable   string `json:"referenced_table"`
	ReferencedColumns string `json:"referenced_columns"`
	OnUpdate          string `json:"on_update"`
	OnDelete          string `json:"on_delete"`
}

// TableMetadata is the output of DescribeTable.
type TableMetadata struct {
	Owner        string           `json:"owner"`
	TableName    string           `json:"table_name"`
	TableType    string           `json:"table_type"` // table, view, materialized_view, foreign_table, partitioned_table
	TableComment *string          `json:"table_comment"`
	Columns      []ColumnMetadata `json:"columns"`
	ColumnCount  int              `json:"column_count"`
	Indexes      []IndexInfo      `json:"indexes"`
	ForeignKeys  []ForeignKeyInfo `json:"foreign_keys"`
}

// SampleQueriesInput is the input for GenerateSampleQueries.
type SampleQueriesInput struct {
	TableName string `json:"table_name"`
	Owner     string `json:"owner,omitempty"`
}

// SampleQueriesResult is the output of GenerateSampleQueries.
type SampleQueriesResult struct {
	Owner         string   `json:"owner"`
	TableName     string   `json:"table_name"`
	SampleQueries []string `json:"sample_queries"`
}

// ExportInput is the input for ExportQueryResults.
type ExportInput struct {
	SQL    string `json:"sql"`
	Format string `json:"format"` // json or csv
	// MaxRows caps the exported rows; zero or values above the configured
	// export.max_rows use the configured value.
	MaxRows int `json:"max_rows,omitempty"`
}

// ExportResult is the output of ExportQueryResults. Data is empty when the
// document was uploaded to the object store.
type ExportResult struct {
	Format               string     `json:"format"`
	Data                 string     `json:"data,omitempty"`
	Bytes                int        `json:"bytes"`
	TotalRows            int        `json:"total_rows"`
	ExportedRows         int        `json:"exported_rows"`
	RequestedMaxRows     int        `json:"requested_max_rows"`
	Truncated            bool       `json:"truncated"`
	RowErrors            []RowError `json:"row_errors,omitempty"`
	Query                string     `json:"query"`
	ExecutionTimeSeconds float64    `json:"execution_time_seconds"`
	ObjectKey            string     `json:"object_key,omitempty"`
	DownloadURL          string     `json:"download_url,omitempty"`
}

// SchemaOverview is the schema overview resource.
type SchemaOverview struct {
	DatabaseType   string             `json:"database_type"`
	Tables         []TableSummary     `json:"tables"`
	Views          []ViewSummary      `json:"views"`
	Procedures     []ProcedureSummary `json:"procedures"`
	TableCount     int                `json:"table_count"`
	ViewCount      int                `json:"view_count"`
	ProcedureCount int                `json:"procedure_count"`
	GeneratedAt    time.Time          `json:"generated_at"`
}
