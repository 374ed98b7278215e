package sqlgate_test

import (
	"context"
	"strings"
	"testing"

	sqlgate "github.com/rickchristie/sqlgate-mcp"
)

// newOfflineGateway builds a Gateway whose pool never connects. Every case
// here must be decided before a session is leased.
func newOfflineGateway(t *testing.T, config sqlgate.Config) *sqlgate.Gateway {
	t.Helper()
	g, err := sqlgate.New(dummyConnString, config, configTestLogger())
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func assertKind(t *testing.T, err error, kind sqlgate.ErrorKind) *sqlgate.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	e, ok := sqlgate.AsError(err)
	if !ok {
		t.Fatalf("expected *sqlgate.Error, got %T: %v", err, err)
	}
	if e.Kind != kind {
		t.Fatalf("expected kind %s, got %s: %v", kind, e.Kind, err)
	}
	return e
}

func TestExecuteQuery_RejectsBeforeDatabase(t *testing.T) {
	t.Parallel()
	g := newOfflineGateway(t, sqlgate.Config{
		Access: sqlgate.AccessConfig{Tables: []string{"public.orders", "customers"}},
	})

	tests := []struct {
		name string
		sql  string
	}{
		{"insert", "INSERT INTO orders (id) VALUES (1)"},
		{"update", "UPDATE orders SET id = 2"},
		{"delete", "DELETE FROM orders"},
		{"drop", "DROP TABLE orders"},
		{"multiple statements", "SELECT 1; SELECT 2"},
		{"select into", "SELECT * INTO copy FROM orders"},
		{"for update", "SELECT * FROM orders FOR UPDATE"},
		{"data-modifying cte", "WITH d AS (DELETE FROM orders RETURNING *) SELECT * FROM d"},
		{"table outside whitelist", "SELECT * FROM secrets"},
		{"schema outside whitelist", "SELECT * FROM audit.orders"},
		{"join outside whitelist", "SELECT * FROM orders o JOIN payments p ON p.order_id = o.id"},
		{"describe outside whitelist", "DESCRIBE secrets"},
		{"explain analyze", "EXPLAIN ANALYZE SELECT * FROM orders"},
		{"empty", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := g.ExecuteQuery(context.Background(), sqlgate.QueryInput{SQL: tt.sql})
			assertKind(t, err, sqlgate.KindPolicyViolation)
			if !sqlgate.IsPolicyViolation(err) {
				t.Fatal("IsPolicyViolation should agree with Kind")
			}
			if sqlgate.IsRetryable(err) {
				t.Fatal("policy violations must not be retryable")
			}
		})
	}
}

func TestExecuteQuery_TooLong(t *testing.T) {
	t.Parallel()
	g := newOfflineGateway(t, sqlgate.Config{Query: sqlgate.QueryConfig{MaxSQLLength: 20}})

	_, err := g.ExecuteQuery(context.Background(), sqlgate.QueryInput{SQL: "SELECT id, name, email FROM users"})
	e := assertKind(t, err, sqlgate.KindPolicyViolation)
	if !strings.Contains(e.Message, "too long") {
		t.Fatalf("expected length message, got %q", e.Message)
	}
}

func TestExecuteQuery_NegativeLimit(t *testing.T) {
	t.Parallel()
	g := newOfflineGateway(t, sqlgate.Config{})

	_, err := g.ExecuteQuery(context.Background(), sqlgate.QueryInput{SQL: "SELECT 1", Limit: -1})
	assertKind(t, err, sqlgate.KindInvalidInput)
}

func TestExecuteQuery_DefaultErrorPromptAddsHint(t *testing.T) {
	t.Parallel()
	g := newOfflineGateway(t, sqlgate.Config{
		Access: sqlgate.AccessConfig{Tables: []string{"orders"}},
	})

	_, err := g.ExecuteQuery(context.Background(), sqlgate.QueryInput{SQL: "SELECT * FROM secrets"})
	e := assertKind(t, err, sqlgate.KindPolicyViolation)
	if !strings.Contains(e.Hint, "list_tables") {
		t.Fatalf("expected whitelist hint, got %q", e.Hint)
	}
}

func TestExecuteQuery_ConfiguredErrorPromptsReplaceDefaults(t *testing.T) {
	t.Parallel()
	g := newOfflineGateway(t, sqlgate.Config{
		ErrorPrompts: []sqlgate.ErrorPromptRule{
			{Pattern: `(?i)forbidden operation`, Message: "Ask a human to run writes."},
			{Pattern: `(?i)DELETE`, Message: "Deletes are audited."},
		},
	})

	_, err := g.ExecuteQuery(context.Background(), sqlgate.QueryInput{SQL: "DELETE FROM orders"})
	e := assertKind(t, err, sqlgate.KindPolicyViolation)
	if e.Hint != "Ask a human to run writes.\nDeletes are audited." {
		t.Fatalf("expected both prompts in order, got %q", e.Hint)
	}
}

func TestExplainQuery_RejectsNonQuery(t *testing.T) {
	t.Parallel()
	g := newOfflineGateway(t, sqlgate.Config{})

	for _, sql := range []string{"DESCRIBE orders", "EXPLAIN SELECT 1", "UPDATE orders SET id = 1"} {
		_, err := g.ExplainQuery(context.Background(), sqlgate.ExplainInput{SQL: sql})
		assertKind(t, err, sqlgate.KindPolicyViolation)
	}
}

func TestExportQueryResults_RejectsBeforeDatabase(t *testing.T) {
	t.Parallel()
	g := newOfflineGateway(t, sqlgate.Config{
		Access: sqlgate.AccessConfig{Tables: []string{"orders"}},
	})

	tests := []struct {
		name  string
		input sqlgate.ExportInput
		kind  sqlgate.ErrorKind
	}{
		{"unknown format", sqlgate.ExportInput{SQL: "SELECT * FROM orders", Format: "xlsx"}, sqlgate.KindPolicyViolation},
		{"negative max rows", sqlgate.ExportInput{SQL: "SELECT * FROM orders", Format: "csv", MaxRows: -1}, sqlgate.KindInvalidInput},
		{"write statement", sqlgate.ExportInput{SQL: "TRUNCATE orders", Format: "json"}, sqlgate.KindPolicyViolation},
		{"describe", sqlgate.ExportInput{SQL: "DESCRIBE orders", Format: "json"}, sqlgate.KindPolicyViolation},
		{"outside whitelist", sqlgate.ExportInput{SQL: "SELECT * FROM secrets", Format: "json"}, sqlgate.KindPolicyViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := g.ExportQueryResults(context.Background(), tt.input)
			assertKind(t, err, tt.kind)
		})
	}
}

func TestDescribeTable_EmptyName(t *testing.T) {
	t.Parallel()
	g := newOfflineGateway(t, sqlgate.Config{})

	_, err := g.DescribeTable(context.Background(), sqlgate.DescribeTableInput{TableName: "  "})
	assertKind(t, err, sqlgate.KindInvalidInput)

	_, err = g.GenerateSampleQueries(context.Background(), sqlgate.SampleQueriesInput{})
	assertKind(t, err, sqlgate.KindInvalidInput)
}

func TestExecuteQuery_ParserLayerCanBeDisabled(t *testing.T) {
	t.Parallel()
	disabled := false
	g := newOfflineGateway(t, sqlgate.Config{
		Protection: sqlgate.ProtectionConfig{VerifyWithParser: &disabled},
	})

	// The classifier still stands in front of the database.
	_, err := g.ExecuteQuery(context.Background(), sqlgate.QueryInput{SQL: "DELETE FROM orders"})
	assertKind(t, err, sqlgate.KindPolicyViolation)
}
