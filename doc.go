// Package sqlgate provides read-only, policy-filtered PostgreSQL access for
// AI agents through the Model Context Protocol (MCP).
//
// It exposes eight tools (execute_query, describe_table, list_tables,
// list_views, list_procedures, explain_query, generate_sample_queries and
// export_query_results) and two resources. Every statement passes through
// the same pipeline before it reaches the database: a lexical classifier
// that admits only SELECT, WITH, EXPLAIN and DESCRIBE and appends a row
// limit, a verification pass over PostgreSQL's own parse tree via pg_query,
// and the table whitelist. Statements then run inside a READ ONLY transaction that
// is always rolled back.
//
// Results are normalized to JSON scalars. Values that cannot be represented
// exactly as JSON numbers (numerics beyond int64 and float64 precision,
// timestamps, intervals, bytea) become strings.
//
// # Library Usage
//
//	g, err := sqlgate.New(connString, sqlgate.Config{
//		Pool:  sqlgate.PoolConfig{MaxConns: 10},
//		Query: sqlgate.QueryConfig{LimitSize: 100},
//		Access: sqlgate.AccessConfig{
//			Tables: []string{"public.orders", "public.customers"},
//		},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer g.Close()
//
//	// Use directly
//	result, err := g.ExecuteQuery(ctx, sqlgate.QueryInput{SQL: "SELECT * FROM orders"})
//	if sqlgate.IsPolicyViolation(err) {
//		// rejected before reaching the database
//	}
//
//	// Or register as MCP tools and resources
//	sqlgate.RegisterMCPTools(mcpServer, g)
//	sqlgate.RegisterMCPResources(mcpServer, g)
//
// # Errors
//
// Every operation returns *Error. Its Kind tells the agent whether to fix
// the statement (policy_violation, execution_error, invalid_input), look
// elsewhere (not_found) or retry (pool_exhausted, timeout). Error prompt
// rules attach a Hint when the message matches a configured pattern.
package sqlgate
