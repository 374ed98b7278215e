package sqlgate

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// userSchemas excludes system schemas. Every catalog query shares it.
const userSchemas = `
  n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
  AND n.nspname NOT LIKE 'pg\_temp\_%'
  AND n.nspname NOT LIKE 'pg\_toast\_temp\_%'
  AND ($1::text IS NULL OR lower(n.nspname) = lower($1::text))`

const listTablesSQL = `
SELECT
    n.nspname AS owner,
    c.relname AS table_name,
    pg_catalog.pg_get_userbyid(c.relowner) AS table_owner,
    CASE c.relkind
        WHEN 'r' THEN 'table'
        WHEN 'p' THEN 'partitioned_table'
        WHEN 'f' THEN 'foreign_table'
    END AS type,
    CASE WHEN c.reltuples < 0 THEN NULL ELSE c.reltuples::bigint END AS num_rows,
    GREATEST(s.last_analyze, s.last_autoanalyze) AS last_analyzed,
    pg_catalog.obj_description(c.oid, 'pg_class') AS table_comment
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_stat_all_tables s ON s.relid = c.oid
WHERE c.relkind IN ('r', 'p', 'f')
  AND NOT c.relispartition
  AND` + userSchemas + `
  AND has_table_privilege(c.oid, 'SELECT')
ORDER BY n.nspname, c.relname;
`

const listViewsSQL = `
SELECT
    n.nspname AS owner,
    c.relname AS view_name,
    pg_catalog.obj_description(c.oid, 'pg_class') AS view_comment,
    c.relkind = 'm' AS materialized
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('v', 'm')
  AND` + userSchemas + `
  AND has_table_privilege(c.oid, 'SELECT')
ORDER BY n.nspname, c.relname;
`

const listProceduresSQL = `
SELECT
    n.nspname AS owner,
    p.proname AS object_name,
    CASE p.prokind
        WHEN 'f' THEN 'FUNCTION'
        WHEN 'p' THEN 'PROCEDURE'
        WHEN 'a' THEN 'AGGREGATE'
        WHEN 'w' THEN 'WINDOW'
    END AS object_type,
    pg_catalog.pg_get_function_identity_arguments(p.oid) AS arguments,
    CASE WHEN p.prokind = 'p' THEN NULL ELSE pg_catalog.pg_get_function_result(p.oid) END AS return_type
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
LEFT JOIN pg_catalog.pg_depend d ON d.classid = 'pg_catalog.pg_proc'::regclass AND d.objid = p.oid AND d.deptype = 'e'
WHERE d.objid IS NULL
  AND` + userSchemas + `
  AND has_function_privilege(p.oid, 'EXECUTE')
ORDER BY n.nspname, p.proname, arguments;
`

// ListTables returns the tables readable by the current identity that pass
// the table whitelist. Partitions are folded into their parent.
func (g *Gateway) ListTables(ctx context.Context, input ListInput) (*ListTablesResult, error) {
	startTime := time.Now()

	tables, err := g.listTables(ctx, input)
	if err != nil {
		return nil, g.fail("list_tables", err)
	}

	g.logger.Info().
		Str("owner", input.Owner).
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("ListTables executed")

	return &ListTablesResult{Tables: tables}, nil
}

func (g *Gateway) listTables(ctx context.Context, input ListInput) ([]TableSummary, error) {
	tables := make([]TableSummary, 0)
	err := g.readOnly(ctx, g.metadata, g.metadataTimeout(), func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, listTablesSQL, ownerArg(input.Owner))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t TableSummary
			if err := rows.Scan(&t.Owner, &t.TableName, &t.TableOwner, &t.Type, &t.NumRows, &t.LastAnalyzed, &t.TableComment); err != nil {
				return err
			}
			if g.policy.TableAllowed(t.Owner, t.TableName) {
				tables = append(tables, t)
			}
		}
		return rows.Err()
	})
	return tables, err
}

// ListViews returns the views and materialized views readable by the
// current identity that pass the table whitelist.
func (g *Gateway) ListViews(ctx context.Context, input ListInput) (*ListViewsResult, error) {
	startTime := time.Now()

	views, err := g.listViews(ctx, input)
	if err != nil {
		return nil, g.fail("list_views", err)
	}

	g.logger.Info().
		Str("owner", input.Owner).
		Dur("duration", time.Since(startTime)).
		Int("view_count", len(views)).
		Msg("ListViews executed")

	return &ListViewsResult{Views: views}, nil
}

func (g *Gateway) listViews(ctx context.Context, input ListInput) ([]ViewSummary, error) {
	views := make([]ViewSummary, 0)
	err := g.readOnly(ctx, g.metadata, g.metadataTimeout(), func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, listViewsSQL, ownerArg(input.Owner))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v ViewSummary
			if err := rows.Scan(&v.Owner, &v.ViewName, &v.ViewComment, &v.Materialized); err != nil {
				return err
			}
			if g.policy.TableAllowed(v.Owner, v.ViewName) {
				views = append(views, v)
			}
		}
		return rows.Err()
	})
	return views, err
}

// ListProcedures returns the functions and procedures the current identity
// may execute. Objects installed by extensions are omitted.
func (g *Gateway) ListProcedures(ctx context.Context, input ListInput) (*ListProceduresResult, error) {
	startTime := time.Now()

	procs, err := g.listProcedures(ctx, input)
	if err != nil {
		return nil, g.fail("list_procedures", err)
	}

	g.logger.Info().
		Str("owner", input.Owner).
		Dur("duration", time.Since(startTime)).
		Int("procedure_count", len(procs)).
		Msg("ListProcedures executed")

	return &ListProceduresResult{Procedures: procs}, nil
}

func (g *Gateway) listProcedures(ctx context.Context, input ListInput) ([]ProcedureSummary, error) {
	procs := make([]ProcedureSummary, 0)
	err := g.readOnly(ctx, g.metadata, g.metadataTimeout(), func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, listProceduresSQL, ownerArg(input.Owner))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p := ProcedureSummary{Status: "VALID"}
			if err := rows.Scan(&p.Owner, &p.ObjectName, &p.ObjectType, &p.Arguments, &p.ReturnType); err != nil {
				return err
			}
			procs = append(procs, p)
		}
		return rows.Err()
	})
	return procs, err
}

// ownerArg binds an empty owner filter as NULL.
func ownerArg(owner string) *string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil
	}
	return &owner
}
