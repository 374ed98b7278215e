package sqlgate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

// SQL queries for DescribeTable

// resolveTableSQL matches the name case-insensitively, preferring an exact
// match and then schemas on the search path.
const resolveTableSQL = `
SELECT
    n.nspname AS owner,
    c.relname AS table_name,
    CASE c.relkind
        WHEN 'r' THEN 'table'
        WHEN 'v' THEN 'view'
        WHEN 'm' THEN 'materialized_view'
        WHEN 'f' THEN 'foreign_table'
        WHEN 'p' THEN 'partitioned_table'
    END AS table_type,
    pg_catalog.obj_description(c.oid, 'pg_class') AS table_comment
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')
  AND lower(c.relname) = lower($2::text)
  AND` + userSchemas + `
  AND has_table_privilege(c.oid, 'SELECT')
ORDER BY
    (c.relname = $2::text) DESC,
    (n.nspname = ANY (pg_catalog.current_schemas(false))) DESC,
    n.nspname
LIMIT 1;
`

const columnsSQL = `
SELECT
    a.attname AS column_name,
    pg_catalog.format_type(a.atttypid, a.atttypmod) AS data_type,
    CASE
        WHEN a.atttypid IN (1042, 1043) AND a.atttypmod > 4 THEN a.atttypmod - 4
        WHEN a.attlen > 0 THEN a.attlen::int
    END AS data_length,
    CASE WHEN a.atttypid = 1700 AND a.atttypmod > 4 THEN ((a.atttypmod - 4) >> 16) & 65535 END AS data_precision,
    CASE WHEN a.atttypid = 1700 AND a.atttypmod > 4 THEN (a.atttypmod - 4) & 65535 END AS data_scale,
    NOT a.attnotnull AS nullable,
    pg_catalog.pg_get_expr(d.adbin, d.adrelid) AS data_default,
    pg_catalog.col_description(a.attrelid, a.attnum) AS column_comment,
    a.attnum::int AS column_id,
    EXISTS (
        SELECT 1 FROM pg_catalog.pg_index i
        WHERE i.indrelid = a.attrelid AND i.indisprimary AND a.attnum = ANY (i.indkey)
    ) AS is_primary_key
FROM pg_catalog.pg_attribute a
LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE a.attrelid = $1::regclass
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum;
`

const indexesSQL = `
SELECT
    ic.relname AS name,
    pg_catalog.pg_get_indexdef(i.indexrelid) AS definition,
    i.indisunique AS is_unique,
    i.indisprimary AS is_primary,
    ARRAY(
        SELECT a.attname::text
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = i.indrelid AND a.attnum = ANY (i.indkey)
    ) AS column_names,
    (i.indexprs IS NOT NULL OR i.indpred IS NOT NULL) AS has_expressions
FROM pg_catalog.pg_index i
JOIN pg_catalog.pg_class ic ON ic.oid = i.indexrelid
WHERE i.indrelid = $1::regclass
ORDER BY ic.relname;
`

const foreignKeysSQL = `
SELECT
    con.conname AS name,
    (
        SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.conkey, a.attnum))
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.conrelid AND a.attnum = ANY (con.conkey)
    ) AS columns,
    fn.nspname AS referenced_owner,
    fc.relname AS referenced_table,
    (
        SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.confkey, a.attnum))
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.confrelid AND a.attnum = ANY (con.confkey)
    ) AS referenced_columns,
    CASE con.confupdtype
        WHEN 'a' THEN 'NO ACTION'
        WHEN 'r' THEN 'RESTRICT'
        WHEN 'c' THEN 'CASCADE'
        WHEN 'n' THEN 'SET NULL'
        WHEN 'd' THEN 'SET DEFAULT'
    END AS on_update,
    CASE con.confdeltype
        WHEN 'a' THEN 'NO ACTION'
        WHEN 'r' THEN 'RESTRICT'
        WHEN 'c' THEN 'CASCADE'
        WHEN 'n' THEN 'SET NULL'
        WHEN 'd' THEN 'SET DEFAULT'
    END AS on_delete,
    ARRAY(
        SELECT a.attname::text
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.conrelid AND a.attnum = ANY (con.conkey)
    ) AS column_names,
    ARRAY(
        SELECT a.attname::text
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.confrelid AND a.attnum = ANY (con.confkey)
    ) AS referenced_column_names
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class fc ON fc.oid = con.confrelid
JOIN pg_catalog.pg_namespace fn ON fn.oid = fc.relnamespace
WHERE con.contype = 'f'
  AND con.conrelid = $1::regclass
ORDER BY con.conname;
`

// DescribeTable returns the columns of a table, view or materialized view.
// Columns outside the column whitelist are omitted, together with the
// indexes and foreign keys that mention them. A table that does not
// exist, cannot be read, or is outside the table whitelist is NotFound.
func (g *Gateway) DescribeTable(ctx context.Context, input DescribeTableInput) (*TableMetadata, error) {
	startTime := time.Now()

	meta, err := g.describeTable(ctx, input)
	if err != nil {
		return nil, g.fail("describe_table", err)
	}

	g.logger.Info().
		Str("owner", meta.Owner).
		Str("table", meta.TableName).
		Dur("duration", time.Since(startTime)).
		Str("type", meta.TableType).
		Int("column_count", meta.ColumnCount).
		Msg("DescribeTable executed")

	return meta, nil
}

func (g *Gateway) describeTable(ctx context.Context, input DescribeTableInput) (*TableMetadata, error) {
	name := strings.TrimSpace(input.TableName)
	if name == "" {
		return nil, errs.New(errs.KindInvalidInput, "table_name must be non-empty")
	}
	owner := strings.TrimSpace(input.Owner)

	var meta *TableMetadata
	err := g.readOnly(ctx, g.metadata, g.metadataTimeout(), func(ctx context.Context, tx pgx.Tx) error {
		m := &TableMetadata{}
		err := tx.QueryRow(ctx, resolveTableSQL, ownerArg(owner), name).
			Scan(&m.Owner, &m.TableName, &m.TableType, &m.TableComment)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(owner, name)
		}
		if err != nil {
			return err
		}
		if !g.policy.TableAllowed(m.Owner, m.TableName) {
			return notFound(owner, name)
		}

		qualName := quoteIdent(m.Owner) + "." + quoteIdent(m.TableName)
		if err := g.fetchColumns(ctx, tx, qualName, m); err != nil {
			return err
		}
		if err := g.fetchIndexes(ctx, tx, qualName, m); err != nil {
			return err
		}
		if err := g.fetchForeignKeys(ctx, tx, qualName, m); err != nil {
			return err
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func notFound(owner, name string) *errs.Error {
	e := errs.Newf(errs.KindNotFound, "table %s not found", qualifiedName(owner, name))
	e.Hint = "Use list_tables to see the tables you may query."
	return e
}

func (g *Gateway) fetchColumns(ctx context.Context, tx pgx.Tx, qualName string, m *TableMetadata) error {
	rows, err := tx.Query(ctx, columnsSQL, qualName)
	if err != nil {
		return err
	}
	defer rows.Close()

	m.Columns = make([]ColumnMetadata, 0)
	for rows.Next() {
		var c ColumnMetadata
		if err := rows.Scan(&c.ColumnName, &c.DataType, &c.DataLength, &c.DataPrecision, &c.DataScale,
			&c.Nullable, &c.DataDefault, &c.ColumnComment, &c.ColumnID, &c.IsPrimaryKey); err != nil {
			return err
		}
		if g.policy.ColumnAllowed(m.TableName, c.ColumnName) {
			m.Columns = append(m.Columns, c)
		}
	}
	m.ColumnCount = len(m.Columns)
	return rows.Err()
}

func (g *Gateway) fetchIndexes(ctx context.Context, tx pgx.Tx, qualName string, m *TableMetadata) error {
	rows, err := tx.Query(ctx, indexesSQL, qualName)
	if err != nil {
		return err
	}
	defer rows.Close()

	m.Indexes = make([]IndexInfo, 0)
	for rows.Next() {
		var idx IndexInfo
		var columns []string
		var hasExpressions bool
		if err := rows.Scan(&idx.Name, &idx.Definition, &idx.IsUnique, &idx.IsPrimary, &columns, &hasExpressions); err != nil {
			return err
		}
		if g.indexVisible(m.TableName, columns, hasExpressions) {
			m.Indexes = append(m.Indexes, idx)
		}
	}
	return rows.Err()
}

func (g *Gateway) fetchForeignKeys(ctx context.Context, tx pgx.Tx, qualName string, m *TableMetadata) error {
	rows, err := tx.Query(ctx, foreignKeysSQL, qualName)
	if err != nil {
		return err
	}
	defer rows.Close()

	m.ForeignKeys = make([]ForeignKeyInfo, 0)
	for rows.Next() {
		var fk ForeignKeyInfo
		var columns, referenced []string
		if err := rows.Scan(&fk.Name, &fk.Columns, &fk.ReferencedOwner, &fk.ReferencedTable,
			&fk.ReferencedColumns, &fk.OnUpdate, &fk.OnDelete, &columns, &referenced); err != nil {
			return err
		}
		if g.foreignKeyVisible(m.TableName, fk, columns, referenced) {
			m.ForeignKeys = append(m.ForeignKeys, fk)
		}
	}
	return rows.Err()
}

// indexVisible hides an index whose definition would name a suppressed
// column. Expression and partial indexes cannot be checked column by column
// and are hidden whenever a column whitelist is configured.
func (g *Gateway) indexVisible(table string, columns []string, hasExpressions bool) bool {
	if !g.policy.RestrictsColumns() {
		return true
	}
	if hasExpressions {
		return false
	}
	return g.columnsAllowed(table, columns)
}

// foreignKeyVisible hides a foreign key that names a suppressed column on
// either side or points at a table outside the table whitelist.
func (g *Gateway) foreignKeyVisible(table string, fk ForeignKeyInfo, columns, referenced []string) bool {
	if !g.policy.TableAllowed(fk.ReferencedOwner, fk.ReferencedTable) {
		return false
	}
	return g.columnsAllowed(table, columns) && g.columnsAllowed(fk.ReferencedTable, referenced)
}

func (g *Gateway) columnsAllowed(table string, columns []string) bool {
	for _, c := range columns {
		if !g.policy.ColumnAllowed(table, c) {
			return false
		}
	}
	return true
}

// quoteIdent quotes a PostgreSQL identifier for use in a regclass literal.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
