package sqlgate

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickchristie/sqlgate-mcp/internal/classify"
	"github.com/rickchristie/sqlgate-mcp/internal/errs"
	"github.com/rickchristie/sqlgate-mcp/internal/normalize"
)

// describeColumns are the columns of a DESCRIBE statement answered through
// ExecuteQuery.
var describeColumns = []string{"column_name", "data_type", "nullable", "data_default", "column_comment"}

// ExecuteQuery runs one read-only statement and returns its normalized rows.
//
// The statement is classified and, when it is an unbounded SELECT, limited
// to input.Limit or the configured limit_size rows. DESCRIBE statements are
// answered from the catalog. Errors are *Error values.
func (g *Gateway) ExecuteQuery(ctx context.Context, input QueryInput) (*QueryResult, error) {
	startTime := time.Now()

	limit := g.config.Query.LimitSize
	if input.Limit < 0 {
		return nil, g.fail("execute", errs.Newf(errs.KindInvalidInput, "limit must be >= 0, got %d", input.Limit))
	}
	if input.Limit > 0 && (limit == 0 || input.Limit < limit) {
		limit = input.Limit
	}

	stmt, err := g.vet(input.SQL, limit)
	if err != nil {
		return nil, g.fail("execute", err)
	}
	if stmt.Kind == classify.KindDescribe {
		result, err := g.describeAsResult(ctx, stmt, startTime)
		if err != nil {
			return nil, g.fail("execute", err)
		}
		return result, nil
	}

	d, timeoutRule := g.timeoutMgr.GetTimeoutWithPattern(stmt.Text)

	var rs *rowSet
	var elapsed time.Duration
	err = g.readOnly(ctx, g.primary, d, func(ctx context.Context, tx pgx.Tx) error {
		execStart := time.Now()
		rows, err := tx.Query(ctx, stmt.Text)
		if err != nil {
			return err
		}
		rs, err = g.collect(rows, 0)
		elapsed = time.Since(execStart)
		return err
	})
	if err != nil {
		return nil, g.fail("execute", err)
	}

	sanitized := g.sanitizer.SanitizeRows(rs.columns, rs.rows)

	result := &QueryResult{
		Columns:              rs.columns,
		Rows:                 rs.rows,
		RowCount:             len(rs.rows),
		ExecutionTimeSeconds: elapsed.Seconds(),
		Query:                stmt.Text,
		RowErrors:            rs.rowErrors,
	}
	if stmt.Limited {
		result.RowLimit = limit
	}
	g.metrics.RecordQuery("execute", elapsed, result.RowCount)

	logEvent := g.logger.Info().
		Str("sql", truncateForLog(stmt.Text, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", result.RowCount).
		Bool("limited", stmt.Limited)
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if sanitized > 0 {
		logEvent = logEvent.Int("sanitized_values", sanitized)
	}
	if len(rs.rowErrors) > 0 {
		logEvent = logEvent.Int("withheld_rows", len(rs.rowErrors))
	}
	logEvent.Msg("query executed")

	return result, nil
}

// vet runs the classifier, the parser verification layer and the access
// policy over sql. A positive limit is appended to unbounded SELECTs.
func (g *Gateway) vet(sql string, limit int) (*classify.Statement, error) {
	if len(sql) > g.config.Query.MaxSQLLength {
		g.metrics.RecordRejection("length")
		return nil, errs.Policy("SQL statement too long: %d bytes exceeds maximum of %d bytes", len(sql), g.config.Query.MaxSQLLength)
	}

	stmt, err := g.classifier.VetWithLimit(sql, limit)
	if err != nil {
		g.metrics.RecordRejection("classifier")
		return nil, err
	}

	if stmt.Kind == classify.KindDescribe {
		if !g.policy.TableAllowed(stmt.TargetSchema, stmt.TargetName) {
			g.metrics.RecordRejection("policy")
			return nil, errs.Policy("access to table %s is not allowed", qualifiedName(stmt.TargetSchema, stmt.TargetName))
		}
		return stmt, nil
	}

	if g.protection != nil {
		if err := g.protection.Check(stmt.Text); err != nil {
			g.metrics.RecordRejection("parser")
			return nil, errs.Wrap(errs.KindPolicyViolation, err.Error(), err)
		}
	}

	if err := g.policy.CheckStatement(stmt.Tokens); err != nil {
		g.metrics.RecordRejection("policy")
		return nil, err
	}
	return stmt, nil
}

// describeAsResult answers a DESCRIBE statement with one row per column.
func (g *Gateway) describeAsResult(ctx context.Context, stmt *classify.Statement, startTime time.Time) (*QueryResult, error) {
	meta, err := g.describeTable(ctx, DescribeTableInput{TableName: stmt.TargetName, Owner: stmt.TargetSchema})
	if err != nil {
		return nil, err
	}
	rows := make([][]normalize.Scalar, len(meta.Columns))
	for i, col := range meta.Columns {
		rows[i] = []normalize.Scalar{
			normalize.String(col.ColumnName),
			normalize.String(col.DataType),
			normalize.Bool(col.Nullable),
			optionalString(col.DataDefault),
			optionalString(col.ColumnComment),
		}
	}
	return &QueryResult{
		Columns:              describeColumns,
		Rows:                 rows,
		RowCount:             len(rows),
		ExecutionTimeSeconds: time.Since(startTime).Seconds(),
		Query:                stmt.Text,
	}, nil
}

// rowSet is a collected result.
type rowSet struct {
	columns   []string
	rows      [][]normalize.Scalar
	total     int // rows read from the server, including withheld and skipped ones
	rowErrors []RowError
}

// collect reads every row of rows. When maxRows is positive only the first
// maxRows rows are kept; the rest are read and counted. Rows holding a value
// over the materialization guard are withheld and reported.
func (g *Gateway) collect(rows pgx.Rows, maxRows int) (*rowSet, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	rs := &rowSet{
		columns: make([]string, len(fieldDescs)),
		rows:    make([][]normalize.Scalar, 0),
	}
	fields := make([]normalize.Field, len(fieldDescs))
	for i, fd := range fieldDescs {
		rs.columns[i] = fd.Name
		fields[i] = normalize.Field{Name: fd.Name, OID: fd.DataTypeOID}
	}
	opts := normalize.Options{MaxValueBytes: g.config.Query.MaxValueBytes}

	for rows.Next() {
		rs.total++
		if maxRows > 0 && len(rs.rows)+len(rs.rowErrors) >= maxRows {
			continue
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row, err := normalize.Row(values, fields, opts)
		if errs.IsExportTooLarge(err) {
			e, _ := errs.As(err)
			rs.rowErrors = append(rs.rowErrors, RowError{Row: rs.total - 1, Message: e.Message})
			continue
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "failed to normalize row", err)
		}
		rs.rows = append(rs.rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

func optionalString(s *string) normalize.Scalar {
	if s == nil {
		return normalize.Null()
	}
	return normalize.String(*s)
}

func qualifiedName(schema, name string) string {
	if schema == "" {
		return name
	}
	return schema + "." + name
}
