package sqlgate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickchristie/sqlgate-mcp/internal/classify"
	"github.com/rickchristie/sqlgate-mcp/internal/errs"
	"github.com/rickchristie/sqlgate-mcp/internal/export"
)

// ExportQueryResults runs a statement and renders its rows as JSON or CSV.
//
// No LIMIT is injected: every row is read, the first max_rows are exported
// and the rest are counted. When an object store is configured the document
// is uploaded and a presigned download URL is returned instead of the data.
func (g *Gateway) ExportQueryResults(ctx context.Context, input ExportInput) (*ExportResult, error) {
	startTime := time.Now()

	format, err := export.ParseFormat(input.Format)
	if err != nil {
		return nil, g.fail("export", err)
	}
	if input.MaxRows < 0 {
		return nil, g.fail("export", errs.Newf(errs.KindInvalidInput, "max_rows must be >= 0, got %d", input.MaxRows))
	}
	maxRows := g.config.Export.MaxRows
	if input.MaxRows > 0 && input.MaxRows < maxRows {
		maxRows = input.MaxRows
	}

	stmt, err := g.vet(input.SQL, 0)
	if err != nil {
		return nil, g.fail("export", err)
	}
	if stmt.Kind == classify.KindDescribe {
		return nil, g.fail("export", errs.Policy("DESCRIBE statements cannot be exported; use describe_table"))
	}

	var rs *rowSet
	var elapsed time.Duration
	err = g.readOnly(ctx, g.primary, g.timeoutMgr.GetTimeout(stmt.Text), func(ctx context.Context, tx pgx.Tx) error {
		execStart := time.Now()
		rows, err := tx.Query(ctx, stmt.Text)
		if err != nil {
			return err
		}
		rs, err = g.collect(rows, maxRows)
		elapsed = time.Since(execStart)
		return err
	})
	if err != nil {
		return nil, g.fail("export", err)
	}

	g.sanitizer.SanitizeRows(rs.columns, rs.rows)

	data, err := export.Encode(format, rs.columns, rs.rows)
	if err != nil {
		return nil, g.fail("export", errs.Wrap(errs.KindInternal, "failed to encode export", err))
	}

	result := &ExportResult{
		Format:               string(format),
		Bytes:                len(data),
		TotalRows:            rs.total,
		ExportedRows:         len(rs.rows),
		RequestedMaxRows:     maxRows,
		Truncated:            rs.total > len(rs.rows)+len(rs.rowErrors),
		RowErrors:            rs.rowErrors,
		Query:                stmt.Text,
		ExecutionTimeSeconds: elapsed.Seconds(),
	}

	sink := "inline"
	if g.store != nil {
		sink = "object_store"
		key := g.store.Key(g.now(), uuid.NewString(), format.Extension())
		obj, err := g.store.Put(ctx, key, format.ContentType(), data)
		if err != nil {
			return nil, g.fail("export", err)
		}
		url, err := g.store.PresignGet(ctx, obj.Key)
		if err != nil {
			return nil, g.fail("export", err)
		}
		result.ObjectKey = obj.Key
		result.DownloadURL = url
	} else {
		result.Data = string(data)
	}

	g.metrics.RecordQuery("export", elapsed, result.ExportedRows)
	g.metrics.RecordExport(string(format), sink, len(data))

	logEvent := g.logger.Info().
		Str("sql", truncateForLog(stmt.Text, 200)).
		Str("format", string(format)).
		Str("sink", sink).
		Dur("duration", time.Since(startTime)).
		Int("total_rows", result.TotalRows).
		Int("exported_rows", result.ExportedRows).
		Int("bytes", result.Bytes)
	if result.ObjectKey != "" {
		logEvent = logEvent.Str("object_key", result.ObjectKey)
	}
	logEvent.Msg("query exported")

	return result, nil
}
