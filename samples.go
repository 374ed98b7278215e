package sqlgate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// sampleColumnCount bounds how many columns get per-column examples.
const sampleColumnCount = 5

type columnCategory int

const (
	categoryOther columnCategory = iota
	categoryText
	categoryNumeric
	categoryTemporal
)

// plainIdent matches identifiers that need no quoting.
var plainIdent = regexp.MustCompile(`^[a-z_][a-z0-9_$]*$`)

// reservedWords are common column names that must be quoted.
var reservedWords = map[string]bool{
	"all": true, "and": true, "as": true, "asc": true, "case": true, "check": true, "column": true,
	"default": true, "desc": true, "distinct": true, "do": true, "else": true, "end": true,
	"from": true, "group": true, "having": true, "in": true, "limit": true, "not": true,
	"null": true, "offset": true, "on": true, "or": true, "order": true, "primary": true,
	"select": true, "table": true, "to": true, "user": true, "when": true, "where": true,
}

// GenerateSampleQueries returns example statements for a table, built from
// the columns DescribeTable reports.
func (g *Gateway) GenerateSampleQueries(ctx context.Context, input SampleQueriesInput) (*SampleQueriesResult, error) {
	startTime := time.Now()

	meta, err := g.describeTable(ctx, DescribeTableInput{TableName: input.TableName, Owner: input.Owner})
	if err != nil {
		return nil, g.fail("sample_queries", err)
	}

	queries := sampleQueries(meta, g.policy.RestrictsColumns())

	g.logger.Info().
		Str("owner", meta.Owner).
		Str("table", meta.TableName).
		Dur("duration", time.Since(startTime)).
		Int("query_count", len(queries)).
		Msg("GenerateSampleQueries executed")

	return &SampleQueriesResult{
		Owner:         meta.Owner,
		TableName:     meta.TableName,
		SampleQueries: queries,
	}, nil
}

// sampleQueries builds the examples. With a column whitelist in force the
// select-all example names the visible columns instead of using *.
func sampleQueries(meta *TableMetadata, explicitColumns bool) []string {
	ref := sqlIdent(meta.Owner) + "." + sqlIdent(meta.TableName)

	selectList := "*"
	if explicitColumns && len(meta.Columns) > 0 {
		names := make([]string, len(meta.Columns))
		for i, c := range meta.Columns {
			names[i] = sqlIdent(c.ColumnName)
		}
		selectList = strings.Join(names, ", ")
	}

	queries := []string{
		fmt.Sprintf("-- Basic select all\nSELECT %s FROM %s LIMIT 10;", selectList, ref),
		fmt.Sprintf("-- Count total rows\nSELECT COUNT(*) FROM %s;", ref),
	}

	columns := meta.Columns
	if len(columns) > sampleColumnCount {
		columns = columns[:sampleColumnCount]
	}
	for _, c := range columns {
		col := sqlIdent(c.ColumnName)
		switch categorize(c.DataType) {
		case categoryText:
			queries = append(queries, fmt.Sprintf("-- Find distinct values for %s\nSELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL LIMIT 20;", c.ColumnName, col, ref, col))
		case categoryNumeric:
			queries = append(queries, fmt.Sprintf("-- Statistics for %s\nSELECT MIN(%s), MAX(%s), AVG(%s) FROM %s;", c.ColumnName, col, col, col, ref))
		case categoryTemporal:
			queries = append(queries, fmt.Sprintf("-- Date range for %s\nSELECT MIN(%s), MAX(%s) FROM %s;", c.ColumnName, col, col, ref))
		}
	}
	return queries
}

// categorize groups a format_type() name.
func categorize(dataType string) columnCategory {
	t := strings.ToLower(dataType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i]) + t[strings.IndexByte(t, ')')+1:]
	}
	switch {
	case t == "text", t == "citext", t == "name",
		strings.HasPrefix(t, "character"), strings.HasPrefix(t, "varchar"), strings.HasPrefix(t, "char"):
		return categoryText
	case t == "smallint", t == "integer", t == "bigint", t == "numeric", t == "decimal",
		t == "real", t == "double precision", t == "money":
		return categoryNumeric
	case t == "date", strings.HasPrefix(t, "timestamp"), strings.HasPrefix(t, "time"):
		return categoryTemporal
	}
	return categoryOther
}

// sqlIdent quotes name only when PostgreSQL would otherwise fold or reject
// it.
func sqlIdent(name string) string {
	if plainIdent.MatchString(name) && !reservedWords[name] {
		return name
	}
	return quoteIdent(name)
}
