// Package policy implements the table and column whitelists.
//
// An empty whitelist admits everything. Names compare case-insensitively.
// Statement checks are token based and only deny tables they are sure about;
// introspection filters are exact because they operate on catalog records.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rickchristie/sqlgate-mcp/internal/classify"
	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

// Policy holds the immutable whitelists loaded at startup.
type Policy struct {
	tables    map[string]bool            // TABLE or SCHEMA.TABLE
	qualified map[string]bool            // TABLE part of SCHEMA.TABLE entries
	columns   map[string]map[string]bool // TABLE -> COLUMN
}

// New builds a Policy from table names ("TABLE" or "SCHEMA.TABLE") and
// column entries ("TABLE.COLUMN").
func New(tables, columns []string) (*Policy, error) {
	p := &Policy{
		tables:    make(map[string]bool),
		qualified: make(map[string]bool),
		columns:   make(map[string]map[string]bool),
	}
	for _, t := range tables {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		p.tables[t] = true
		if i := strings.LastIndex(t, "."); i >= 0 {
			p.qualified[t[i+1:]] = true
		}
	}
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		table, column, ok := strings.Cut(c, ".")
		table, column = strings.TrimSpace(table), strings.TrimSpace(column)
		if !ok || table == "" || column == "" || strings.Contains(column, ".") {
			return nil, fmt.Errorf("policy: invalid column whitelist entry %q: expected TABLE.COLUMN", c)
		}
		table, column = strings.ToUpper(table), strings.ToUpper(column)
		if p.columns[table] == nil {
			p.columns[table] = make(map[string]bool)
		}
		p.columns[table][column] = true
	}
	return p, nil
}

// AllowAll returns a Policy with empty whitelists.
func AllowAll() *Policy {
	p, _ := New(nil, nil)
	return p
}

// RestrictsTables reports whether a table whitelist is configured.
func (p *Policy) RestrictsTables() bool {
	return len(p.tables) > 0
}

// RestrictsColumns reports whether a column whitelist is configured.
func (p *Policy) RestrictsColumns() bool {
	return len(p.columns) > 0
}

// Tables returns the configured table whitelist, sorted.
func (p *Policy) Tables() []string {
	out := make([]string, 0, len(p.tables))
	for t := range p.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Columns returns the configured column whitelist as TABLE.COLUMN, sorted.
func (p *Policy) Columns() []string {
	var out []string
	for table, cols := range p.columns {
		for col := range cols {
			out = append(out, table+"."+col)
		}
	}
	sort.Strings(out)
	return out
}

// TableAllowed reports whether table (in schema, which may be empty) passes
// the table whitelist. An unqualified name is admitted when a SCHEMA.TABLE
// entry carries it, since the search path may resolve it there.
func (p *Policy) TableAllowed(schema, table string) bool {
	if len(p.tables) == 0 {
		return true
	}
	name := strings.ToUpper(table)
	if p.tables[name] {
		return true
	}
	if schema == "" {
		return p.qualified[name]
	}
	return p.tables[strings.ToUpper(schema)+"."+name]
}

// ColumnAllowed reports whether column of table passes the column whitelist.
// A non-empty column whitelist applies to every table: tables without
// listed columns report none.
func (p *Policy) ColumnAllowed(table, column string) bool {
	if len(p.columns) == 0 {
		return true
	}
	return p.columns[strings.ToUpper(table)][strings.ToUpper(column)]
}

// CheckSQL tokenizes sql and runs CheckStatement.
func (p *Policy) CheckSQL(sql string) error {
	if len(p.tables) == 0 {
		return nil
	}
	tokens, err := classify.Tokenize(sql)
	if err != nil {
		// Unparseable text is left to the classifier and the database.
		return nil
	}
	return p.CheckStatement(tokens)
}

// CheckStatement denies the statement when it references a table that is
// confidently extracted and not whitelisted. References it cannot resolve
// are admitted.
func (p *Policy) CheckStatement(tokens []classify.Token) error {
	if len(p.tables) == 0 {
		return nil
	}
	for _, ref := range ExtractTables(tokens) {
		if !p.TableAllowed(ref.Schema, ref.Name) {
			return errs.Policy("access to table %s is not allowed", ref)
		}
	}
	return nil
}
