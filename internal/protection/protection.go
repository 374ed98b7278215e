// Package protection verifies, with PostgreSQL's own parser, that a statement
// admitted by the lexical classifier is a single read-only query.
package protection

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/rickchristie/sqlgate-mcp/internal/classify"
)

// Checker validates SQL statements against the read-only rules.
type Checker struct{}

// NewChecker creates a new Checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Check parses SQL with pg_query_go and walks the AST.
// Returns nil if the statement is a plain SELECT (or EXPLAIN of one).
func (c *Checker) Check(sql string) error {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("SQL parse error: %w", err)
	}

	if len(result.Stmts) == 0 {
		return fmt.Errorf("SQL parse error: empty query")
	}

	if len(result.Stmts) > 1 {
		return fmt.Errorf("multi-statement queries are not allowed: found %d statements", len(result.Stmts))
	}

	if err := c.checkNode(result.Stmts[0].Stmt); err != nil {
		return err
	}
	return walkFuncCalls(result.ProtoReflect(), checkFuncCall)
}

// checkFuncCall applies the forbidden function list to the resolved name of
// a call, whatever quoting or schema qualification was used.
func checkFuncCall(call *pg_query.FuncCall) error {
	if len(call.Funcname) == 0 {
		return nil
	}
	name := call.Funcname[len(call.Funcname)-1].GetString_().GetSval()
	return classify.CheckFunction(name)
}

// walkFuncCalls visits every FuncCall node below m, depth first.
func walkFuncCalls(m protoreflect.Message, visit func(*pg_query.FuncCall) error) error {
	if call, ok := m.Interface().(*pg_query.FuncCall); ok {
		if err := visit(call); err != nil {
			return err
		}
	}
	var err error
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsMap() || fd.Message() == nil:
		case fd.IsList():
			list := v.List()
			for i := 0; i < list.Len() && err == nil; i++ {
				err = walkFuncCalls(list.Get(i).Message(), visit)
			}
		default:
			err = walkFuncCalls(v.Message(), visit)
		}
		return err == nil
	})
	return err
}

func (c *Checker) checkNode(node *pg_query.Node) error {
	if node == nil {
		return fmt.Errorf("SQL parse error: empty statement")
	}

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return c.checkSelect(n.SelectStmt)

	case *pg_query.Node_ExplainStmt:
		for _, opt := range n.ExplainStmt.Options {
			if defElem, ok := opt.Node.(*pg_query.Node_DefElem); ok {
				if strings.EqualFold(defElem.DefElem.Defname, "analyze") {
					return fmt.Errorf("EXPLAIN ANALYZE is not allowed: it executes the statement")
				}
			}
		}
		if _, ok := n.ExplainStmt.Query.GetNode().(*pg_query.Node_SelectStmt); !ok {
			return fmt.Errorf("EXPLAIN is only allowed for SELECT statements")
		}
		return c.checkNode(n.ExplainStmt.Query)
	}

	return fmt.Errorf("only SELECT statements are allowed: got %s", statementName(node))
}

func (c *Checker) checkSelect(stmt *pg_query.SelectStmt) error {
	if stmt == nil {
		return nil
	}
	if stmt.IntoClause != nil {
		return fmt.Errorf("SELECT INTO is not allowed: it creates a table")
	}
	if len(stmt.LockingClause) > 0 {
		return fmt.Errorf("row locking clauses (FOR UPDATE / FOR SHARE) are not allowed")
	}
	if err := c.checkCTEs(stmt.WithClause); err != nil {
		return err
	}
	if err := c.checkSelect(stmt.Larg); err != nil {
		return err
	}
	return c.checkSelect(stmt.Rarg)
}

// checkCTEs requires every CTE in the WITH clause to be a SELECT.
func (c *Checker) checkCTEs(withClause *pg_query.WithClause) error {
	if withClause == nil {
		return nil
	}
	for _, cte := range withClause.Ctes {
		cteNode, ok := cte.Node.(*pg_query.Node_CommonTableExpr)
		if !ok {
			continue
		}
		query := cteNode.CommonTableExpr.Ctequery
		if _, ok := query.GetNode().(*pg_query.Node_SelectStmt); !ok {
			return fmt.Errorf("data-modifying CTE %q is not allowed: got %s", cteNode.CommonTableExpr.Ctename, statementName(query))
		}
		if err := c.checkNode(query); err != nil {
			return err
		}
	}
	return nil
}

// statementName renders the AST node type as a readable statement name,
// e.g. *pg_query.Node_DeleteStmt -> "DeleteStmt".
func statementName(node *pg_query.Node) string {
	if node == nil || node.Node == nil {
		return "empty statement"
	}
	name := fmt.Sprintf("%T", node.Node)
	if i := strings.LastIndex(name, "Node_"); i >= 0 {
		name = name[i+len("Node_"):]
	}
	return name
}
