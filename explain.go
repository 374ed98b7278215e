package sqlgate

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickchristie/sqlgate-mcp/internal/classify"
	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

// planNode is one node of EXPLAIN (FORMAT JSON) output.
type planNode struct {
	NodeType      string     `json:"Node Type"`
	Strategy      string     `json:"Strategy"`
	JoinType      string     `json:"Join Type"`
	ScanDirection string     `json:"Scan Direction"`
	Schema        string     `json:"Schema"`
	RelationName  string     `json:"Relation Name"`
	IndexName     string     `json:"Index Name"`
	CTEName       string     `json:"CTE Name"`
	FunctionName  string     `json:"Function Name"`
	Alias         string     `json:"Alias"`
	StartupCost   float64    `json:"Startup Cost"`
	TotalCost     float64    `json:"Total Cost"`
	PlanRows      float64    `json:"Plan Rows"`
	PlanWidth     int64      `json:"Plan Width"`
	IndexCond     string     `json:"Index Cond"`
	RecheckCond   string     `json:"Recheck Cond"`
	HashCond      string     `json:"Hash Cond"`
	MergeCond     string     `json:"Merge Cond"`
	JoinFilter    string     `json:"Join Filter"`
	Filter        string     `json:"Filter"`
	Plans         []planNode `json:"Plans"`
}

// ExplainQuery returns the estimated execution plan of a SELECT or WITH
// statement without running it. The statement is vetted like ExecuteQuery
// but never row-limited.
func (g *Gateway) ExplainQuery(ctx context.Context, input ExplainInput) (*ExplainResult, error) {
	startTime := time.Now()

	stmt, err := g.vet(input.SQL, 0)
	if err != nil {
		return nil, g.fail("explain", err)
	}
	if stmt.Kind != classify.KindQuery {
		return nil, g.fail("explain", errs.Policy("explain_query expects a SELECT or WITH statement, got %s", stmt.Keyword))
	}

	var raw []byte
	err = g.readOnly(ctx, g.primary, g.timeoutMgr.GetTimeout(stmt.Text), func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+stmt.Text).Scan(&raw)
	})
	if err != nil {
		return nil, g.fail("explain", err)
	}

	var doc []struct {
		Plan planNode `json:"Plan"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil || len(doc) == 0 {
		if err == nil {
			err = errs.New(errs.KindInternal, "empty plan")
		}
		return nil, g.fail("explain", errs.Wrap(errs.KindInternal, "failed to decode plan", err))
	}

	plan := flattenPlan(doc[0].Plan)
	elapsed := time.Since(startTime)
	g.metrics.RecordQuery("explain", elapsed, len(plan))

	g.logger.Info().
		Str("sql", truncateForLog(stmt.Text, 200)).
		Dur("duration", elapsed).
		Int("plan_rows", len(plan)).
		Float64("total_cost", doc[0].Plan.TotalCost).
		Msg("query explained")

	return &ExplainResult{
		StatementID:          uuid.NewString(),
		Query:                stmt.Text,
		Plan:                 plan,
		TotalCost:            doc[0].Plan.TotalCost,
		ExecutionTimeSeconds: elapsed.Seconds(),
	}, nil
}

// flattenPlan walks the plan tree in pre-order. Ids are assigned in visit
// order starting at 0; the root has no parent.
func flattenPlan(root planNode) []PlanRow {
	var out []PlanRow
	var walk func(n planNode, parent *int, depth int)
	walk = func(n planNode, parent *int, depth int) {
		id := len(out)
		cardinality := int64(n.PlanRows)
		out = append(out, PlanRow{
			ID:          id,
			ParentID:    parent,
			Depth:       depth,
			Operation:   n.NodeType,
			Options:     planOptions(n),
			ObjectOwner: n.Schema,
			ObjectName:  planObject(n),
			IndexName:   n.IndexName,
			Alias:       n.Alias,
			Cost:        n.TotalCost,
			StartupCost: n.StartupCost,
			Cardinality: cardinality,
			Width:       n.PlanWidth,
			Bytes:       cardinality * n.PlanWidth,
			Predicates:  planPredicates(n),
		})
		for _, child := range n.Plans {
			parentID := id
			walk(child, &parentID, depth+1)
		}
	}
	walk(root, nil, 0)
	return out
}

func planOptions(n planNode) string {
	var parts []string
	for _, p := range []string{n.Strategy, n.JoinType, n.ScanDirection} {
		if p != "" && p != "Plain" && p != "Forward" {
			parts = append(parts, strings.ToUpper(p))
		}
	}
	return strings.Join(parts, " ")
}

func planObject(n planNode) string {
	switch {
	case n.RelationName != "":
		return n.RelationName
	case n.CTEName != "":
		return n.CTEName
	case n.FunctionName != "":
		return n.FunctionName
	case n.IndexName != "":
		return n.IndexName
	}
	return ""
}

func planPredicates(n planNode) []string {
	var out []string
	add := func(label, cond string) {
		if cond != "" {
			out = append(out, label+": "+cond)
		}
	}
	add("Index Cond", n.IndexCond)
	add("Recheck Cond", n.RecheckCond)
	add("Hash Cond", n.HashCond)
	add("Merge Cond", n.MergeCond)
	add("Join Filter", n.JoinFilter)
	add("Filter", n.Filter)
	return out
}
