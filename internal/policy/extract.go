package policy

import (
	"math"
	"strings"

	"github.com/rickchristie/sqlgate-mcp/internal/classify"
)

// TableRef is a table reference found after FROM or JOIN.
type TableRef struct {
	Schema string
	Name   string
}

func (r TableRef) String() string {
	if r.Schema != "" {
		return r.Schema + "." + r.Name
	}
	return r.Name
}

// fromFunctions take FROM inside their argument list.
var fromFunctions = map[string]bool{
	"EXTRACT": true, "SUBSTRING": true, "TRIM": true, "OVERLAY": true, "POSITION": true,
}

// clauseWords end a FROM item; they are never aliases.
var clauseWords = map[string]bool{
	"WHERE": true, "GROUP": true, "HAVING": true, "ORDER": true, "LIMIT": true,
	"OFFSET": true, "FETCH": true, "UNION": true, "INTERSECT": true, "EXCEPT": true,
	"WINDOW": true, "ON": true, "USING": true, "JOIN": true, "INNER": true,
	"LEFT": true, "RIGHT": true, "FULL": true, "CROSS": true, "NATURAL": true,
	"FOR": true, "RETURNING": true, "TABLESAMPLE": true, "OUTER": true,
}

// ExtractTables returns the table references of a statement, excluding
// references that resolve to a CTE and set-returning function calls.
// Duplicates are removed.
func ExtractTables(tokens []classify.Token) []TableRef {
	e := &extractor{ctes: cteScopes(tokens), seen: make(map[string]bool)}
	e.walk(tokens)
	return e.refs
}

type extractor struct {
	ctes map[string][]cteScope
	seen map[string]bool
	refs []TableRef
}

func (e *extractor) walk(tokens []classify.Token) {
	var funcParens []bool
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch {
		case t.IsPunct("("):
			isFunc := i > 0 && tokens[i-1].Type == classify.TokenWord && fromFunctions[tokens[i-1].Value]
			funcParens = append(funcParens, isFunc)
		case t.IsPunct(")"):
			if len(funcParens) > 0 {
				funcParens = funcParens[:len(funcParens)-1]
			}
		case t.IsWord("FROM"):
			if len(funcParens) > 0 && funcParens[len(funcParens)-1] {
				continue
			}
			if i > 0 && tokens[i-1].IsWord("DISTINCT") {
				continue
			}
			i = e.fromList(tokens, i+1) - 1
		case t.IsWord("JOIN"):
			i = e.item(tokens, i+1) - 1
		}
	}
}

// fromList reads comma-separated FROM items starting at i and returns the
// index after the last one.
func (e *extractor) fromList(tokens []classify.Token, i int) int {
	for {
		i = e.item(tokens, i)
		if i < len(tokens) && tokens[i].IsPunct(",") {
			i++
			continue
		}
		return i
	}
}

// item reads one FROM item (table, subquery or function) with its alias.
func (e *extractor) item(tokens []classify.Token, i int) int {
	for i < len(tokens) && (tokens[i].IsWord("LATERAL") || tokens[i].IsWord("ONLY")) {
		i++
	}
	if i >= len(tokens) {
		return i
	}

	switch {
	case tokens[i].IsPunct("("):
		end := matchParen(tokens, i)
		e.walk(tokens[i+1 : end])
		i = end + 1

	case isName(tokens[i]):
		start := tokens[i].Start
		var parts []string
		for {
			name, _ := tokens[i].Ident()
			parts = append(parts, name)
			i++
			if i+1 < len(tokens) && tokens[i].IsPunct(".") && isName(tokens[i+1]) {
				i++
				continue
			}
			break
		}
		if i < len(tokens) && tokens[i].IsPunct("(") {
			end := matchParen(tokens, i)
			e.walk(tokens[i+1 : end])
			i = end + 1
		} else {
			e.add(parts, start)
		}

	default:
		return i
	}

	return skipAlias(tokens, i)
}

// add records the reference written at byte offset pos unless it names a
// CTE visible there.
func (e *extractor) add(parts []string, pos int) {
	ref := TableRef{Name: parts[len(parts)-1]}
	if len(parts) >= 2 {
		ref.Schema = parts[len(parts)-2]
	}
	if ref.Schema == "" {
		for _, scope := range e.ctes[strings.ToUpper(ref.Name)] {
			if pos >= scope.from && pos < scope.to {
				return
			}
		}
	}
	key := strings.ToUpper(ref.String())
	if e.seen[key] {
		return
	}
	e.seen[key] = true
	e.refs = append(e.refs, ref)
}

func skipAlias(tokens []classify.Token, i int) int {
	if i < len(tokens) && tokens[i].IsWord("AS") {
		i++
	}
	if i < len(tokens) && isName(tokens[i]) && !(tokens[i].Type == classify.TokenWord && clauseWords[tokens[i].Value]) {
		i++
		if i < len(tokens) && tokens[i].IsPunct("(") {
			i = matchParen(tokens, i) + 1
		}
	}
	return i
}

func isName(t classify.Token) bool {
	return t.Type == classify.TokenWord || t.Type == classify.TokenQuotedIdent
}

// matchParen returns the index of the parenthesis closing the one at open,
// or the last index when unbalanced.
func matchParen(tokens []classify.Token, open int) int {
	depth := 0
	for i := open; i < len(tokens); i++ {
		if tokens[i].IsPunct("(") {
			depth++
		} else if tokens[i].IsPunct(")") {
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(tokens) - 1
}

// cteScope is the byte range of a statement in which a CTE name resolves
// to the CTE.
type cteScope struct {
	from, to int
}

// cteScopes finds every "name [(cols)] AS [[NOT] MATERIALIZED] (" in a WITH
// list. A CTE is visible from the end of its own body to the end of the
// query level holding the WITH. RECURSIVE lists are visible in their own
// bodies too.
func cteScopes(tokens []classify.Token) map[string][]cteScope {
	scopes := make(map[string][]cteScope)
	var opens []int
	for i, t := range tokens {
		switch {
		case t.IsPunct("("):
			opens = append(opens, i)
		case t.IsPunct(")"):
			if len(opens) > 0 {
				opens = opens[:len(opens)-1]
			}
		case t.IsWord("WITH"):
			levelEnd := math.MaxInt
			if len(opens) > 0 {
				levelEnd = tokens[matchParen(tokens, opens[len(opens)-1])].Start
			}
			collectCTEs(tokens, i+1, levelEnd, scopes)
		}
	}
	return scopes
}

func collectCTEs(tokens []classify.Token, j, levelEnd int, scopes map[string][]cteScope) {
	recursive := j < len(tokens) && tokens[j].IsWord("RECURSIVE")
	if recursive {
		j++
	}
	for j < len(tokens) && isName(tokens[j]) {
		nameTok := tokens[j]
		j++
		if j < len(tokens) && tokens[j].IsPunct("(") {
			j = matchParen(tokens, j) + 1
		}
		if j >= len(tokens) || !tokens[j].IsWord("AS") {
			return
		}
		j++
		for j < len(tokens) && (tokens[j].IsWord("NOT") || tokens[j].IsWord("MATERIALIZED")) {
			j++
		}
		if j >= len(tokens) || !tokens[j].IsPunct("(") {
			return
		}
		bodyEnd := matchParen(tokens, j)
		from := tokens[bodyEnd].End
		if recursive {
			from = nameTok.Start
		}
		name, _ := nameTok.Ident()
		key := strings.ToUpper(name)
		scopes[key] = append(scopes[key], cteScope{from: from, to: levelEnd})

		j = bodyEnd + 1
		if j >= len(tokens) || !tokens[j].IsPunct(",") {
			return
		}
		j++
	}
}
