// Package classify vets raw SQL text for the read-only gateway.
//
// It is a lexical check, not a parser: the leading keyword decides the
// statement kind, a keyword scan over the token stream rejects embedded
// mutating operations, and SELECT statements without a row limit get one
// appended. String literals, comments and quoted identifiers never trigger
// the scan because they are separate tokens.
package classify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

// Kind is the coarse category of a vetted statement.
type Kind int

const (
	KindQuery Kind = iota
	KindDescribe
	KindExplain
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindDescribe:
		return "describe"
	case KindExplain:
		return "explain"
	default:
		return "unknown"
	}
}

// Statement is the result of vetting one SQL string.
type Statement struct {
	Original string
	// Text is the statement to execute. For KindDescribe it is the original
	// text; describe statements are answered from the catalog.
	Text    string
	Kind    Kind
	Keyword string // leading keyword, upper-cased
	Limited bool   // a row limit was appended
	Tokens  []Token

	// TargetSchema and TargetName are set for KindDescribe.
	TargetSchema string
	TargetName   string
}

// forbiddenKeywords may not appear anywhere in an admitted statement.
var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"DROP": true, "ALTER": true, "CREATE": true, "TRUNCATE": true, "RENAME": true,
	"GRANT": true, "REVOKE": true, "EXECUTE": true, "CALL": true, "COPY": true,
	"VACUUM": true, "ANALYZE": true, "ANALYSE": true, "REINDEX": true, "CLUSTER": true,
	"LOCK": true, "COMMIT": true, "ROLLBACK": true, "SAVEPOINT": true, "BEGIN": true,
	"LISTEN": true, "NOTIFY": true, "UNLISTEN": true, "PREPARE": true, "DEALLOCATE": true,
	"DISCARD": true, "REFRESH": true, "RESET": true, "INTO": true,
}

// forbiddenFunctions mutate state, sleep, or reach outside the database.
var forbiddenFunctions = map[string]bool{
	"NEXTVAL": true, "SETVAL": true, "SET_CONFIG": true,
	"PG_TERMINATE_BACKEND": true, "PG_CANCEL_BACKEND": true, "PG_RELOAD_CONF": true,
	"PG_ROTATE_LOGFILE": true, "PG_READ_FILE": true, "PG_READ_BINARY_FILE": true,
	"PG_LS_DIR": true, "PG_STAT_FILE": true, "LO_IMPORT": true, "LO_EXPORT": true,
	"LO_UNLINK": true, "LO_CREATE": true, "LO_PUT": true, "LO_FROM_BYTEA": true,
	"PG_SWITCH_WAL": true, "PG_CREATE_RESTORE_POINT": true, "TXID_CURRENT": true,
	"PG_NOTIFY": true, "QUERY_TO_XML": true, "QUERY_TO_XML_AND_XMLSCHEMA": true,
}

// forbiddenFunctionPrefixes cover function families.
var forbiddenFunctionPrefixes = []string{"PG_SLEEP", "PG_ADVISORY", "PG_TRY_ADVISORY", "DBLINK", "PG_LOGICAL_", "PG_REPLICATION_"}

// Classifier vets statements. It is immutable and safe for concurrent use.
type Classifier struct {
	limit int
}

// New returns a Classifier that appends LIMIT limit to unbounded SELECTs.
// A limit of zero disables injection.
func New(limit int) *Classifier {
	if limit < 0 {
		panic("classify: limit must be >= 0")
	}
	return &Classifier{limit: limit}
}

// Limit returns the configured row limit.
func (c *Classifier) Limit() int {
	return c.limit
}

// Vet classifies sql with the configured row limit.
func (c *Classifier) Vet(sql string) (*Statement, error) {
	return c.VetWithLimit(sql, c.limit)
}

// VetWithLimit classifies sql, appending LIMIT limit to an unbounded SELECT
// when limit > 0. Every failure is a policy violation.
func (c *Classifier) VetWithLimit(sql string, limit int) (*Statement, error) {
	tokens, err := Tokenize(sql)
	if err != nil {
		return nil, errs.Policy("malformed statement: %v", err)
	}
	tokens, err = singleStatement(tokens)
	if err != nil {
		return nil, err
	}

	lead := leadingWord(tokens)
	if lead < 0 {
		return nil, errs.Policy("statement must begin with SELECT, WITH, DESCRIBE or EXPLAIN")
	}
	keyword := tokens[lead].Value
	stmt := &Statement{Original: sql, Text: sql, Keyword: keyword, Tokens: tokens}

	switch keyword {
	case "SELECT", "WITH":
		stmt.Kind = KindQuery
	case "DESCRIBE", "DESC":
		stmt.Kind = KindDescribe
		stmt.Keyword = "DESCRIBE"
		if err := parseDescribeTarget(stmt, tokens[lead+1:]); err != nil {
			return nil, err
		}
		return stmt, nil
	case "EXPLAIN":
		stmt.Kind = KindExplain
	default:
		return nil, errs.Policy("forbidden operation: %s statements are not allowed", keyword)
	}

	if err := scanForbidden(tokens); err != nil {
		return nil, err
	}

	if stmt.Kind == KindExplain {
		if err := checkExplainTarget(tokens[lead+1:]); err != nil {
			return nil, err
		}
		return stmt, nil
	}

	if limit > 0 && !HasRowLimit(tokens) {
		stmt.Text = appendLimit(sql, tokens, limit)
		stmt.Limited = true
	}
	return stmt, nil
}

// singleStatement rejects input containing more than one statement and
// drops trailing semicolons.
func singleStatement(tokens []Token) ([]Token, error) {
	end := len(tokens)
	for end > 0 && tokens[end-1].IsPunct(";") {
		end--
	}
	if end == 0 {
		return nil, errs.Policy("empty statement")
	}
	for _, t := range tokens[:end] {
		if t.IsPunct(";") {
			return nil, errs.Policy("multiple statements are not allowed")
		}
	}
	return tokens[:end], nil
}

// leadingWord returns the index of the first word, skipping opening
// parentheses as in "(SELECT ...) UNION (SELECT ...)".
func leadingWord(tokens []Token) int {
	for i, t := range tokens {
		if t.IsPunct("(") {
			continue
		}
		if t.Type == TokenWord {
			return i
		}
		return -1
	}
	return -1
}

func scanForbidden(tokens []Token) error {
	for i, t := range tokens {
		if t.Type == TokenQuotedIdent {
			if isCall(tokens, i) {
				if err := CheckFunction(t.Value); err != nil {
					return err
				}
			}
			continue
		}
		if t.Type != TokenWord {
			continue
		}
		// Qualified column references such as t.delete are not keywords.
		if i > 0 && tokens[i-1].IsPunct(".") {
			if isCall(tokens, i) {
				if err := CheckFunction(t.Value); err != nil {
					return err
				}
			}
			continue
		}
		if isCall(tokens, i) {
			if err := CheckFunction(t.Value); err != nil {
				return err
			}
		}
		if forbiddenKeywords[t.Value] {
			return errs.Policy("forbidden operation: %s is not allowed", t.Value)
		}
		if t.Value == "FOR" && i+1 < len(tokens) {
			next := tokens[i+1]
			if next.IsWord("SHARE") || next.IsWord("KEY") || next.IsWord("NO") {
				return errs.Policy("forbidden operation: row locking clause FOR %s is not allowed", next.Value)
			}
		}
	}
	return nil
}

func isCall(tokens []Token, i int) bool {
	return i+1 < len(tokens) && tokens[i+1].IsPunct("(")
}

// CheckFunction rejects calls to functions that mutate state, sleep, take
// session locks or reach outside the database. Matching ignores case, so a
// quoted name is judged by its spelling.
func CheckFunction(name string) error {
	name = strings.ToUpper(name)
	if forbiddenFunctions[name] {
		return errs.Policy("forbidden function: %s is not allowed", strings.ToLower(name))
	}
	for _, prefix := range forbiddenFunctionPrefixes {
		if strings.HasPrefix(name, prefix) {
			return errs.Policy("forbidden function: %s is not allowed", strings.ToLower(name))
		}
	}
	return nil
}

// explainOptions are the bare options accepted by the legacy EXPLAIN syntax.
var explainOptions = map[string]bool{"VERBOSE": true}

func checkExplainTarget(rest []Token) error {
	i := 0
	if i < len(rest) && rest[i].IsPunct("(") {
		depth := 0
		for ; i < len(rest); i++ {
			if rest[i].IsPunct("(") {
				depth++
			} else if rest[i].IsPunct(")") {
				depth--
				if depth == 0 {
					i++
					break
				}
			}
		}
	}
	for i < len(rest) && rest[i].Type == TokenWord && explainOptions[rest[i].Value] {
		i++
	}
	lead := leadingWord(rest[i:])
	if lead < 0 {
		return errs.Policy("EXPLAIN is only allowed for SELECT statements")
	}
	switch rest[i+lead].Value {
	case "SELECT", "WITH":
		return nil
	}
	return errs.Policy("EXPLAIN is only allowed for SELECT statements, got %s", rest[i+lead].Value)
}

func parseDescribeTarget(stmt *Statement, rest []Token) error {
	var parts []string
	expectIdent := true
	for _, t := range rest {
		if expectIdent {
			name, ok := t.Ident()
			if !ok {
				return errs.Policy("DESCRIBE expects a table name")
			}
			parts = append(parts, name)
		} else if !t.IsPunct(".") {
			return errs.Policy("DESCRIBE expects a single table name")
		}
		expectIdent = !expectIdent
	}
	if expectIdent || len(parts) > 2 {
		return errs.Policy("DESCRIBE expects a table name in the form [schema.]table")
	}
	if len(parts) == 2 {
		stmt.TargetSchema = parts[0]
		stmt.TargetName = parts[1]
	} else {
		stmt.TargetName = parts[0]
	}
	return nil
}

// HasRowLimit reports whether the token stream expresses its own row limit
// anywhere, including in subqueries.
func HasRowLimit(tokens []Token) bool {
	for i, t := range tokens {
		if t.IsWord("LIMIT") {
			return true
		}
		if t.IsWord("FETCH") && i+1 < len(tokens) && (tokens[i+1].IsWord("FIRST") || tokens[i+1].IsWord("NEXT")) {
			return true
		}
	}
	return false
}

// appendLimit cuts sql after its last token, dropping trailing semicolons
// and comments, and appends the limit clause.
func appendLimit(sql string, tokens []Token, limit int) string {
	last := tokens[len(tokens)-1]
	return sql[:last.End] + " LIMIT " + strconv.Itoa(limit)
}

// String renders a short description for logs.
func (s *Statement) String() string {
	if s.Kind == KindDescribe {
		if s.TargetSchema != "" {
			return fmt.Sprintf("DESCRIBE %s.%s", s.TargetSchema, s.TargetName)
		}
		return "DESCRIBE " + s.TargetName
	}
	return s.Text
}
