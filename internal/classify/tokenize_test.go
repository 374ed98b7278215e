package classify

import (
	"testing"
)

func tokenValues(t *testing.T, sql string) []string {
	t.Helper()
	tokens, err := Tokenize(sql)
	if err != nil {
		t.Fatalf("Tokenize(%q) failed: %v", sql, err)
	}
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		if tok.Type == TokenString {
			out[i] = "<str>"
			continue
		}
		out[i] = tok.Value
	}
	return out
}

func assertTokens(t *testing.T, sql string, want ...string) {
	t.Helper()
	got := tokenValues(t, sql)
	if len(got) != len(want) {
		t.Fatalf("Tokenize(%q) = %v, want %v", sql, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize(%q) = %v, want %v", sql, got, want)
		}
	}
}

func TestTokenizeBasic(t *testing.T) {
	t.Parallel()
	assertTokens(t, "select a, b from t where x = 1.5e3",
		"SELECT", "A", ",", "B", "FROM", "T", "WHERE", "X", "=", "1.5e3")
}

func TestTokenizeComments(t *testing.T) {
	t.Parallel()
	assertTokens(t, "select /* a /* nested */ b */ 1 -- tail", "SELECT", "1")
}

func TestTokenizeStrings(t *testing.T) {
	t.Parallel()
	assertTokens(t, "select 'it''s', E'a\\'b', x'1F', $$body$$, $q$ x $q$", "SELECT", "<str>", ",", "<str>", ",", "<str>", ",", "<str>", ",", "<str>")
}

func TestTokenizeQuotedIdent(t *testing.T) {
	t.Parallel()
	tokens, err := Tokenize(`select "My ""Col""" from t`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens[1].Type != TokenQuotedIdent || tokens[1].Value != `My "Col"` {
		t.Fatalf("unexpected quoted identifier token: %+v", tokens[1])
	}
	name, ok := tokens[1].Ident()
	if !ok || name != `My "Col"` {
		t.Fatalf("unexpected Ident(): %q %v", name, ok)
	}
}

func TestTokenizeParamsAndCasts(t *testing.T) {
	t.Parallel()
	assertTokens(t, "select $1::int", "SELECT", "$1", "::", "INT")
}

func TestTokenizeOffsets(t *testing.T) {
	t.Parallel()
	sql := "SELECT  id FROM t"
	tokens, err := Tokenize(sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tok := range tokens {
		if sql[tok.Start:tok.End] != tok.Text {
			t.Fatalf("offsets do not match text for %+v", tok)
		}
	}
	if tokens[1].Start != 8 {
		t.Fatalf("expected id at offset 8, got %d", tokens[1].Start)
	}
}

func TestTokenizeUnicodeIdentifier(t *testing.T) {
	t.Parallel()
	tokens, err := Tokenize("select größe from maße")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tokens) != 4 || tokens[1].Text != "größe" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
}

func TestTokenizeErrors(t *testing.T) {
	t.Parallel()
	for _, sql := range []string{"select 'x", "select $$ x", `select "x`, "select /* x"} {
		if _, err := Tokenize(sql); err == nil {
			t.Fatalf("expected error for %q", sql)
		}
	}
}

func TestTokenizeUnicodeEscapedIdentifier(t *testing.T) {
	t.Parallel()
	assertTokens(t, `SELECT U&"d\0061t\+000061" FROM t`, "SELECT", "data", "FROM", "T")
	assertTokens(t, `SELECT u&"a!!b!0063" UESCAPE '!' FROM t`, "SELECT", "a!bc", "FROM", "T")

	for _, sql := range []string{`SELECT U&"\00zz"`, `SELECT U&"\12"`, `SELECT U&"x" UESCAPE !`} {
		if _, err := Tokenize(sql); err == nil {
			t.Fatalf("expected Tokenize(%q) to fail", sql)
		}
	}
}
