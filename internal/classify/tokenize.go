package classify

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType is the lexical category of a Token.
type TokenType int

const (
	TokenWord        TokenType = iota // unquoted identifier or keyword
	TokenQuotedIdent                  // "double quoted" identifier
	TokenString                       // string literal, including E'', B'', X'' and $$ bodies
	TokenNumber
	TokenParam // $1
	TokenPunct
)

// Token is one lexical element of a statement. Comments and whitespace are
// dropped. Start and End are byte offsets into the original text.
type Token struct {
	Type  TokenType
	Text  string // raw text as written
	Value string // upper-cased word, unquoted identifier or punctuation
	Start int
	End   int
}

// IsWord reports whether t is the unquoted word w (case-insensitive).
func (t Token) IsWord(w string) bool {
	return t.Type == TokenWord && t.Value == w
}

// IsPunct reports whether t is the punctuation p.
func (t Token) IsPunct(p string) bool {
	return t.Type == TokenPunct && t.Value == p
}

// Ident returns the identifier named by t as written: unquoted words keep
// their spelling, quoted identifiers lose their quotes.
func (t Token) Ident() (string, bool) {
	switch t.Type {
	case TokenWord:
		return t.Text, true
	case TokenQuotedIdent:
		return t.Value, true
	}
	return "", false
}

// Tokenize splits sql into tokens, skipping comments and whitespace. It
// understands single-quoted strings (with '' and E'' escapes), dollar-quoted
// bodies, quoted identifiers and nested block comments. Unterminated
// literals and comments are errors.
func Tokenize(sql string) ([]Token, error) {
	var tokens []Token
	i := 0
	n := len(sql)
	for i < n {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			i++

		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && sql[i+1] == '*':
			end, err := skipBlockComment(sql, i)
			if err != nil {
				return nil, err
			}
			i = end

		case c == '\'':
			end, err := scanString(sql, i, false)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Type: TokenString, Text: sql[i:end], Start: i, End: end})
			i = end

		case c == '"':
			end, value, err := scanQuotedIdent(sql, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Type: TokenQuotedIdent, Text: sql[i:end], Value: value, Start: i, End: end})
			i = end

		case c == '$':
			if i+1 < n && sql[i+1] >= '0' && sql[i+1] <= '9' {
				end := i + 1
				for end < n && sql[end] >= '0' && sql[end] <= '9' {
					end++
				}
				tokens = append(tokens, Token{Type: TokenParam, Text: sql[i:end], Value: sql[i:end], Start: i, End: end})
				i = end
				continue
			}
			if tag, ok := dollarTag(sql, i); ok {
				closing := strings.Index(sql[i+len(tag):], tag)
				if closing < 0 {
					return nil, fmt.Errorf("unterminated dollar-quoted string starting at offset %d", i)
				}
				end := i + len(tag) + closing + len(tag)
				tokens = append(tokens, Token{Type: TokenString, Text: sql[i:end], Start: i, End: end})
				i = end
				continue
			}
			tokens = append(tokens, Token{Type: TokenPunct, Text: "$", Value: "$", Start: i, End: i + 1})
			i++

		case c >= '0' && c <= '9' || c == '.' && i+1 < n && sql[i+1] >= '0' && sql[i+1] <= '9':
			end := scanNumber(sql, i)
			tokens = append(tokens, Token{Type: TokenNumber, Text: sql[i:end], Value: sql[i:end], Start: i, End: end})
			i = end

		case isIdentStart(sql, i):
			end := i
			for end < n && isIdentPart(sql, end) {
				_, size := utf8.DecodeRuneInString(sql[end:])
				end += size
			}
			word := sql[i:end]
			// Unicode-escaped identifier: U&"d\0061ta" [UESCAPE '!'].
			if strings.EqualFold(word, "U") && end+1 < n && sql[end] == '&' && sql[end+1] == '"' {
				identEnd, value, err := scanUnicodeIdent(sql, end+1)
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, Token{Type: TokenQuotedIdent, Text: sql[i:identEnd], Value: value, Start: i, End: identEnd})
				i = identEnd
				continue
			}
			// Prefixed string constants: E'..', B'..', X'..', N'..'.
			if end < n && sql[end] == '\'' && isStringPrefix(word) {
				strEnd, err := scanString(sql, end, strings.EqualFold(word, "E"))
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, Token{Type: TokenString, Text: sql[i:strEnd], Start: i, End: strEnd})
				i = strEnd
				continue
			}
			tokens = append(tokens, Token{Type: TokenWord, Text: word, Value: strings.ToUpper(word), Start: i, End: end})
			i = end

		default:
			p := string(c)
			if c == ':' && i+1 < n && sql[i+1] == ':' {
				p = "::"
			}
			if c >= utf8.RuneSelf {
				_, size := utf8.DecodeRuneInString(sql[i:])
				p = sql[i : i+size]
			}
			tokens = append(tokens, Token{Type: TokenPunct, Text: p, Value: p, Start: i, End: i + len(p)})
			i += len(p)
		}
	}
	return tokens, nil
}

func skipBlockComment(sql string, start int) (int, error) {
	depth := 0
	i := start
	for i < len(sql) {
		switch {
		case strings.HasPrefix(sql[i:], "/*"):
			depth++
			i += 2
		case strings.HasPrefix(sql[i:], "*/"):
			depth--
			i += 2
			if depth == 0 {
				return i, nil
			}
		default:
			i++
		}
	}
	return 0, fmt.Errorf("unterminated block comment starting at offset %d", start)
}

// scanString returns the offset just past the string literal opened at start.
func scanString(sql string, start int, backslashEscapes bool) (int, error) {
	i := start + 1
	for i < len(sql) {
		switch sql[i] {
		case '\\':
			if backslashEscapes {
				i += 2
				continue
			}
		case '\'':
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, fmt.Errorf("unterminated string literal starting at offset %d", start)
}

func scanQuotedIdent(sql string, start int) (int, string, error) {
	var sb strings.Builder
	i := start + 1
	for i < len(sql) {
		if sql[i] == '"' {
			if i+1 < len(sql) && sql[i+1] == '"' {
				sb.WriteByte('"')
				i += 2
				continue
			}
			return i + 1, sb.String(), nil
		}
		sb.WriteByte(sql[i])
		i++
	}
	return 0, "", fmt.Errorf("unterminated quoted identifier starting at offset %d", start)
}

// scanUnicodeIdent reads the quoted part of a U&"..." identifier at quote,
// with its optional UESCAPE clause, and returns the decoded name.
func scanUnicodeIdent(sql string, quote int) (int, string, error) {
	end, raw, err := scanQuotedIdent(sql, quote)
	if err != nil {
		return 0, "", err
	}
	escape := byte('\\')
	k := end
	for k < len(sql) && strings.IndexByte(" \t\n\r\f\v", sql[k]) >= 0 {
		k++
	}
	if k+7 <= len(sql) && strings.EqualFold(sql[k:k+7], "UESCAPE") && (k+7 == len(sql) || !isIdentPart(sql, k+7)) {
		k += 7
		for k < len(sql) && strings.IndexByte(" \t\n\r\f\v", sql[k]) >= 0 {
			k++
		}
		if k+3 > len(sql) || sql[k] != '\'' || sql[k+2] != '\'' {
			return 0, "", fmt.Errorf("invalid UESCAPE clause at offset %d", k)
		}
		escape = sql[k+1]
		end = k + 3
	}
	value, err := decodeUnicodeEscapes(raw, escape)
	if err != nil {
		return 0, "", fmt.Errorf("invalid Unicode escape in identifier at offset %d: %w", quote, err)
	}
	return end, value, nil
}

// decodeUnicodeEscapes expands \XXXX, \+XXXXXX and doubled escape characters.
func decodeUnicodeEscapes(s string, escape byte) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != escape {
			sb.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == escape {
			sb.WriteByte(escape)
			i++
			continue
		}
		digits := 4
		start := i + 1
		if start < len(s) && s[start] == '+' {
			digits = 6
			start++
		}
		if start+digits > len(s) {
			return "", fmt.Errorf("truncated escape")
		}
		code, err := strconv.ParseUint(s[start:start+digits], 16, 32)
		if err != nil || !utf8.ValidRune(rune(code)) {
			return "", fmt.Errorf("bad escape %q", s[i:start+digits])
		}
		sb.WriteRune(rune(code))
		i = start + digits - 1
	}
	return sb.String(), nil
}

// dollarTag returns the opening tag ($$ or $name$) at start, if any.
func dollarTag(sql string, start int) (string, bool) {
	i := start + 1
	for i < len(sql) && sql[i] != '$' {
		c := sql[i]
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > start+1 && c >= '0' && c <= '9') {
			return "", false
		}
		i++
	}
	if i >= len(sql) {
		return "", false
	}
	return sql[start : i+1], true
}

func scanNumber(sql string, start int) int {
	i := start
	for i < len(sql) {
		c := sql[i]
		switch {
		case c >= '0' && c <= '9', c == '.', c == '_':
			i++
		case (c == 'e' || c == 'E') && i+1 < len(sql):
			next := sql[i+1]
			if next >= '0' && next <= '9' {
				i++
			} else if (next == '+' || next == '-') && i+2 < len(sql) && sql[i+2] >= '0' && sql[i+2] <= '9' {
				i += 2
			} else {
				return i
			}
		default:
			return i
		}
	}
	return i
}

func isIdentStart(sql string, i int) bool {
	r, _ := utf8.DecodeRuneInString(sql[i:])
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(sql string, i int) bool {
	r, _ := utf8.DecodeRuneInString(sql[i:])
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isStringPrefix(word string) bool {
	switch strings.ToUpper(word) {
	case "E", "B", "X", "N":
		return true
	}
	return false
}
