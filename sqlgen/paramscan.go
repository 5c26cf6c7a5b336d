package sqlgen

import (
	"fmt"
	"strings"

	"github.com/strata-orm/strata"
)

// TokenKind classifies one scanned span of SQL text (spec.md §4.E).
type TokenKind int

const (
	TokenText       TokenKind = iota // literal SQL text, verbatim
	TokenPositional                  // a bare `?` placeholder
	TokenNamed                       // a `:name` placeholder
)

// Token is one span produced by Scan.
type Token struct {
	Kind TokenKind
	Text string // raw text for TokenText; the bare name (no colon) for TokenNamed
}

// Scan walks sql and splits it into literal-text spans and parameter
// markers, treating `?` and `:name` as inert inside single-quoted string
// literals, `--` line comments, and `/* */` block comments (spec.md §4.E).
// An unterminated string literal or block comment is a fatal parse error.
func Scan(sql string) ([]Token, error) {
	var (
		tokens []Token
		buf    strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			tokens = append(tokens, Token{Kind: TokenText, Text: buf.String()})
			buf.Reset()
		}
	}

	runes := []rune(sql)
	n := len(runes)
	for i := 0; i < n; i++ {
		r := runes[i]
		switch {
		case r == '\'':
			buf.WriteRune(r)
			i++
			closed := false
			for i < n {
				if runes[i] == '\'' {
					buf.WriteRune('\'')
					if i+1 < n && runes[i+1] == '\'' { // doubled-quote escape
						buf.WriteRune('\'')
						i++
						i++
						continue
					}
					closed = true
					break
				}
				buf.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("strata: unterminated string literal in SQL fragment")
			}
			// i currently indexes the closing quote; loop's i++ advances past it
		case r == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				buf.WriteRune(runes[i])
				i++
			}
			i-- // loop's i++ re-adds the char we stopped on (or n, harmlessly)
		case r == '/' && i+1 < n && runes[i+1] == '*':
			buf.WriteString("/*")
			i += 2
			closed := false
			for i+1 < n {
				if runes[i] == '*' && runes[i+1] == '/' {
					buf.WriteString("*/")
					i++
					closed = true
					break
				}
				buf.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("strata: unterminated block comment in SQL fragment")
			}
		case r == '?':
			flush()
			tokens = append(tokens, Token{Kind: TokenPositional})
		case r == ':' && i+1 < n && isNameStart(runes[i+1]):
			flush()
			j := i + 1
			for j < n && isNameRune(runes[j]) {
				j++
			}
			tokens = append(tokens, Token{Kind: TokenNamed, Text: string(runes[i+1 : j])})
			i = j - 1
		default:
			buf.WriteRune(r)
		}
	}
	flush()
	return tokens, nil
}

// ExpandNamed rewrites stmt's `:name` placeholders into positional `?`
// placeholders bound from args, so that the Statement crossing the row
// source boundary only ever carries positional parameters (spec.md §4.E:
// "positional `?` parameters only on the wire; named `:x` parameters are
// expanded client-side before dispatch"). Existing `?` placeholders consume
// stmt.Params in left-to-right order, unchanged; each `:name` placeholder
// is rewritten to `?` and contributes args[name] to the output Params at
// that position instead. An unknown name, or a Params slice that doesn't
// exactly cover every `?` in stmt.SQL, is a SqlError.
func ExpandNamed(stmt Statement, args map[string]any) (Statement, error) {
	tokens, err := Scan(stmt.SQL)
	if err != nil {
		return Statement{}, strata.NewSqlError(err.Error())
	}

	var b strings.Builder
	params := make([]any, 0, len(stmt.Params))
	next := 0
	for _, tok := range tokens {
		switch tok.Kind {
		case TokenText:
			b.WriteString(tok.Text)
		case TokenPositional:
			b.WriteByte('?')
			if next >= len(stmt.Params) {
				return Statement{}, strata.NewSqlError(fmt.Sprintf("not enough bound parameters for statement %q", stmt.SQL))
			}
			params = append(params, stmt.Params[next])
			next++
		case TokenNamed:
			val, ok := args[tok.Text]
			if !ok {
				return Statement{}, strata.NewSqlError(fmt.Sprintf("unknown named parameter %q", tok.Text))
			}
			b.WriteByte('?')
			params = append(params, val)
		}
	}
	if next != len(stmt.Params) {
		return Statement{}, strata.NewSqlError(fmt.Sprintf("%d bound parameter(s) left unused after expansion", len(stmt.Params)-next))
	}
	return Statement{SQL: b.String(), Params: params}, nil
}

func isNameStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isNameRune(r rune) bool {
	return isNameStart(r) || (r >= '0' && r <= '9')
}
