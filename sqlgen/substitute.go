package sqlgen

import (
	"fmt"
	"strings"
)

// Scope carries the context a user-supplied fragment (where/group/order/
// join-condition/computed) is substituted against (spec.md §4.D, "Resolution
// rules").
type Scope struct {
	This      string // the dotted alias path that owns the fragment
	IsRoot    bool   // true when This is the plan's root alias
	LinkTable string // the junction's physical alias, set only for a link-table join condition
	Resolve   func(path string) (physicalAlias string, ok bool)
}

// Substitute rewrites every `{token}` in fragment against scope, per spec.md
// §4.D "Resolution rules":
//
//   - {this}        -> the owning alias alone (write ".col" literally after)
//   - {linktable}    -> the junction alias alone (link-table edges only)
//   - {a.b.col}      -> alias path "a.b" qualifying column "col"
//   - {col}          -> column "col" qualified by the owning alias
func Substitute(fragment string, scope Scope, quote func(string) string) (string, error) {
	var b strings.Builder
	runes := []rune(fragment)
	n := len(runes)
	for i := 0; i < n; {
		if runes[i] != '{' {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i + 1
		for j < n && runes[j] != '}' {
			j++
		}
		if j >= n {
			return "", fmt.Errorf("strata: unterminated alias token in fragment %q", fragment)
		}
		token := string(runes[i+1 : j])
		text, err := resolveToken(token, scope, quote)
		if err != nil {
			return "", err
		}
		b.WriteString(text)
		i = j + 1
	}
	return b.String(), nil
}

func resolveToken(token string, scope Scope, quote func(string) string) (string, error) {
	switch token {
	case "this":
		physicalAlias, ok := scope.Resolve(scope.This)
		if !ok {
			return "", fmt.Errorf("strata: unknown alias %q", scope.This)
		}
		return quote(physicalAlias), nil
	case "linktable":
		if scope.LinkTable == "" {
			return "", fmt.Errorf("strata: {linktable} used outside a link-table edge")
		}
		return quote(scope.LinkTable), nil
	}

	aliasPath := scope.This
	column := token
	if idx := strings.LastIndex(token, "."); idx >= 0 {
		aliasPath = token[:idx]
		column = token[idx+1:]
	}
	physicalAlias, ok := scope.Resolve(aliasPath)
	if !ok {
		return "", fmt.Errorf("strata: unknown alias %q referenced in token %q", aliasPath, token)
	}
	return quote(physicalAlias) + "." + quote(column), nil
}
