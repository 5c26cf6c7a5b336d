package model

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/go-openapi/inflect"
)

// Table is an embeddable marker: a record type annotates itself by embedding
// Table anonymously and tagging that field, e.g.
//
//	type Article struct {
//	    model.Table `strata:"table=article"`
//	    ID          int64 `strata:"id"`
//	    Title       string
//	}
//
// Only types that embed Table directly get their own TableMapping entry in
// the table chain (spec.md §4.B step 1: "for each class annotated as a
// table, emit a TableMapping entry"). A record type embedding another record
// type without its own Table marker has its fields flattened into the
// nearest descendant's table, the same way an unannotated Java subclass's
// fields attach to the nearest annotated descendant.
type Table struct{}

// tagSpec is the parsed form of a `strata:"..."` struct tag: a set of bare
// flags (e.g. "id", "transient") and key=value pairs (e.g. "column=title").
type tagSpec struct {
	flags  map[string]bool
	values map[string]string
}

func parseTag(tag string) tagSpec {
	spec := tagSpec{flags: map[string]bool{}, values: map[string]string{}}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return spec
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if eq := strings.IndexByte(part, '='); eq >= 0 {
			spec.values[part[:eq]] = part[eq+1:]
		} else {
			spec.flags[part] = true
		}
	}
	return spec
}

func fieldTag(f reflect.StructField) tagSpec {
	return parseTag(f.Tag.Get("strata"))
}

func (s tagSpec) has(flag string) bool        { return s.flags[flag] }
func (s tagSpec) get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s tagSpec) getOr(key, fallback string) string {
	if v, ok := s.values[key]; ok {
		return v
	}
	return fallback
}

func (s tagSpec) getInt(key string) (int, bool) {
	v, ok := s.values[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// snakeCase converts a Go identifier in UpperCamelCase (or mixedCase) to
// lower_snake_case. It is not the default naming convention (see
// decapitalize) and nothing in this package calls it.
func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if isUpper(r) {
			if i > 0 && (!isUpper(runes[i-1]) || (i+1 < len(runes) && !isUpper(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(toLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "_")
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func toLower(r rune) rune {
	if isUpper(r) {
		return r + ('a' - 'A')
	}
	return r
}

// decapitalize is the default table/column/foreign-key naming convention:
// a Go identifier with its leading rune lowercased, matching the record's
// own field-name casing convention directly (e.g. "FirstName" -> "firstName",
// "Article" -> "article") rather than converting to snake_case.
func decapitalize(s string) string { return inflect.CamelizeDownFirst(s) }
