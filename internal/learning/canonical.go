package learning

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoMatchClause is returned for queries without a MATCH clause.
var ErrNoMatchClause = errors.New("query has no MATCH clause")

var (
	stringLiteralRe = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`)
	propertyMapRe   = regexp.MustCompile(`\{[^{}]*\}`)
	matchKeywordRe  = regexp.MustCompile(`(?i)\bmatch\b`)
	clauseEndRe     = regexp.MustCompile(`(?i)\b(?:where|return|with|match|optional|create|merge|set|delete|detach|remove|unwind|call|order|skip|limit|union|foreach)\b`)
	labelRe         = regexp.MustCompile(`:\s*[A-Za-z0-9_]+`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
	punctSpaceRe    = regexp.MustCompile(`\s*([()\[\]<>\-,:|*.])\s*`)
	mapEntryRe      = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*:\s*(?:'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"|\$[A-Za-z0-9_]+|[^,}]+)`)
	nodeLabelRe     = regexp.MustCompile(`\(\s*[A-Za-z0-9_]*\s*((?::\s*[A-Za-z0-9_]+)+)`)
	relTypeRe       = regexp.MustCompile(`\[\s*[A-Za-z0-9_]*\s*:\s*([A-Za-z0-9_]+(?:\s*\|\s*:?[A-Za-z0-9_]+)*)`)
)

// firstMatchClause returns the body of the first MATCH clause of query,
// excluding the keyword. Keywords inside string literals are ignored.
func firstMatchClause(query string) (string, bool) {
	// Blank literals, property maps and labels without shifting offsets so
	// only real clause keywords are found.
	blank := func(s string) string { return strings.Repeat("_", len(s)) }
	masked := stringLiteralRe.ReplaceAllStringFunc(query, blank)
	for {
		next := propertyMapRe.ReplaceAllStringFunc(masked, blank)
		if next == masked {
			break
		}
		masked = next
	}
	masked = labelRe.ReplaceAllStringFunc(masked, blank)
	loc := matchKeywordRe.FindStringIndex(masked)
	if loc == nil {
		return "", false
	}
	body := query[loc[1]:]
	rest := masked[loc[1]:]
	if end := clauseEndRe.FindStringIndex(rest); end != nil {
		body = body[:end[0]]
	}
	body = strings.TrimSpace(body)
	return body, body != ""
}

// CanonicalizeQuery reduces the first MATCH clause of query to its
// structural shape: property maps and literals are removed, whitespace is
// collapsed and the result is lowercased. Queries that differ only in
// filter values share a key.
func CanonicalizeQuery(query string) (string, error) {
	clause, ok := firstMatchClause(query)
	if !ok {
		return "", ErrNoMatchClause
	}
	key := stringLiteralRe.ReplaceAllString(clause, "")
	for {
		stripped := propertyMapRe.ReplaceAllString(key, "")
		if stripped == key {
			break
		}
		key = stripped
	}
	key = whitespaceRe.ReplaceAllString(key, " ")
	key = punctSpaceRe.ReplaceAllString(key, "$1")
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "", ErrNoMatchClause
	}
	return key, nil
}

// QueryTemplate returns the first MATCH clause of query with each property
// value replaced by a parameter named after its key.
func QueryTemplate(query string) (string, error) {
	clause, ok := firstMatchClause(query)
	if !ok {
		return "", ErrNoMatchClause
	}
	tmpl := propertyMapRe.ReplaceAllStringFunc(clause, func(m string) string {
		return mapEntryRe.ReplaceAllStringFunc(m, func(entry string) string {
			name := mapEntryRe.FindStringSubmatch(entry)[1]
			return name + ": $" + name
		})
	})
	return "MATCH " + whitespaceRe.ReplaceAllString(tmpl, " "), nil
}

// DescribeQuery summarizes the labels and relationship types of the first
// MATCH clause as "Match <labels> via <relationships>".
func DescribeQuery(query string) (string, error) {
	clause, ok := firstMatchClause(query)
	if !ok {
		return "", ErrNoMatchClause
	}

	var labels []string
	for _, m := range nodeLabelRe.FindAllStringSubmatch(clause, -1) {
		for _, l := range strings.Split(m[1], ":") {
			if l = strings.TrimSpace(l); l != "" {
				labels = appendUnique(labels, l)
			}
		}
	}
	var rels []string
	for _, m := range relTypeRe.FindAllStringSubmatch(clause, -1) {
		for _, r := range strings.Split(m[1], "|") {
			if r = strings.Trim(strings.TrimSpace(r), ":"); r != "" {
				rels = appendUnique(rels, r)
			}
		}
	}

	if len(labels) == 0 {
		labels = []string{"any node"}
	}
	desc := "Match " + strings.Join(labels, ", ")
	if len(rels) > 0 {
		desc += " via " + strings.Join(rels, ", ")
	}
	return desc, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
