package sqlgen

import (
	"regexp"
	"strings"

	"sql-workbench/internal/dialect"
)

// These rewrites are regex-scoped text surgery, not parsing. They patch the
// common bare-identifier cases a visual builder or a user's free-text SQL
// produces; anything they cannot handle safely is reported as a warning and
// left untouched.
var (
	candidateTableRe = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_]*)\b`)
	subqueryRe       = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
	orderByColRe     = regexp.MustCompile(`(?i)\b(ORDER\s+BY)\s+([A-Za-z_][A-Za-z0-9_]*)(\s*[(.]?)`)
	groupByColRe     = regexp.MustCompile(`(?i)\b(GROUP\s+BY)\s+([A-Za-z_][A-Za-z0-9_]*)(\s*[(.]?)`)
	whereColRe       = regexp.MustCompile(`(?i)\b(WHERE)\s+([A-Za-z_][A-Za-z0-9_]*)\s*(>=|<=|<>|!=|=|>|<|LIKE\b|IN\b|BETWEEN\b)`)
	literalRe        = regexp.MustCompile(`'(?:[^']|'')*'`)
)

// Rewrite quotes bare table and column identifiers in raw SQL text for
// dialects that fold unquoted identifiers (PostgreSQL). Other dialects pass
// through unchanged. Already-quoted segments, function calls and the *
// wildcard are never altered. A qualified reference that happens to appear
// inside a single-quoted string literal disables the qualified-column pass
// for that table and produces a warning; the scan is regex-based, not a
// tokenizer, so literals are otherwise assumed not to look like SQL.
//
// The rewrite is idempotent: running it on its own output changes nothing.
// Constructs it declines to rewrite (nested subqueries, names already
// quoted elsewhere in the statement) are returned as warnings.
func Rewrite(sql, d string) (string, []string, error) {
	d, err := dialect.Normalize(d)
	if err != nil {
		return "", nil, err
	}
	if !dialect.CaseSensitive(d) {
		return sql, nil, nil
	}

	var warnings []string
	if subqueryRe.MatchString(sql) {
		warnings = append(warnings, "nested subquery left unmodified")
	}

	for _, name := range candidateTables(sql) {
		if strings.Contains(sql, `"`+name+`"`) {
			warnings = append(warnings, "identifier "+name+" already quoted elsewhere, skipped")
			continue
		}
		fromJoinRe := regexp.MustCompile(`(?i)\b(FROM|JOIN)\s+` + regexp.QuoteMeta(name) + `\b`)
		sql = fromJoinRe.ReplaceAllString(sql, `${1} "`+name+`"`)

		dottedRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\.([A-Za-z_][A-Za-z0-9_]*)`)
		if matchesInsideLiteral(sql, dottedRe) {
			warnings = append(warnings, "reference to "+name+" inside a string literal, left unmodified")
		} else {
			sql = dottedRe.ReplaceAllString(sql, `"`+name+`"."${1}"`)
		}
	}

	sql = quoteClauseColumn(sql, orderByColRe)
	sql = quoteClauseColumn(sql, groupByColRe)
	sql = whereColRe.ReplaceAllString(sql, `${1} "${2}" ${3}`)

	return sql, warnings, nil
}

// matchesInsideLiteral reports whether any match of re falls entirely within
// a single-quoted string literal. Qualified references that also appear
// inside a literal make the dotted rewrite unsafe for that table, so the
// whole pass is skipped rather than corrupting the literal.
func matchesInsideLiteral(sql string, re *regexp.Regexp) bool {
	literals := literalRe.FindAllStringIndex(sql, -1)
	if len(literals) == 0 {
		return false
	}
	for _, m := range re.FindAllStringIndex(sql, -1) {
		for _, lit := range literals {
			if m[0] >= lit[0] && m[1] <= lit[1] {
				return true
			}
		}
	}
	return false
}

// candidateTables collects bare identifiers following FROM and JOIN.
func candidateTables(sql string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range candidateTableRe.FindAllStringSubmatch(sql, -1) {
		if name := m[1]; !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// quoteClauseColumn quotes the leading bare column after a clause keyword,
// leaving function calls and qualified references for other passes.
func quoteClauseColumn(sql string, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(sql, func(m string) string {
		sub := re.FindStringSubmatch(m)
		tail := sub[3]
		if strings.HasSuffix(tail, "(") || strings.HasSuffix(tail, ".") {
			return m
		}
		return sub[1] + ` "` + sub[2] + `"` + tail
	})
}
