// Package sqlgen synthesizes SQL text from structured query descriptions
// and patches identifier quoting in free-text SQL. Synthesis is templated
// string assembly, not a parser; callers that control query construction
// should prefer the structured path over the textual rewriter.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"sql-workbench/internal/dialect"
)

// Projection is one SELECT item: a column reference, optionally wrapped in
// an aggregate function.
type Projection struct {
	Column    string
	Aggregate string
}

// Join kinds.
const (
	JoinInner = "INNER JOIN"
	JoinLeft  = "LEFT JOIN"
	JoinRight = "RIGHT JOIN"
	JoinFull  = "FULL JOIN"
)

// Join links two tables on one column pair.
type Join struct {
	Kind        string
	LeftTable   string
	RightTable  string
	LeftColumn  string
	RightColumn string
}

// Filter is one WHERE condition. Combinator (AND/OR) joins it to the
// preceding condition and is ignored on the first filter.
type Filter struct {
	Column     string
	Operator   string
	Value      string
	Combinator string
}

// Order is one ORDER BY term.
type Order struct {
	Column    string
	Direction string
}

// QueryDescription is a dialect-agnostic query to synthesize. It is built
// transiently by a caller and consumed once by Build; it is never persisted.
type QueryDescription struct {
	Tables      []string
	Projections []Projection
	Joins       []Join
	Filters     []Filter
	GroupBy     []string
	OrderBy     []Order
	Limit       int
}

var validOperators = map[string]bool{
	"=": true, ">": true, "<": true, ">=": true, "<=": true, "!=": true,
	"LIKE": true, "IN": true, "BETWEEN": true,
}

// Validate checks the structural invariants Build relies on: at least one
// table, known filter operators, and table qualifiers that name declared
// tables. GroupBy membership is the caller's responsibility.
func (q QueryDescription) Validate() error {
	if len(q.Tables) == 0 {
		return fmt.Errorf("query description: no tables")
	}
	known := make(map[string]bool, len(q.Tables))
	for _, t := range q.Tables {
		known[t] = true
	}
	for _, p := range q.Projections {
		if tbl, _, ok := splitQualified(p.Column); ok && !known[tbl] {
			return fmt.Errorf("query description: projection %q references undeclared table %q", p.Column, tbl)
		}
	}
	for _, f := range q.Filters {
		if !validOperators[f.Operator] {
			return fmt.Errorf("query description: unsupported operator %q", f.Operator)
		}
	}
	return nil
}

// Build renders the description as a single SQL statement for the target
// dialect. Clauses are emitted in fixed order (SELECT, FROM, JOIN, WHERE,
// GROUP BY, ORDER BY, LIMIT), joined by newlines, terminated with ";".
func Build(q QueryDescription, d string) (string, error) {
	d, err := dialect.Normalize(d)
	if err != nil {
		return "", err
	}
	if err := q.Validate(); err != nil {
		return "", err
	}

	var parts []string

	selectItems := make([]string, 0, len(q.Projections))
	for _, p := range q.Projections {
		selectItems = append(selectItems, renderProjection(p, d))
	}
	if len(selectItems) == 0 {
		selectItems = append(selectItems, "*")
	}
	parts = append(parts, "SELECT "+strings.Join(selectItems, ", "))

	// FROM names only the first table; every other table must arrive
	// through an explicit join entry. No implicit cross joins.
	parts = append(parts, "FROM "+renderTable(q.Tables[0], d))

	for _, j := range q.Joins {
		parts = append(parts, fmt.Sprintf("%s %s ON %s.%s = %s.%s",
			j.Kind, j.RightTable, j.LeftTable, j.LeftColumn, j.RightTable, j.RightColumn))
	}

	if len(q.Filters) > 0 {
		conds := make([]string, 0, len(q.Filters))
		for i, f := range q.Filters {
			cond := renderFilter(f)
			if i > 0 && f.Combinator != "" {
				cond = f.Combinator + " " + cond
			}
			conds = append(conds, cond)
		}
		parts = append(parts, "WHERE "+strings.Join(conds, " "))
	}

	if len(q.GroupBy) > 0 {
		parts = append(parts, "GROUP BY "+strings.Join(q.GroupBy, ", "))
	}

	if len(q.OrderBy) > 0 {
		terms := make([]string, 0, len(q.OrderBy))
		for _, o := range q.OrderBy {
			terms = append(terms, o.Column+" "+o.Direction)
		}
		parts = append(parts, "ORDER BY "+strings.Join(terms, ", "))
	}

	if q.Limit > 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", q.Limit))
	}

	return strings.Join(parts, "\n") + ";", nil
}

func renderProjection(p Projection, d string) string {
	if p.Aggregate == "" {
		return renderColumnRef(p.Column, d)
	}
	col := p.Column
	if _, c, ok := splitQualified(p.Column); ok {
		col = c
	}
	return fmt.Sprintf("%s(%s) AS %s_%s",
		p.Aggregate, renderColumnRef(p.Column, d), col, strings.ToLower(p.Aggregate))
}

// renderColumnRef quotes the table qualifier only when the dialect folds
// unquoted identifiers (PostgreSQL) and the qualifier carries mixed case.
// This is deliberately narrower than the textual rewriter's policy.
func renderColumnRef(ref, d string) string {
	tbl, col, ok := splitQualified(ref)
	if !ok {
		return ref
	}
	if dialect.CaseSensitive(d) && hasUpper(tbl) {
		qt, _ := dialect.Quote(tbl, d)
		qc, _ := dialect.Quote(col, d)
		return qt + "." + qc
	}
	return ref
}

func renderTable(name, d string) string {
	if dialect.CaseSensitive(d) && hasUpper(name) {
		q, _ := dialect.Quote(name, d)
		return q
	}
	return name
}

func renderFilter(f Filter) string {
	switch f.Operator {
	case "IN":
		toks := strings.Split(f.Value, ",")
		quoted := make([]string, 0, len(toks))
		for _, t := range toks {
			quoted = append(quoted, "'"+strings.TrimSpace(t)+"'")
		}
		return fmt.Sprintf("%s IN (%s)", f.Column, strings.Join(quoted, ", "))
	case "BETWEEN":
		bounds := strings.Split(f.Value, " AND ")
		if len(bounds) == 2 {
			return fmt.Sprintf("%s BETWEEN '%s' AND '%s'",
				f.Column, strings.TrimSpace(bounds[0]), strings.TrimSpace(bounds[1]))
		}
		// Lenient fallback: a malformed range degrades to an equality
		// check on the raw value rather than an error.
		return fmt.Sprintf("%s = '%s'", f.Column, f.Value)
	case "LIKE":
		return fmt.Sprintf("%s LIKE '%%%s%%'", f.Column, f.Value)
	default:
		if _, err := strconv.ParseFloat(f.Value, 64); err == nil {
			return fmt.Sprintf("%s %s %s", f.Column, f.Operator, f.Value)
		}
		return fmt.Sprintf("%s %s '%s'", f.Column, f.Operator, f.Value)
	}
}

func splitQualified(ref string) (table, column string, ok bool) {
	i := strings.IndexByte(ref, '.')
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

func hasUpper(s string) bool {
	return strings.IndexFunc(s, unicode.IsUpper) >= 0
}
