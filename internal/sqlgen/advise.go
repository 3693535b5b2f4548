package sqlgen

import "strings"

// Advise derives optimization suggestions from EXPLAIN output plus the
// original statement. Plain text heuristics; suggestions are advisory and
// never block execution.
func Advise(planText, query string) []string {
	var tips []string
	plan := strings.ToLower(planText)
	q := strings.ToLower(query)

	if strings.Contains(plan, "table scan") || strings.Contains(plan, "scan table") ||
		strings.Contains(plan, "seq scan") {
		tips = append(tips, "full table scan detected, consider adding an index on the searched columns")
	}
	if strings.Contains(plan, "index") {
		tips = append(tips, "query is using indexes")
	} else {
		tips = append(tips, "no indexes used in this query, consider adding appropriate indexes")
	}

	if !strings.Contains(q, "where") {
		tips = append(tips, "query has no WHERE clause and may return a large result set")
	}
	if strings.Contains(q, "order by") || strings.Contains(q, "group by") {
		tips = append(tips, "query sorts or groups, ensure those columns are indexed")
	}
	if strings.Contains(q, "join") {
		tips = append(tips, "query joins tables, ensure join columns are indexed on both sides")
	}
	if !strings.Contains(q, "limit") {
		tips = append(tips, "consider adding a LIMIT clause to restrict the result set size")
	}
	return tips
}

var aggregateMarkers = []string{"count(*)", "sum(", "avg(", "min(", "max("}

// LooksExpensive reports whether a statement matches patterns that tend to
// run long: joins without a WHERE clause, grouped aggregations, or deeply
// nested SELECTs. Used to suggest background submission, never to refuse
// synchronous execution.
func LooksExpensive(sql string) bool {
	q := strings.ToLower(sql)

	if strings.Contains(q, "select") && strings.Contains(q, "from") &&
		!strings.Contains(q, "where") && strings.Contains(q, "join") {
		return true
	}
	for _, agg := range aggregateMarkers {
		if strings.Contains(q, agg) && strings.Contains(q, "group by") {
			return true
		}
	}
	return strings.Count(q, "select") > 2
}
