package sqlgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sql-workbench/internal/dialect"
)

func TestBuildSingleTableWithLimit(t *testing.T) {
	q := QueryDescription{
		Tables:      []string{"orders"},
		Projections: []Projection{{Column: "id"}, {Column: "total"}},
		Limit:       10,
	}
	sql, err := Build(q, dialect.PostgreSQL)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(sql, "LIMIT 10;"), "got %q", sql)
	assert.Equal(t, 1, strings.Count(sql, "SELECT"))
	assert.Equal(t, 1, strings.Count(sql, "FROM"))
	assert.Less(t, strings.Index(sql, "SELECT"), strings.Index(sql, "FROM"))
}

func TestBuildOmitsLimitWhenAbsent(t *testing.T) {
	q := QueryDescription{Tables: []string{"orders"}}
	sql, err := Build(q, dialect.SQLite)
	require.NoError(t, err)
	assert.NotContains(t, sql, "LIMIT")
	assert.True(t, strings.HasSuffix(sql, ";"))
}

func TestBuildInFilter(t *testing.T) {
	q := QueryDescription{
		Tables:  []string{"t"},
		Filters: []Filter{{Column: "x", Operator: "IN", Value: "1,2,3"}},
	}
	sql, err := Build(q, dialect.MySQL)
	require.NoError(t, err)
	assert.Contains(t, sql, "x IN ('1', '2', '3')")
}

func TestBuildBetweenFilter(t *testing.T) {
	q := QueryDescription{
		Tables:  []string{"t"},
		Filters: []Filter{{Column: "x", Operator: "BETWEEN", Value: "10 AND 20"}},
	}
	sql, err := Build(q, dialect.MySQL)
	require.NoError(t, err)
	assert.Contains(t, sql, "x BETWEEN '10' AND '20'")
}

func TestBuildBetweenFilterMalformedFallsBackToEquality(t *testing.T) {
	q := QueryDescription{
		Tables:  []string{"t"},
		Filters: []Filter{{Column: "x", Operator: "BETWEEN", Value: "10 TO 20"}},
	}
	sql, err := Build(q, dialect.MySQL)
	require.NoError(t, err)
	assert.Contains(t, sql, "x = '10 TO 20'")
}

func TestBuildLikeAndNumericFilters(t *testing.T) {
	q := QueryDescription{
		Tables: []string{"t"},
		Filters: []Filter{
			{Column: "name", Operator: "LIKE", Value: "smith"},
			{Column: "age", Operator: ">", Value: "21", Combinator: "AND"},
			{Column: "city", Operator: "=", Value: "Oslo", Combinator: "OR"},
		},
	}
	sql, err := Build(q, dialect.SQLite)
	require.NoError(t, err)
	assert.Contains(t, sql, "name LIKE '%smith%'")
	assert.Contains(t, sql, "AND age > 21")
	assert.Contains(t, sql, "OR city = 'Oslo'")
}

func TestBuildFirstFilterCombinatorDropped(t *testing.T) {
	q := QueryDescription{
		Tables:  []string{"t"},
		Filters: []Filter{{Column: "a", Operator: "=", Value: "1", Combinator: "AND"}},
	}
	sql, err := Build(q, dialect.MySQL)
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE a = 1")
	assert.NotContains(t, sql, "WHERE AND")
}

func TestBuildAggregateAlias(t *testing.T) {
	q := QueryDescription{
		Tables:      []string{"sales"},
		Projections: []Projection{{Column: "amount", Aggregate: "SUM"}},
		GroupBy:     []string{"region"},
	}
	sql, err := Build(q, dialect.MySQL)
	require.NoError(t, err)
	assert.Contains(t, sql, "SUM(amount) AS amount_sum")
	assert.Contains(t, sql, "GROUP BY region")
}

func TestBuildQuotesUppercaseQualifierOnPostgres(t *testing.T) {
	q := QueryDescription{
		Tables:      []string{"Sales"},
		Projections: []Projection{{Column: "Sales.amount", Aggregate: "AVG"}, {Column: "Sales.region"}},
	}
	sql, err := Build(q, dialect.PostgreSQL)
	require.NoError(t, err)
	assert.Contains(t, sql, `AVG("Sales"."amount") AS amount_avg`)
	assert.Contains(t, sql, `"Sales"."region"`)
	assert.Contains(t, sql, `FROM "Sales"`)

	// Same description on MySQL stays bare.
	sql, err = Build(q, dialect.MySQL)
	require.NoError(t, err)
	assert.Contains(t, sql, "AVG(Sales.amount) AS amount_avg")
	assert.Contains(t, sql, "FROM Sales")
}

func TestBuildJoinAndOrder(t *testing.T) {
	q := QueryDescription{
		Tables: []string{"orders", "customers"},
		Joins: []Join{{
			Kind: JoinLeft, LeftTable: "orders", RightTable: "customers",
			LeftColumn: "customer_id", RightColumn: "id",
		}},
		OrderBy: []Order{{Column: "total", Direction: "DESC"}},
	}
	sql, err := Build(q, dialect.MySQL)
	require.NoError(t, err)
	assert.Contains(t, sql, "LEFT JOIN customers ON orders.customer_id = customers.id")
	assert.Contains(t, sql, "ORDER BY total DESC")
}

func TestBuildRejectsBadInput(t *testing.T) {
	_, err := Build(QueryDescription{Tables: []string{"t"}}, "oracle")
	assert.ErrorIs(t, err, dialect.ErrUnsupportedDialect)

	_, err = Build(QueryDescription{}, dialect.MySQL)
	assert.Error(t, err)

	q := QueryDescription{
		Tables:  []string{"t"},
		Filters: []Filter{{Column: "a", Operator: "MATCHES", Value: "x"}},
	}
	_, err = Build(q, dialect.MySQL)
	assert.Error(t, err)

	q = QueryDescription{
		Tables:      []string{"t"},
		Projections: []Projection{{Column: "other.a"}},
	}
	_, err = Build(q, dialect.MySQL)
	assert.Error(t, err)
}
