package history

import (
	"regexp"
	"strings"
)

var (
	tableRefPattern    = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	aggregationPattern = regexp.MustCompile(`\b(COUNT|SUM|AVG|MIN|MAX|ARRAY_AGG|STRING_AGG)\s*\(`)
)

// ExtractTables returns the distinct, lowercased table names referenced in
// FROM and JOIN clauses of sqlQuery, in first-seen order.
func ExtractTables(sqlQuery string) []string {
	matches := tableRefPattern.FindAllStringSubmatch(sqlQuery, -1)
	seen := make(map[string]bool)
	var tables []string
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		name := strings.ToLower(match[1])
		if name == "select" || name == "lateral" || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

// ExtractAggregations returns the distinct aggregation functions used in
// sqlQuery (upper-cased), in first-seen order.
func ExtractAggregations(sqlQuery string) []string {
	upper := strings.ToUpper(sqlQuery)
	matches := aggregationPattern.FindAllStringSubmatch(upper, -1)
	seen := make(map[string]bool)
	var aggs []string
	for _, match := range matches {
		if len(match) < 2 || seen[match[1]] {
			continue
		}
		seen[match[1]] = true
		aggs = append(aggs, match[1])
	}
	return aggs
}

// ClassifyQueryType buckets a validated SELECT into a coarse shape used for
// observability: aggregation, lookup, report, or exploration.
func ClassifyQueryType(sqlQuery string) string {
	upper := strings.ToUpper(sqlQuery)

	hasAgg := aggregationPattern.MatchString(upper)
	hasGroupBy := strings.Contains(upper, "GROUP BY")
	if hasAgg || hasGroupBy {
		return "aggregation"
	}

	hasWhere := strings.Contains(upper, "WHERE")
	hasLimit := strings.Contains(upper, "LIMIT")
	if hasWhere && hasLimit {
		return "lookup"
	}

	hasOrderBy := strings.Contains(upper, "ORDER BY")
	if hasOrderBy && !hasLimit {
		return "report"
	}

	return "exploration"
}
