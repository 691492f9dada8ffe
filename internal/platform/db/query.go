package db

import (
	"fmt"
	"strings"
)

// FilterType selects how a filter value is compared to its column.
type FilterType int

const (
	FilterExact    FilterType = iota // column = value
	FilterContains                   // column ILIKE %value%
	FilterFrom                       // column >= value
	FilterTo                         // column < value
)

// Filter maps a request parameter onto a column.
type Filter struct {
	Type   FilterType
	Column string
}

// Query accumulates WHERE fragments and positional args for a list query
// over a table or a CTE.
type Query struct {
	from    string
	cols    string
	where   string
	args    []interface{}
	orderBy string
}

func NewQuery(from, cols string) *Query {
	return &Query{from: from, cols: cols}
}

// Next returns the placeholder index the next argument will take.
func (q *Query) Next() int { return len(q.args) + 1 }

// Add appends a raw clause. Placeholders in clause must start at Next().
func (q *Query) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
}

// Apply adds a clause for one filter.
func (q *Query) Apply(f Filter, value string) {
	n := q.Next()
	switch f.Type {
	case FilterContains:
		q.Add(fmt.Sprintf("%s ILIKE $%d", f.Column, n), "%"+escapeLike(value)+"%")
	case FilterFrom:
		q.Add(fmt.Sprintf("%s >= $%d", f.Column, n), value)
	case FilterTo:
		q.Add(fmt.Sprintf("%s < $%d", f.Column, n), value)
	default:
		q.Add(fmt.Sprintf("%s = $%d", f.Column, n), value)
	}
}

// ApplyParams applies every param that has a filter configured, in the
// order of the configured names so the generated SQL is stable.
func (q *Query) ApplyParams(params map[string]string, names []string, filters map[string]Filter) {
	for _, name := range names {
		v, ok := params[name]
		if !ok || v == "" {
			continue
		}
		if f, ok := filters[name]; ok {
			q.Apply(f, v)
		}
	}
}

func (q *Query) OrderBy(orderBy string) { q.orderBy = orderBy }

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.from, q.where)
}

func (q *Query) CountArgs() []interface{} { return q.args }

func (q *Query) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.from, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	n := q.Next()
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", n, n+1)
}

func (q *Query) DataArgs(limit, offset int) []interface{} {
	out := make([]interface{}, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
