package db

import (
	"fmt"
)

// SelectQuery accumulates numbered WHERE conditions for a single table and
// renders the count and page statements used by list endpoints.
type SelectQuery struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

func NewSelectQuery(table, cols string) *SelectQuery {
	return &SelectQuery{table: table, cols: cols, idx: 1}
}

// Idx returns the next placeholder number.
func (q *SelectQuery) Idx() int { return q.idx }

// Add appends a raw condition. Placeholders in clause must start at Idx().
func (q *SelectQuery) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// Eq adds column = value.
func (q *SelectQuery) Eq(column string, value interface{}) {
	q.Add(fmt.Sprintf("%s = $%d", column, q.idx), value)
}

// Gte adds column >= value.
func (q *SelectQuery) Gte(column string, value interface{}) {
	q.Add(fmt.Sprintf("%s >= $%d", column, q.idx), value)
}

// Lte adds column <= value.
func (q *SelectQuery) Lte(column string, value interface{}) {
	q.Add(fmt.Sprintf("%s <= $%d", column, q.idx), value)
}

// Prefix adds a case-insensitive prefix match.
func (q *SelectQuery) Prefix(column, value string) {
	q.Add(fmt.Sprintf("%s ILIKE $%d", column, q.idx), value+"%")
}

// In adds column = ANY(values).
func (q *SelectQuery) In(column string, values interface{}) {
	q.Add(fmt.Sprintf("%s = ANY($%d)", column, q.idx), values)
}

func (q *SelectQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

func (q *SelectQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

func (q *SelectQuery) Args() []interface{} {
	return q.args
}

// AllSQL returns the unpaginated select.
func (q *SelectQuery) AllSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

// PageSQL returns the select with LIMIT/OFFSET placeholders appended.
func (q *SelectQuery) PageSQL() string {
	return q.AllSQL() + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
}

// PageArgs returns Args followed by limit and offset.
func (q *SelectQuery) PageArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}
