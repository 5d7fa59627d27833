package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// query accumulates a SELECT with positional arguments.
type query struct {
	sb    strings.Builder
	args  []any
	where bool
}

func newQuery(base string) *query {
	q := &query{}
	q.sb.WriteString(base)
	return q
}

// arg binds v and returns its placeholder.
func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

func (q *query) and(cond string) {
	if q.where {
		q.sb.WriteString(" AND ")
	} else {
		q.sb.WriteString(" WHERE ")
		q.where = true
	}
	q.sb.WriteString(cond)
}

func (q *query) page(limit, offset int) {
	if limit > 0 {
		q.sb.WriteString(" LIMIT " + q.arg(limit))
	}
	if offset > 0 {
		q.sb.WriteString(" OFFSET " + q.arg(offset))
	}
}

func (q *query) String() string { return q.sb.String() }

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

func parseDecimalPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := parseDecimal(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// collect scans every row with scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
