package sqlstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/vietddude/cafepos/internal/core/domain"
)

// Statements are built with '?' placeholders and rebound per driver.

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quote(ident string) (string, error) {
	if !identRe.MatchString(ident) {
		return "", fmt.Errorf("%w: bad identifier %q", domain.ErrInvalidQuery, ident)
	}
	return `"` + ident + `"`, nil
}

func quoteAll(idents []string) ([]string, error) {
	out := make([]string, len(idents))
	for i, id := range idents {
		q, err := quote(id)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// buildWhere renders a conjunctive match. An empty set matches nothing.
func buildWhere(match domain.Match) (string, []any, error) {
	if len(match) == 0 {
		return "", nil, nil
	}
	var (
		conds []string
		args  []any
	)
	for _, col := range match.Columns() {
		qc, err := quote(col)
		if err != nil {
			return "", nil, err
		}
		v := match[col]
		if set, ok := domain.SetValues(v); ok {
			if len(set) == 0 {
				conds = append(conds, "1 = 0")
				continue
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", qc, placeholders(len(set))))
			for _, s := range set {
				a, err := argValue(s)
				if err != nil {
					return "", nil, err
				}
				args = append(args, a)
			}
			continue
		}
		if v == nil {
			conds = append(conds, qc+" IS NULL")
			continue
		}
		a, err := argValue(v)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, qc+" = ?")
		args = append(args, a)
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func buildSelect(table string, q domain.Query) (string, []any, error) {
	qt, err := quote(table)
	if err != nil {
		return "", nil, err
	}
	proj := "*"
	if len(q.Columns) > 0 {
		cols, err := quoteAll(q.Columns)
		if err != nil {
			return "", nil, err
		}
		proj = strings.Join(cols, ", ")
	}
	where, args, err := buildWhere(q.Filters)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s%s", proj, qt, where)
	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			qc, err := quote(o.Column)
			if err != nil {
				return "", nil, err
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			terms[i] = qc + " " + dir
		}
		sb.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	limit := q.Limit
	if q.Single && (limit == 0 || limit > 2) {
		limit = 2
	}
	if limit < 0 {
		return "", nil, fmt.Errorf("%w: negative limit", domain.ErrInvalidQuery)
	}
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String(), args, nil
}

// buildInsert renders a multi-row insert. Every row must carry exactly cols.
// A non-empty conflict key turns it into an upsert.
func buildInsert(table string, cols []string, rows []domain.Row, conflict []string) (string, []any, error) {
	qt, err := quote(table)
	if err != nil {
		return "", nil, err
	}
	qcols, err := quoteAll(cols)
	if err != nil {
		return "", nil, err
	}

	tuple := "(" + placeholders(len(cols)) + ")"
	tuples := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	for i, r := range rows {
		tuples[i] = tuple
		for _, c := range cols {
			a, err := argValue(r[c])
			if err != nil {
				return "", nil, err
			}
			args = append(args, a)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES %s",
		qt, strings.Join(qcols, ", "), strings.Join(tuples, ", "))

	if len(conflict) > 0 {
		qconf, err := quoteAll(conflict)
		if err != nil {
			return "", nil, err
		}
		inKey := make(map[string]bool, len(conflict))
		for _, c := range conflict {
			inKey[c] = true
		}
		var sets []string
		for i, c := range cols {
			if !inKey[c] {
				sets = append(sets, fmt.Sprintf("%s = excluded.%s", qcols[i], qcols[i]))
			}
		}
		fmt.Fprintf(&sb, " ON CONFLICT (%s)", strings.Join(qconf, ", "))
		if len(sets) == 0 {
			sb.WriteString(" DO NOTHING")
		} else {
			sb.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
		}
	}
	sb.WriteString(" RETURNING *")
	return sb.String(), args, nil
}

func buildUpdate(table string, patch domain.Row, match domain.Match) (string, []any, error) {
	if len(match) == 0 {
		return "", nil, fmt.Errorf("%w: update %s", domain.ErrUnboundedWrite, table)
	}
	if len(patch) == 0 {
		return "", nil, fmt.Errorf("%w: empty patch for %s", domain.ErrInvalidQuery, table)
	}
	qt, err := quote(table)
	if err != nil {
		return "", nil, err
	}
	var (
		sets []string
		args []any
	)
	for _, c := range patch.Columns() {
		qc, err := quote(c)
		if err != nil {
			return "", nil, err
		}
		a, err := argValue(patch[c])
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, qc+" = ?")
		args = append(args, a)
	}
	where, wargs, err := buildWhere(match)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", qt, strings.Join(sets, ", "), where)
	return query, append(args, wargs...), nil
}

func buildDelete(table string, match domain.Match) (string, []any, error) {
	if len(match) == 0 {
		return "", nil, fmt.Errorf("%w: delete %s", domain.ErrUnboundedWrite, table)
	}
	qt, err := quote(table)
	if err != nil {
		return "", nil, err
	}
	where, args, err := buildWhere(match)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s%s RETURNING *", qt, where), args, nil
}

// argValue converts composite values to JSON text so both drivers accept them.
func argValue(v any) (any, error) {
	switch vv := v.(type) {
	case nil, string, []byte, bool, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	case json.RawMessage:
		return string(vv), nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot encode %T: %v", domain.ErrInvalidQuery, v, err)
		}
		return string(b), nil
	}
	return v, nil
}

// columnGroups splits rows into runs that share the same column set, keeping order.
func columnGroups(rows []domain.Row) [][]domain.Row {
	var (
		groups [][]domain.Row
		last   string
	)
	for _, r := range rows {
		sig := strings.Join(r.Columns(), ",")
		if len(groups) > 0 && sig == last {
			groups[len(groups)-1] = append(groups[len(groups)-1], r)
			continue
		}
		groups = append(groups, []domain.Row{r})
		last = sig
	}
	return groups
}
