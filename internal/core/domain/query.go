package domain

// Order is a single ORDER BY term.
type Order struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc"`
}

// Query describes a select against a single table.
type Query struct {
	// Columns is the projection. Empty means all columns.
	Columns []string
	// Filters are conjunctive equality / in-set conditions.
	Filters Match
	OrderBy []Order
	// Limit of 0 means unbounded.
	Limit int
	// Single expects zero or one row; more is ErrMultipleRows.
	Single bool
}

// Shape enforces the Single contract on a result set.
func (q Query) Shape(rows []Row) ([]Row, error) {
	if q.Single && len(rows) > 1 {
		return nil, ErrMultipleRows
	}
	return rows, nil
}
