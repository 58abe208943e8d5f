package domain

import "fmt"

// OperationKind names a write operation.
type OperationKind string

const (
	KindInsert OperationKind = "insert"
	KindUpsert OperationKind = "upsert"
	KindUpdate OperationKind = "update"
	KindDelete OperationKind = "delete"
)

// Operation is a write against one table. The concrete type is one of
// Insert, Upsert, Update or Delete.
type Operation interface {
	Kind() OperationKind
	Target() string
	operation()
}

// Insert adds rows.
type Insert struct {
	Table string
	Rows  []Row
}

// Upsert adds rows, updating existing ones that collide on ConflictKey.
type Upsert struct {
	Table       string
	Rows        []Row
	ConflictKey []string
}

// Update applies Patch to every row selected by Match.
type Update struct {
	Table string
	Patch Row
	Match Match
}

// Delete removes every row selected by Match.
type Delete struct {
	Table string
	Match Match
}

func (Insert) Kind() OperationKind { return KindInsert }
func (Upsert) Kind() OperationKind { return KindUpsert }
func (Update) Kind() OperationKind { return KindUpdate }
func (Delete) Kind() OperationKind { return KindDelete }

func (o Insert) Target() string { return o.Table }
func (o Upsert) Target() string { return o.Table }
func (o Update) Target() string { return o.Table }
func (o Delete) Target() string { return o.Table }

func (Insert) operation() {}
func (Upsert) operation() {}
func (Update) operation() {}
func (Delete) operation() {}

// Validate rejects operations that can never be applied.
func Validate(op Operation) error {
	switch o := op.(type) {
	case Insert:
		return validateRows(o.Table, o.Rows)
	case Upsert:
		return validateRows(o.Table, o.Rows)
	case Update:
		if len(o.Patch) == 0 {
			return fmt.Errorf("%w: empty patch for %s", ErrInvalidQuery, o.Table)
		}
		if len(o.Match) == 0 {
			return fmt.Errorf("%w: update %s", ErrUnboundedWrite, o.Table)
		}
	case Delete:
		if len(o.Match) == 0 {
			return fmt.Errorf("%w: delete %s", ErrUnboundedWrite, o.Table)
		}
	default:
		return fmt.Errorf("%w: unknown operation %T", ErrInvalidQuery, op)
	}
	if op.Target() == "" {
		return fmt.Errorf("%w: missing table", ErrInvalidQuery)
	}
	return nil
}

func validateRows(table string, rows []Row) error {
	if table == "" {
		return fmt.Errorf("%w: missing table", ErrInvalidQuery)
	}
	for i, r := range rows {
		if len(r) == 0 {
			return fmt.Errorf("%w: empty row %d for %s", ErrInvalidQuery, i, table)
		}
	}
	return nil
}
