package replay

import (
	"github.com/vietddude/cafepos/internal/core/domain"
)

// Translate turns a queued operation into the call that replays it against
// the primary. Replaying must be safe to repeat: an insert whose rows all
// carry the table key becomes an upsert on that key, so a write that reached
// the primary before its acknowledgement was lost does not fail as a
// duplicate.
func Translate(op domain.Operation, tables domain.Tables) domain.Operation {
	switch o := op.(type) {
	case domain.Insert:
		key := tables.Key(o.Table)
		for _, r := range o.Rows {
			if !r.HasAll(key) {
				return o
			}
		}
		return domain.Upsert{Table: o.Table, Rows: o.Rows, ConflictKey: key}
	case domain.Upsert:
		if len(o.ConflictKey) == 0 {
			o.ConflictKey = tables.Key(o.Table)
		}
		return o
	case domain.Update:
		return o
	case domain.Delete:
		return o
	}
	return op
}
