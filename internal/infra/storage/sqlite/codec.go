package sqlite

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/vietddude/cafepos/internal/core/domain"
)

// Operation payloads are stored as CBOR so column values keep their types
// (integers stay integers, timestamps stay timestamps) across a restart.

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:    cbor.SortCanonical,
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

type options struct {
	ConflictKey []string `cbor:"conflict_key,omitempty"`
}

// encodedOp is the column form of an operation.
type encodedOp struct {
	Kind    domain.OperationKind `db:"kind"`
	Table   string               `db:"tbl"`
	Payload []byte               `db:"payload"`
	Match   []byte               `db:"criteria"`
	Options []byte               `db:"options"`
}

func encodeOp(op domain.Operation) (encodedOp, error) {
	out := encodedOp{Kind: op.Kind(), Table: op.Target()}
	var err error
	switch o := op.(type) {
	case domain.Insert:
		out.Payload, err = encMode.Marshal(o.Rows)
	case domain.Upsert:
		if out.Payload, err = encMode.Marshal(o.Rows); err == nil {
			out.Options, err = encMode.Marshal(options{ConflictKey: o.ConflictKey})
		}
	case domain.Update:
		if out.Payload, err = encMode.Marshal(o.Patch); err == nil {
			out.Match, err = encMode.Marshal(o.Match)
		}
	case domain.Delete:
		out.Match, err = encMode.Marshal(o.Match)
	default:
		return out, fmt.Errorf("%w: unknown operation %T", domain.ErrInvalidQuery, op)
	}
	if err != nil {
		return out, fmt.Errorf("failed to encode %s on %s: %w", op.Kind(), op.Target(), err)
	}
	return out, nil
}

func (e encodedOp) decode() (domain.Operation, error) {
	switch e.Kind {
	case domain.KindInsert:
		var rows []domain.Row
		if err := decMode.Unmarshal(e.Payload, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode insert payload: %w", err)
		}
		return domain.Insert{Table: e.Table, Rows: rows}, nil
	case domain.KindUpsert:
		var (
			rows []domain.Row
			opts options
		)
		if err := decMode.Unmarshal(e.Payload, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode upsert payload: %w", err)
		}
		if len(e.Options) > 0 {
			if err := decMode.Unmarshal(e.Options, &opts); err != nil {
				return nil, fmt.Errorf("failed to decode upsert options: %w", err)
			}
		}
		return domain.Upsert{Table: e.Table, Rows: rows, ConflictKey: opts.ConflictKey}, nil
	case domain.KindUpdate:
		var (
			patch domain.Row
			match domain.Match
		)
		if err := decMode.Unmarshal(e.Payload, &patch); err != nil {
			return nil, fmt.Errorf("failed to decode update patch: %w", err)
		}
		if err := decMode.Unmarshal(e.Match, &match); err != nil {
			return nil, fmt.Errorf("failed to decode update match: %w", err)
		}
		return domain.Update{Table: e.Table, Patch: patch, Match: match}, nil
	case domain.KindDelete:
		var match domain.Match
		if err := decMode.Unmarshal(e.Match, &match); err != nil {
			return nil, fmt.Errorf("failed to decode delete match: %w", err)
		}
		return domain.Delete{Table: e.Table, Match: match}, nil
	}
	return nil, fmt.Errorf("unknown operation kind %q", e.Kind)
}
