package domain

import "errors"

var (
	// ErrUnavailable is returned when neither the primary nor the local
	// mirror could serve a call.
	ErrUnavailable = errors.New("data store unavailable")

	// ErrInvalidQuery is returned for malformed tables, columns or payloads.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnboundedWrite is returned for an update or delete without a match.
	ErrUnboundedWrite = errors.New("update or delete requires a match")

	// ErrMultipleRows is returned when a single-row query matched more rows.
	ErrMultipleRows = errors.New("multiple rows returned for single-row query")

	// ErrDuplicateKey is returned by stores that detect key collisions themselves.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound is returned when a replayed update no longer matches any row.
	ErrNotFound = errors.New("no rows matched")
)
