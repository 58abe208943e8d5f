package domain

import (
	"time"

	"github.com/google/uuid"
)

// Record is a queued write intent that reached the local mirror but not yet
// the primary store.
type Record struct {
	// ID orders records within a group; lower replays first.
	ID            int64
	OpID          uuid.UUID
	Group         string
	Op            Operation
	EnqueuedAt    time.Time
	Attempts      int
	LastAttemptAt time.Time
	LastError     string
}

// Age returns how long the record has been waiting.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.EnqueuedAt)
}

// DeadLetter is a record dropped from replay because the primary rejected it.
type DeadLetter struct {
	Record   Record
	Reason   string
	BuriedAt time.Time
}
