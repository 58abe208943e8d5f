package domain

// Source identifies which backend served an operation.
type Source string

const (
	SourcePrimary Source = "primary"
	SourceLocal   Source = "local"
)

// Result is what every data-access call returns on success. The row shape
// does not depend on Source.
type Result struct {
	Rows         []Row  `json:"data"`
	Source       Source `json:"source"`
	FallbackUsed bool   `json:"fallback_used"`
}

// Row returns the first row, or nil when there is none.
func (r *Result) Row() Row {
	if r == nil || len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}
