package domain

import "sort"

// TableSpec describes one application table.
type TableSpec struct {
	// Name overrides the physical table name. Empty means the logical name.
	Name string `yaml:"name"`
	// Key is the primary key. Defaults to ["id"].
	Key []string `yaml:"key"`
	// Refresh lets the mirror refresher pull this table from the primary.
	Refresh bool `yaml:"refresh"`
}

// Tables maps logical table names to their spec.
type Tables map[string]TableSpec

// DefaultKey is used for tables without an explicit key.
var DefaultKey = []string{"id"}

// Physical returns the deployment's table name for a logical table.
func (t Tables) Physical(table string) string {
	if spec, ok := t[table]; ok && spec.Name != "" {
		return spec.Name
	}
	return table
}

// Key returns the primary key columns of a logical table.
func (t Tables) Key(table string) []string {
	if spec, ok := t[table]; ok && len(spec.Key) > 0 {
		return spec.Key
	}
	return DefaultKey
}

// Refreshed returns the logical tables marked for mirror refresh.
func (t Tables) Refreshed() []string {
	var out []string
	for name, spec := range t {
		if spec.Refresh {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
