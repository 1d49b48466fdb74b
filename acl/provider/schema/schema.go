// Package schema holds the configurable table-name options consumed by
// acl/provider (spec §6's "Configuration (options)" block). Column names
// are fixed by the spec; only table names and the batch size vary.
package schema

// DefaultMaxBatchSize is used by Options.WithDefaults when MaxBatchSize is
// left at zero (spec §4.6's "configurable batch size (default 30)").
const DefaultMaxBatchSize = 30

// Options names the five tables the provider reads and writes, plus the
// read-path batch size.
type Options struct {
	ClassTableName        string
	OidTableName          string
	OidAncestorsTableName string
	EntryTableName        string
	SidTableName          string
	MaxBatchSize          int
}

// DefaultOptions returns the conventional table names used by acl/postgres's
// bundled migrations.
func DefaultOptions() Options {
	return Options{
		ClassTableName:        "classes",
		OidTableName:          "object_identities",
		OidAncestorsTableName: "object_identity_ancestors",
		EntryTableName:        "entries",
		SidTableName:          "security_identities",
		MaxBatchSize:          DefaultMaxBatchSize,
	}
}

// WithDefaults fills any zero-valued field from DefaultOptions, returning
// the completed Options.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.ClassTableName == "" {
		o.ClassTableName = d.ClassTableName
	}
	if o.OidTableName == "" {
		o.OidTableName = d.OidTableName
	}
	if o.OidAncestorsTableName == "" {
		o.OidAncestorsTableName = d.OidAncestorsTableName
	}
	if o.EntryTableName == "" {
		o.EntryTableName = d.EntryTableName
	}
	if o.SidTableName == "" {
		o.SidTableName = d.SidTableName
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = d.MaxBatchSize
	}
	return o
}
