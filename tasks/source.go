package tasks

import (
	"context"

	"github.com/spirit-labs/tekagg/qcache"
	"github.com/spirit-labs/tekagg/types"
)

// RowSource produces the rows a local group by scans.
type RowSource interface {
	ColumnNames() []string
	// CacheKey identifies the rows the source produces. Sources with no stable identity return false.
	CacheKey() (qcache.SHA1Hash, bool)
	// Scan calls fn for each row until fn returns false or an error.
	Scan(ctx context.Context, fn func(row types.Row) (bool, error)) error
}

// RowFunc receives output rows. Returning false stops iteration.
type RowFunc func(row types.Row) bool

type SourceKind int

const (
	SourceKindEmpty SourceKind = iota
	SourceKindLocal
	SourceKindRemote
	SourceKindMerge
)

func (s SourceKind) String() string {
	switch s {
	case SourceKindEmpty:
		return "empty"
	case SourceKindLocal:
		return "local"
	case SourceKindRemote:
		return "remote"
	case SourceKindMerge:
		return "merge"
	default:
		return "unknown"
	}
}
