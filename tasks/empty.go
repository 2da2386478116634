package tasks

import (
	"io"

	"github.com/spirit-labs/tekagg/encoding"
	"github.com/spirit-labs/tekagg/execution"
)

// EmptyTable is a placeholder source with no groups and no columns. A GroupByMerge skips it.
type EmptyTable struct {
}

func (e *EmptyTable) Kind() SourceKind {
	return SourceKindEmpty
}

func (e *EmptyTable) Accumulate(*Groups, execution.Context) error {
	return nil
}

func (e *EmptyTable) Result(*Groups, RowFunc) error {
	return nil
}

func (e *EmptyTable) Free(*Groups) {
}

func (e *EmptyTable) Merge(*Groups, *Groups) error {
	return nil
}

func (e *EmptyTable) Encode(_ *Groups, w io.Writer) error {
	enc := encoding.NewWriter(w)
	enc.WriteVarUint(0)
	enc.WriteVarUint(0)
	return enc.Err()
}

func (e *EmptyTable) Decode(_ *Groups, r io.Reader) (bool, error) {
	dec := encoding.NewReader(r)
	numGroups := dec.ReadVarUint()
	numExprs := dec.ReadVarUint()
	if err := dec.Err(); err != nil {
		return false, err
	}
	return numGroups == 0 && numExprs == 0, nil
}

func (e *EmptyTable) ColumnNames() []string {
	return nil
}

func (e *EmptyTable) NumColumns() int {
	return 0
}
