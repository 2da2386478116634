package tasks

import (
	"bufio"
	"io"

	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/execution"
	log "github.com/spirit-labs/tekagg/logger"
)

// release frees the state agg holds in groups and closes the groups' arena.
func release(agg Aggregator, groups *Groups) {
	agg.Free(groups)
	if err := groups.Close(); err != nil {
		log.Warnf("group state leaked after free: %v", err)
	}
}

// Execute runs agg and streams its rows to fn. Group state is freed on every path.
func Execute(agg Aggregator, execCtx execution.Context, fn RowFunc) error {
	groups := NewGroups()
	defer release(agg, groups)
	if err := agg.Accumulate(groups, execCtx); err != nil {
		return err
	}
	if err := agg.Result(groups, fn); err != nil {
		return err
	}
	execCtx.IncrNumSubtasksCompleted(1)
	return nil
}

// ExecuteRemote runs agg on behalf of a remote caller and writes the encoded group state to w.
func ExecuteRemote(agg Aggregator, execCtx execution.Context, w io.Writer) error {
	groups := NewGroups()
	defer release(agg, groups)
	if err := agg.Accumulate(groups, execCtx); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if err := agg.Encode(groups, bw); err != nil {
		return err
	}
	return errors.WithStack(bw.Flush())
}
