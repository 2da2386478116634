package tasks

import (
	"context"
	"io"

	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/execution"
	log "github.com/spirit-labs/tekagg/logger"
	"github.com/spirit-labs/tekagg/vm"
)

// RemoteAggregateRequest describes an aggregation for a remote executor to run. The executor plans it
// itself and must arrive at the same PlanFingerprint.
type RemoteAggregateRequest struct {
	Address         string `json:"-"`
	Table           string `json:"table"`
	SelectList      string `json:"select"`
	GroupList       string `json:"group_by"`
	Partitions      []int  `json:"partitions,omitempty"`
	PlanFingerprint string `json:"plan_fingerprint"`
	RequestID       string `json:"request_id,omitempty"`
}

// RemoteExecuteFn runs req remotely and returns the encoded group state.
type RemoteExecuteFn func(ctx context.Context, req *RemoteAggregateRequest) (io.ReadCloser, error)

// RemoteGroupBy populates groups with state computed by a remote executor.
type RemoteGroupBy struct {
	GroupByExpression
	req       *RemoteAggregateRequest
	executeFn RemoteExecuteFn
}

func NewRemoteGroupBy(columnNames []string, programs []vm.Program, req *RemoteAggregateRequest,
	executeFn RemoteExecuteFn) *RemoteGroupBy {
	return &RemoteGroupBy{
		GroupByExpression: NewGroupByExpression(columnNames, programs),
		req:               req,
		executeFn:         executeFn,
	}
}

func (r *RemoteGroupBy) Kind() SourceKind {
	return SourceKindRemote
}

func (r *RemoteGroupBy) Request() *RemoteAggregateRequest {
	return r.req
}

func (r *RemoteGroupBy) Accumulate(groups *Groups, execCtx execution.Context) error {
	rc, err := r.executeFn(execCtx.Ctx(), r.req)
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.Debugf("failed to close remote group state stream from %s: %v", r.req.Address, err)
		}
	}()
	ok, err := r.Decode(groups, rc)
	if err != nil {
		return errors.NewRuntimeErrorf("RemoteGroupBy failed: invalid group state from %s: %v", r.req.Address, err)
	}
	if !ok {
		return errors.NewRuntimeErrorf("RemoteGroupBy failed: %s returned a different number of expressions",
			r.req.Address)
	}
	execCtx.IncrNumSubtasksCompleted(1)
	return nil
}
