package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/execution"
	"github.com/spirit-labs/tekagg/expr"
	log "github.com/spirit-labs/tekagg/logger"
	"github.com/spirit-labs/tekagg/parser"
	"github.com/spirit-labs/tekagg/tablerepo"
	"github.com/spirit-labs/tekagg/tasks"
	"github.com/spirit-labs/tekagg/vm"
)

// AggregateQuery is `select <SelectList> from <Table> group by <GroupList>`. Partitions restricts the
// local scan, and is forwarded to every remote executor.
type AggregateQuery struct {
	Table           string
	SelectList      string
	GroupList       string
	Partitions      []int
	RemoteAddresses []string
}

// Plan is a compiled query, independent of where the rows come from.
type Plan struct {
	Table       string
	ColumnNames []string
	Programs    []vm.Program
	GroupExprs  []expr.Expression
	Fingerprint string
}

type Planner struct {
	repo        *tablerepo.Repository
	compiler    *vm.Compiler
	exprFactory *expr.ExpressionFactory
	remoteFn    tasks.RemoteExecuteFn
}

// NewPlanner creates a planner resolving tables in repo. remoteFn may be nil if queries never name remote
// addresses.
func NewPlanner(repo *tablerepo.Repository, remoteFn tasks.RemoteExecuteFn) *Planner {
	return &Planner{
		repo:        repo,
		compiler:    vm.NewCompiler(),
		exprFactory: &expr.ExpressionFactory{},
		remoteFn:    remoteFn,
	}
}

func (p *Planner) Compile(query *AggregateQuery) (*Plan, error) {
	info, ok := p.repo.Describe(query.Table)
	if !ok {
		return nil, errors.NewNotFoundErrorf("table not found: '%s'", query.Table)
	}
	ps := parser.NewParser()
	items, err := ps.ParseSelectList(query.SelectList)
	if err != nil {
		return nil, err
	}
	programs, err := p.compiler.CompileSelectList(items, info.ColumnNames)
	if err != nil {
		return nil, err
	}
	groupDescs, err := ps.ParseGroupList(query.GroupList)
	if err != nil {
		return nil, err
	}
	groupExprs, err := p.exprFactory.CreateExpressions(groupDescs, info.ColumnNames)
	if err != nil {
		return nil, err
	}
	columnNames := make([]string, len(items))
	for i := range items {
		columnNames[i] = items[i].ColumnName()
	}
	return &Plan{
		Table:       query.Table,
		ColumnNames: columnNames,
		Programs:    programs,
		GroupExprs:  groupExprs,
		Fingerprint: Fingerprint(query.Table, programs, groupExprs),
	}, nil
}

// Fingerprint identifies the computation a plan performs. Two plans with equal fingerprints produce group
// state which can be merged or cached interchangeably.
func Fingerprint(table string, programs []vm.Program, groupExprs []expr.Expression) string {
	groupStrs := make([]string, len(groupExprs))
	for i, ge := range groupExprs {
		groupStrs[i] = ge.String()
	}
	return fmt.Sprintf("%s:%s/%s", table, vm.ProgramsFingerprint(programs), strings.Join(groupStrs, ","))
}

// Build creates the aggregator tree for query. One GroupBy is created per scanned partition and one
// RemoteGroupBy per remote address; more than one of these are merged with a GroupByMerge. execCtx is told
// the number of subtasks the tree will complete, including the final result.
func (p *Planner) Build(ctx context.Context, query *AggregateQuery, execCtx execution.Context) (tasks.Aggregator, *Plan, error) {
	plan, err := p.Compile(query)
	if err != nil {
		return nil, nil, err
	}
	sources, err := p.repo.BuildSequentialScan(ctx, &tablerepo.SequentialScanNode{
		TableName:  query.Table,
		Partitions: query.Partitions,
	})
	if err != nil {
		return nil, nil, err
	}
	aggs := make([]tasks.Aggregator, 0, len(sources)+len(query.RemoteAddresses))
	for _, source := range sources {
		aggs = append(aggs, tasks.NewGroupBy(source, plan.ColumnNames, plan.Programs, plan.GroupExprs, plan.Fingerprint))
	}
	if len(query.RemoteAddresses) > 0 && p.remoteFn == nil {
		return nil, nil, errors.NewRuntimeErrorf("query names remote addresses but no remote client is configured")
	}
	for _, address := range query.RemoteAddresses {
		req := &tasks.RemoteAggregateRequest{
			Address:         address,
			Table:           query.Table,
			SelectList:      query.SelectList,
			GroupList:       query.GroupList,
			Partitions:      query.Partitions,
			PlanFingerprint: plan.Fingerprint,
		}
		aggs = append(aggs, tasks.NewRemoteGroupBy(plan.ColumnNames, plan.Programs, req, p.remoteFn))
	}
	execCtx.IncrNumSubtasksTotal(len(aggs) + 1)
	if log.DebugEnabled {
		log.Debugf("planned %s over %d local and %d remote sources, fingerprint %s", query.Table, len(sources),
			len(query.RemoteAddresses), plan.Fingerprint)
	}
	switch len(aggs) {
	case 0:
		return &tasks.EmptyTable{}, plan, nil
	case 1:
		return aggs[0], plan, nil
	default:
		merge, err := tasks.NewGroupByMerge(aggs)
		if err != nil {
			return nil, nil, err
		}
		return merge, plan, nil
	}
}
