// Copyright 2024 The Tekagg Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tasks

import (
	"fmt"
	"io"
	"sync"

	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/execution"
	log "github.com/spirit-labs/tekagg/logger"
	"github.com/spirit-labs/tekagg/metrics"
	"go.uber.org/multierr"
)

// GroupByMerge accumulates each of its sources concurrently into a private Groups and merges the results into
// the destination. It waits for every source before deciding the outcome: if any source fails the destination
// is freed and a single error naming every failure is returned.
type GroupByMerge struct {
	sources  []Aggregator
	delegate Aggregator
}

func NewGroupByMerge(sources []Aggregator) (*GroupByMerge, error) {
	if len(sources) == 0 {
		return nil, errors.NewRuntimeErrorf("GROUP MERGE must have at least one source table")
	}
	var delegate Aggregator
	for _, source := range sources {
		if source.Kind() == SourceKindEmpty {
			continue
		}
		if delegate == nil {
			delegate = source
			continue
		}
		if source.NumColumns() != delegate.NumColumns() {
			return nil, errors.NewRuntimeErrorf("GROUP MERGE tables return different number of columns")
		}
	}
	if delegate == nil {
		delegate = sources[0]
	}
	return &GroupByMerge{sources: sources, delegate: delegate}, nil
}

func (m *GroupByMerge) Kind() SourceKind {
	return SourceKindMerge
}

func (m *GroupByMerge) Sources() []Aggregator {
	return m.sources
}

func (m *GroupByMerge) Accumulate(groups *Groups, execCtx execution.Context) error {
	var wg sync.WaitGroup
	var lock sync.Mutex
	var failures error
	numFailed := 0
	numRun := 0
	for i, source := range m.sources {
		if source.Kind() == SourceKindEmpty {
			continue
		}
		numRun++
		wg.Add(1)
		index, src := i, source
		execCtx.RunAsync(func() {
			defer wg.Done()
			srcGroups := NewGroups()
			defer release(src, srcGroups)
			err := accumulateSource(src, srcGroups, execCtx)
			lock.Lock()
			defer lock.Unlock()
			if err == nil && failures == nil {
				err = m.delegate.Merge(srcGroups, groups)
			}
			if err != nil {
				numFailed++
				metrics.MergeSourceFailures.Inc()
				log.Warnf("merge source %d (%s) failed: %v", index, src.Kind(), err)
				failures = multierr.Append(failures, fmt.Errorf("source %d: %w", index, err))
			}
		})
	}
	wg.Wait()
	if failures != nil {
		m.Free(groups)
		return errors.NewRuntimeErrorf("GROUP MERGE failed, %d of %d sources failed: %v", numFailed, numRun, failures)
	}
	return nil
}

// accumulateSource turns a panic in a source into an error so that the barrier is always reached.
func accumulateSource(src Aggregator, groups *Groups, execCtx execution.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternalError(errors.Errorf("panic in merge source: %v", r))
		}
	}()
	return src.Accumulate(groups, execCtx)
}

func (m *GroupByMerge) Result(groups *Groups, fn RowFunc) error {
	return m.delegate.Result(groups, fn)
}

func (m *GroupByMerge) Free(groups *Groups) {
	m.delegate.Free(groups)
}

func (m *GroupByMerge) Merge(src *Groups, dst *Groups) error {
	return m.delegate.Merge(src, dst)
}

func (m *GroupByMerge) Encode(groups *Groups, w io.Writer) error {
	return m.delegate.Encode(groups, w)
}

func (m *GroupByMerge) Decode(groups *Groups, r io.Reader) (bool, error) {
	return m.delegate.Decode(groups, r)
}

func (m *GroupByMerge) ColumnNames() []string {
	return m.delegate.ColumnNames()
}

func (m *GroupByMerge) NumColumns() int {
	return m.delegate.NumColumns()
}
