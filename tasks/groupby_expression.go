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
	"io"

	"github.com/spirit-labs/tekagg/encoding"
	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/execution"
	log "github.com/spirit-labs/tekagg/logger"
	"github.com/spirit-labs/tekagg/types"
	"github.com/spirit-labs/tekagg/vm"
)

// Aggregator is a grouped aggregation. Accumulate populates groups, the remaining methods operate on the
// populated groups. The caller must Free the groups on every path once Accumulate has been called, including
// when it fails.
type Aggregator interface {
	Accumulate(groups *Groups, execCtx execution.Context) error
	// Result emits one row per group, ordered by group key.
	Result(groups *Groups, fn RowFunc) error
	// Free releases every instance in groups. It is safe to call more than once.
	Free(groups *Groups)
	// Merge folds every group of src into dst, creating groups in dst as needed.
	Merge(src *Groups, dst *Groups) error
	Encode(groups *Groups, w io.Writer) error
	// Decode reads groups written by Encode. It returns false, without error, when the stored number of
	// expressions differs from this aggregator's.
	Decode(groups *Groups, r io.Reader) (bool, error)
	ColumnNames() []string
	NumColumns() int
	Kind() SourceKind
}

// GroupByExpression implements everything except Accumulate over a fixed list of select programs.
type GroupByExpression struct {
	columnNames []string
	programs    []vm.Program
}

func NewGroupByExpression(columnNames []string, programs []vm.Program) GroupByExpression {
	if len(columnNames) != len(programs) {
		panic("column names and programs must have the same length")
	}
	return GroupByExpression{columnNames: columnNames, programs: programs}
}

func (g *GroupByExpression) ColumnNames() []string {
	return g.columnNames
}

func (g *GroupByExpression) NumColumns() int {
	return len(g.columnNames)
}

func (g *GroupByExpression) Programs() []vm.Program {
	return g.programs
}

func (g *GroupByExpression) allocGroup(groups *Groups) []vm.Instance {
	insts := make([]vm.Instance, len(g.programs))
	for i, prog := range g.programs {
		insts[i] = vm.AllocInstance(groups.scratch, prog)
	}
	return insts
}

func (g *GroupByExpression) Result(groups *Groups, fn RowFunc) error {
	for _, key := range groups.sortedKeys() {
		insts := groups.entries[key]
		row := make(types.Row, len(g.programs))
		for i, prog := range g.programs {
			v, err := vm.Result(groups.scratch, prog, insts[i])
			if err != nil {
				return err
			}
			row[i] = v
		}
		if !fn(row) {
			return nil
		}
	}
	return nil
}

func (g *GroupByExpression) Free(groups *Groups) {
	for key, insts := range groups.entries {
		for _, inst := range insts {
			if err := vm.FreeInstance(groups.scratch, inst); err != nil {
				log.Warnf("failed to free instance of group %q: %v", key, err)
			}
		}
	}
	groups.entries = map[string][]vm.Instance{}
}

func (g *GroupByExpression) Merge(src *Groups, dst *Groups) error {
	for key, srcInsts := range src.entries {
		dstInsts, ok := dst.entries[key]
		if !ok {
			dstInsts = g.allocGroup(dst)
			dst.entries[key] = dstInsts
		}
		if len(srcInsts) != len(dstInsts) {
			return errors.NewRuntimeErrorf("cannot merge group with %d expressions into group with %d expressions",
				len(srcInsts), len(dstInsts))
		}
		for i := range dstInsts {
			if err := vm.Merge(dst.scratch, dstInsts[i], src.scratch, srcInsts[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *GroupByExpression) Encode(groups *Groups, w io.Writer) error {
	enc := encoding.NewWriter(w)
	enc.WriteVarUint(uint64(len(groups.entries)))
	enc.WriteVarUint(uint64(len(g.programs)))
	for _, key := range groups.sortedKeys() {
		enc.WriteLenencString(key)
		for _, inst := range groups.entries[key] {
			vm.SaveState(groups.scratch, inst, enc)
		}
	}
	return enc.Err()
}

func (g *GroupByExpression) Decode(groups *Groups, r io.Reader) (bool, error) {
	dec := encoding.NewReader(r)
	numGroups := dec.ReadVarUint()
	numExprs := dec.ReadVarUint()
	if err := dec.Err(); err != nil {
		return false, err
	}
	if numExprs != uint64(len(g.programs)) {
		return false, nil
	}
	for i := uint64(0); i < numGroups; i++ {
		key := dec.ReadLenencString()
		if err := dec.Err(); err != nil {
			return false, err
		}
		existing, exists := groups.entries[key]
		var insts []vm.Instance
		if !exists {
			// registered before loading so that Free releases it if loading fails
			insts = make([]vm.Instance, 0, len(g.programs))
			groups.entries[key] = insts
		}
		for _, prog := range g.programs {
			inst := vm.AllocInstance(groups.scratch, prog)
			insts = append(insts, inst)
			if !exists {
				groups.entries[key] = insts
			}
			if err := vm.LoadState(groups.scratch, inst, dec); err != nil {
				if exists {
					freeInstances(groups, insts)
				}
				return false, err
			}
		}
		if exists {
			err := mergeInstances(groups, existing, insts)
			freeInstances(groups, insts)
			if err != nil {
				return false, err
			}
		}
	}
	if !dec.AtEOF() {
		if err := dec.Err(); err != nil {
			return false, err
		}
		return false, errors.NewRuntimeErrorf("trailing data after %d groups", numGroups)
	}
	return true, nil
}

func mergeInstances(groups *Groups, dst []vm.Instance, src []vm.Instance) error {
	for i := range dst {
		if err := vm.Merge(groups.scratch, dst[i], groups.scratch, src[i]); err != nil {
			return err
		}
	}
	return nil
}

func freeInstances(groups *Groups, insts []vm.Instance) {
	for _, inst := range insts {
		if err := vm.FreeInstance(groups.scratch, inst); err != nil {
			log.Warnf("failed to free instance: %v", err)
		}
	}
}
