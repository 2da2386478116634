// Package vm is the accumulator runtime. Each select expression is compiled to a Program, and each group
// holds one State per Program. States are allocated in a Scratch arena and addressed by Instance handles.
package vm

import (
	"github.com/spirit-labs/tekagg/arena"
	"github.com/spirit-labs/tekagg/encoding"
	"github.com/spirit-labs/tekagg/types"
)

// State is the opaque per group state of one Program.
type State interface {
	// Merge folds other into the receiver. other must have been created by the same Program.
	Merge(other State) error
	Save(w *encoding.Writer)
	Load(r *encoding.Reader) error
}

type Program interface {
	NewState() State
	Accumulate(state State, row types.Row) error
	Result(state State) (types.Value, error)
	// String is the canonical form of the program, it is part of the plan fingerprint.
	String() string
}

type Scratch = arena.Arena[State]

type Instance = arena.Handle

func NewScratch() *Scratch {
	return arena.New[State]()
}

func AllocInstance(scratch *Scratch, prog Program) Instance {
	return scratch.Alloc(prog.NewState())
}

func FreeInstance(scratch *Scratch, inst Instance) error {
	return scratch.Release(inst)
}

func Accumulate(scratch *Scratch, prog Program, inst Instance, row types.Row) error {
	return prog.Accumulate(scratch.Get(inst), row)
}

// Merge folds the src instance into the dst instance. The two may live in different arenas.
func Merge(dstScratch *Scratch, dst Instance, srcScratch *Scratch, src Instance) error {
	return dstScratch.Get(dst).Merge(srcScratch.Get(src))
}

func Result(scratch *Scratch, prog Program, inst Instance) (types.Value, error) {
	return prog.Result(scratch.Get(inst))
}

func SaveState(scratch *Scratch, inst Instance, w *encoding.Writer) {
	scratch.Get(inst).Save(w)
}

func LoadState(scratch *Scratch, inst Instance, r *encoding.Reader) error {
	return scratch.Get(inst).Load(r)
}
