package vm

import (
	"fmt"

	"github.com/axiomhq/hyperloglog"
	"github.com/spirit-labs/tekagg/encoding"
	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/expr"
	"github.com/spirit-labs/tekagg/types"
)

// accumulator is implemented by the states of the built-in aggregates.
type accumulator interface {
	State
	Add(v types.Value) error
	Result() types.Value
}

type AggregateFunction interface {
	Name() string
	NewState() State
}

type aggregateFunc struct {
	name     string
	newState func() accumulator
}

func (a *aggregateFunc) Name() string {
	return a.name
}

func (a *aggregateFunc) NewState() State {
	return a.newState()
}

const anyValueName = "any_value"

var aggregateFunctions = map[string]*aggregateFunc{
	"count":                 {"count", func() accumulator { return &countState{} }},
	"sum":                   {"sum", func() accumulator { return &sumState{} }},
	"min":                   {"min", func() accumulator { return &extremeState{name: "min", keepIfCmp: -1} }},
	"max":                   {"max", func() accumulator { return &extremeState{name: "max", keepIfCmp: 1} }},
	"avg":                   {"avg", func() accumulator { return &avgState{} }},
	"approx_count_distinct": {"approx_count_distinct", func() accumulator { return newDistinctState() }},
	anyValueName:            {anyValueName, func() accumulator { return &anyValueState{} }},
}

func GetAggregateFunction(name string) (AggregateFunction, bool) {
	f, ok := aggregateFunctions[name]
	return f, ok
}

// AggregateProgram applies one aggregate function to one argument expression. A nil argument counts rows.
type AggregateProgram struct {
	fn  *aggregateFunc
	arg expr.Expression
}

func (a *AggregateProgram) NewState() State {
	return a.fn.newState()
}

func (a *AggregateProgram) Accumulate(state State, row types.Row) error {
	acc := state.(accumulator)
	if a.arg == nil {
		// count(*)
		return acc.Add(types.NewBool(true))
	}
	v, err := a.arg.Eval(row)
	if err != nil {
		return err
	}
	return acc.Add(v)
}

func (a *AggregateProgram) Result(state State) (types.Value, error) {
	return state.(accumulator).Result(), nil
}

func (a *AggregateProgram) String() string {
	if a.arg == nil {
		return fmt.Sprintf("%s(*)", a.fn.name)
	}
	return fmt.Sprintf("%s(%s)", a.fn.name, a.arg.String())
}

func mergeTypeError(dst State, src State) error {
	return errors.NewInternalError(errors.Errorf("cannot merge state %T into %T", src, dst))
}

type countState struct {
	count int64
}

func (c *countState) Add(v types.Value) error {
	if !v.IsNull() {
		c.count++
	}
	return nil
}

func (c *countState) Result() types.Value {
	return types.NewInt(c.count)
}

func (c *countState) Merge(other State) error {
	o, ok := other.(*countState)
	if !ok {
		return mergeTypeError(c, other)
	}
	c.count += o.count
	return nil
}

func (c *countState) Save(w *encoding.Writer) {
	w.WriteVarUint(uint64(c.count))
}

func (c *countState) Load(r *encoding.Reader) error {
	c.count = int64(r.ReadVarUint())
	return r.Err()
}

// sumState stays integral until it sees a float.
type sumState struct {
	sum types.Value
}

func (s *sumState) Add(v types.Value) error {
	if v.IsNull() {
		return nil
	}
	if !v.IsNumeric() {
		return errors.NewRuntimeErrorf("sum cannot be applied to %s", v.Kind())
	}
	sum, err := addNumeric(s.sum, v)
	if err != nil {
		return err
	}
	s.sum = sum
	return nil
}

// addNumeric fails rather than wrapping when an integral sum leaves the int64 range.
func addNumeric(acc types.Value, v types.Value) (types.Value, error) {
	if acc.IsNull() {
		return v, nil
	}
	if acc.Kind() == types.KindInt && v.Kind() == types.KindInt {
		a, b := acc.Int(), v.Int()
		sum := a + b
		if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0) {
			return types.Null, errors.NewRuntimeErrorf("integer overflow in sum")
		}
		return types.NewInt(sum), nil
	}
	af, _ := acc.AsFloat()
	vf, _ := v.AsFloat()
	return types.NewFloat(af + vf), nil
}

func (s *sumState) Result() types.Value {
	return s.sum
}

func (s *sumState) Merge(other State) error {
	o, ok := other.(*sumState)
	if !ok {
		return mergeTypeError(s, other)
	}
	if o.sum.IsNull() {
		return nil
	}
	sum, err := addNumeric(s.sum, o.sum)
	if err != nil {
		return err
	}
	s.sum = sum
	return nil
}

func (s *sumState) Save(w *encoding.Writer) {
	w.WriteValue(s.sum)
}

func (s *sumState) Load(r *encoding.Reader) error {
	s.sum = r.ReadValue()
	return r.Err()
}

// extremeState implements min and max. It replaces the held value when Compare(v, held) == keepIfCmp.
type extremeState struct {
	name      string
	keepIfCmp int
	val       types.Value
}

func (e *extremeState) Add(v types.Value) error {
	if v.IsNull() {
		return nil
	}
	if e.val.IsNull() || types.Compare(v, e.val) == e.keepIfCmp {
		e.val = v
	}
	return nil
}

func (e *extremeState) Result() types.Value {
	return e.val
}

func (e *extremeState) Merge(other State) error {
	o, ok := other.(*extremeState)
	if !ok || o.name != e.name {
		return mergeTypeError(e, other)
	}
	return e.Add(o.val)
}

func (e *extremeState) Save(w *encoding.Writer) {
	w.WriteValue(e.val)
}

func (e *extremeState) Load(r *encoding.Reader) error {
	e.val = r.ReadValue()
	return r.Err()
}

type avgState struct {
	total float64
	count int64
}

func (a *avgState) Add(v types.Value) error {
	if v.IsNull() {
		return nil
	}
	f, ok := v.AsFloat()
	if !ok || v.Kind() == types.KindBool {
		return errors.NewRuntimeErrorf("avg cannot be applied to %s", v.Kind())
	}
	a.total += f
	a.count++
	return nil
}

func (a *avgState) Result() types.Value {
	if a.count == 0 {
		return types.Null
	}
	return types.NewFloat(a.total / float64(a.count))
}

func (a *avgState) Merge(other State) error {
	o, ok := other.(*avgState)
	if !ok {
		return mergeTypeError(a, other)
	}
	a.total += o.total
	a.count += o.count
	return nil
}

func (a *avgState) Save(w *encoding.Writer) {
	w.WriteFloat64(a.total)
	w.WriteVarUint(uint64(a.count))
}

func (a *avgState) Load(r *encoding.Reader) error {
	a.total = r.ReadFloat64()
	a.count = int64(r.ReadVarUint())
	return r.Err()
}

type distinctState struct {
	sketch *hyperloglog.Sketch
	buff   []byte
}

func newDistinctState() *distinctState {
	return &distinctState{sketch: hyperloglog.New()}
}

func (d *distinctState) Add(v types.Value) error {
	if v.IsNull() {
		return nil
	}
	d.buff = encoding.KeyEncodeValue(d.buff[:0], v)
	d.sketch.Insert(d.buff)
	return nil
}

func (d *distinctState) Result() types.Value {
	return types.NewInt(int64(d.sketch.Estimate()))
}

func (d *distinctState) Merge(other State) error {
	o, ok := other.(*distinctState)
	if !ok {
		return mergeTypeError(d, other)
	}
	return errors.WithStack(d.sketch.Merge(o.sketch))
}

func (d *distinctState) Save(w *encoding.Writer) {
	b, err := d.sketch.MarshalBinary()
	if err != nil {
		// only fails for an unknown sketch version, which New never produces
		panic(err)
	}
	w.WriteBytes(b)
}

func (d *distinctState) Load(r *encoding.Reader) error {
	b := r.ReadBytes()
	if err := r.Err(); err != nil {
		return err
	}
	sketch := hyperloglog.New()
	if err := sketch.UnmarshalBinary(b); err != nil {
		return errors.WithStack(err)
	}
	d.sketch = sketch
	return nil
}

// anyValueState keeps the first value it sees. Non aggregated column references in a select list compile to
// it, for grouping columns every row of the group has the same value.
type anyValueState struct {
	set bool
	val types.Value
}

func (a *anyValueState) Add(v types.Value) error {
	if !a.set {
		a.val = v
		a.set = true
	}
	return nil
}

func (a *anyValueState) Result() types.Value {
	return a.val
}

func (a *anyValueState) Merge(other State) error {
	o, ok := other.(*anyValueState)
	if !ok {
		return mergeTypeError(a, other)
	}
	if !a.set && o.set {
		a.val = o.val
		a.set = true
	}
	return nil
}

func (a *anyValueState) Save(w *encoding.Writer) {
	if a.set {
		_ = w.WriteByte(1)
	} else {
		_ = w.WriteByte(0)
	}
	w.WriteValue(a.val)
}

func (a *anyValueState) Load(r *encoding.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	a.set = b == 1
	a.val = r.ReadValue()
	return r.Err()
}
