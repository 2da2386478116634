package tasks

import (
	"sort"

	"github.com/spirit-labs/tekagg/vm"
)

// Groups maps group keys to one accumulator instance per select expression. All instances live in the
// Groups' own scratch arena. A Groups is owned by exactly one aggregation pass and is not safe for
// concurrent use.
type Groups struct {
	entries map[string][]vm.Instance
	scratch *vm.Scratch
}

func NewGroups() *Groups {
	return &Groups{
		entries: map[string][]vm.Instance{},
		scratch: vm.NewScratch(),
	}
}

func (g *Groups) Len() int {
	return len(g.entries)
}

// Live returns the number of allocated accumulator instances.
func (g *Groups) Live() int {
	return g.scratch.Live()
}

// Close releases the arena. It fails if instances have not been freed.
func (g *Groups) Close() error {
	return g.scratch.Close()
}

// adopt takes over the contents of other, which must not be used afterwards. Only valid when g is empty.
func (g *Groups) adopt(other *Groups) {
	g.entries = other.entries
	g.scratch = other.scratch
	other.entries = map[string][]vm.Instance{}
	other.scratch = vm.NewScratch()
}

func (g *Groups) sortedKeys() []string {
	keys := make([]string, 0, len(g.entries))
	for key := range g.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
