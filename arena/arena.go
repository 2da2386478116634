// Package arena provides a slab of values addressed by generation checked handles. All values allocated for
// one aggregation pass live in one arena and are released together.
package arena

import (
	"fmt"

	"github.com/pkg/errors"
)

// Handle refers to a slot in an Arena. The zero Handle is never valid.
type Handle struct {
	index uint32
	gen   uint32
}

func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("handle(%d@%d)", h.index, h.gen)
}

var ErrStaleHandle = errors.New("stale or foreign arena handle")

type slot[T any] struct {
	val  T
	gen  uint32
	live bool
}

// Arena is not safe for concurrent use. Each aggregation pass owns its own arena.
type Arena[T any] struct {
	slots  []slot[T]
	free   []uint32
	live   int
	closed bool
}

func New[T any]() *Arena[T] {
	return &Arena[T]{}
}

func (a *Arena[T]) Alloc(val T) Handle {
	if a.closed {
		panic("alloc on closed arena")
	}
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	}
	s := &a.slots[idx]
	s.gen++
	s.val = val
	s.live = true
	a.live++
	return Handle{index: idx, gen: s.gen}
}

func (a *Arena[T]) lookup(h Handle) (*slot[T], bool) {
	if h.gen == 0 || int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return s, true
}

// Get panics on a stale handle, that is always a programming error.
func (a *Arena[T]) Get(h Handle) T {
	s, ok := a.lookup(h)
	if !ok {
		panic(fmt.Sprintf("%s: %v", ErrStaleHandle, h))
	}
	return s.val
}

func (a *Arena[T]) Set(h Handle, val T) {
	s, ok := a.lookup(h)
	if !ok {
		panic(fmt.Sprintf("%s: %v", ErrStaleHandle, h))
	}
	s.val = val
}

func (a *Arena[T]) Valid(h Handle) bool {
	_, ok := a.lookup(h)
	return ok
}

// Release frees the slot. Releasing a handle twice returns ErrStaleHandle rather than corrupting the arena.
func (a *Arena[T]) Release(h Handle) error {
	s, ok := a.lookup(h)
	if !ok {
		return errors.Wrap(ErrStaleHandle, h.String())
	}
	var zero T
	s.val = zero
	s.live = false
	a.live--
	a.free = append(a.free, h.index)
	return nil
}

func (a *Arena[T]) Live() int {
	return a.live
}

// Reset releases everything at once. Outstanding handles become stale.
func (a *Arena[T]) Reset() {
	var zero T
	a.free = a.free[:0]
	for i := range a.slots {
		s := &a.slots[i]
		if s.live {
			s.live = false
			s.val = zero
		}
		a.free = append(a.free, uint32(i))
	}
	a.live = 0
}

// Close fails if any handles are still live, which means something leaked.
func (a *Arena[T]) Close() error {
	if a.closed {
		return nil
	}
	if a.live > 0 {
		return errors.Errorf("arena closed with %d live handles", a.live)
	}
	a.closed = true
	a.slots = nil
	a.free = nil
	return nil
}
