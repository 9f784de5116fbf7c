package tilegrid

import (
	"errors"
	"sync"
)

// errBarrierBroken aborts units blocked on (or arriving at) a barrier whose
// group has already failed. It is recovered by the group runner and never
// escapes a launch.
var errBarrierBroken = errors.New("tilegrid: barrier broken")

// Barrier is a cyclic rendezvous for a fixed number of cooperating units.
// Await suspends the caller until all n units have arrived, then releases
// them together; the barrier then resets and can be reused for the next
// phase. This is the __syncthreads equivalent for a group: the only
// suspension point inside a cooperative kernel.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	arrived int
	phase   uint64
	broken  bool
}

// NewBarrier creates a barrier for n units. n must be positive.
func NewBarrier(n int) *Barrier {
	if n <= 0 {
		panic("tilegrid: barrier requires at least one unit")
	}
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Await blocks until all units of the current phase have arrived.
// The last arrival advances the phase and wakes the rest; waiters key on the
// phase counter, so a unit racing ahead into the next phase cannot slip
// through a stale wakeup. Await panics with errBarrierBroken if the barrier
// has been broken.
func (b *Barrier) Await() {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		panic(errBarrierBroken)
	}
	phase := b.phase
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.phase++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for phase == b.phase && !b.broken {
		b.cond.Wait()
	}
	broken := b.broken && phase == b.phase
	b.mu.Unlock()
	if broken {
		panic(errBarrierBroken)
	}
}

// Break poisons the barrier: current waiters and all future arrivals abort
// with errBarrierBroken. Used when a unit dies so the rest of its group
// cannot be stranded mid-rendezvous.
func (b *Barrier) Break() {
	b.mu.Lock()
	b.broken = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
