package dashboard

import (
	"sync"
	"sync/atomic"
)

// Slot names an independent response stream. The base record query has its
// own slot and every analytic view has one, so a slow histogram can never
// clobber a boxplot and vice versa.
type Slot string

// SlotBase is the record query's stream.
const SlotBase Slot = "base"

// SecondarySlot returns the stream for a view's helper query.
func SecondarySlot(kind ViewKind) Slot {
	return Slot("secondary:" + string(kind))
}

// Coordinator orders concurrent fetches per slot. Every fetch is issued a
// sequence number; a response may only be applied while its number is still
// the newest issued for its slot. Anything older is stale and must be
// dropped without touching held data.
type Coordinator struct {
	mu   sync.Mutex
	seqs map[Slot]uint64
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{seqs: make(map[Slot]uint64)}
}

// Issue hands out the next sequence number for slot. Issuing implicitly
// invalidates every in-flight fetch on the same slot.
func (c *Coordinator) Issue(slot Slot) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs[slot]++
	return c.seqs[slot]
}

// Admit reports whether a response with the given sequence number is still
// current for its slot. Callers must check Admit and the state mutation in
// one critical section with their own state lock held.
func (c *Coordinator) Admit(slot Slot, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seqs[slot] == seq
}

// Latest returns the newest issued sequence number for slot, zero when none.
func (c *Coordinator) Latest(slot Slot) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seqs[slot]
}

// Dispatch tracks one commit's group of fetches. Done closes once every
// fetch in the group has been applied or dropped, which makes commits
// awaitable without polling.
type Dispatch struct {
	pending int32
	done    chan struct{}
}

func newDispatch(n int) *Dispatch {
	d := &Dispatch{pending: int32(n), done: make(chan struct{})}
	if n <= 0 {
		close(d.done)
	}
	return d
}

func (d *Dispatch) finish() {
	if atomic.AddInt32(&d.pending, -1) == 0 {
		close(d.done)
	}
}

// Done closes when the commit's fetches have all settled.
func (d *Dispatch) Done() <-chan struct{} {
	return d.done
}
