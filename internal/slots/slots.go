// Package slots implements the fixed-capacity admission table that
// backs the task proxy's per-client state machine.
package slots

// State is the tagged variant a slot occupies. Unlike the C original,
// which sign-punned a single child-id field to also carry the
// free-list link, State makes the three cases explicit and mutually
// exclusive.
type State int

const (
	// StateFree means the slot sits on the free list; ClientFD and
	// Pending are unused and freeNext is the link to the next free
	// slot.
	StateFree State = iota
	// StateReading means a client has been accepted into the slot and
	// Client I/O owns it until a full request is framed.
	StateReading
	// StateLaunched means a child has been forked for this slot's
	// request; the Reaper owns it until the child is reaped.
	StateLaunched
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateReading:
		return "reading"
	case StateLaunched:
		return "launched"
	default:
		return "unknown"
	}
}

// Slot is one record of the fixed-size task table.
type Slot struct {
	State    State
	ClientFD int    // -1 when none
	ChildPID int    // valid only in StateLaunched
	Pending  []byte // partial request buffer, valid only in StateReading

	freeNext int // valid only in StateFree; capacity means end-of-list
}

// Table is a fixed-capacity pool of Slots with an embedded free list.
// It is owned exclusively by the event loop goroutine; nothing in this
// package is safe for concurrent use, by design (spec's "single owned
// value threaded through the event loop; no global required").
type Table struct {
	slots    []Slot
	freeHead int
	inUse    int
}

// NewTable builds a table of the given capacity with every slot free.
func NewTable(capacity int) *Table {
	t := &Table{
		slots:    make([]Slot, capacity),
		freeHead: 0,
	}
	for i := range t.slots {
		t.slots[i] = Slot{State: StateFree, ClientFD: -1, ChildPID: -1, freeNext: i + 1}
	}
	return t
}

// Capacity returns the fixed slot count.
func (t *Table) Capacity() int { return len(t.slots) }

// InUse returns the number of non-free slots.
func (t *Table) InUse() int { return t.inUse }

// Acquire detaches the head of the free list and transitions it to
// StateReading. The bool return is false when the table is saturated,
// which is not an error — the caller must refuse the new client this
// tick.
func (t *Table) Acquire() (int, bool) {
	if t.freeHead == len(t.slots) {
		return 0, false
	}
	i := t.freeHead
	s := &t.slots[i]
	t.freeHead = s.freeNext
	s.State = StateReading
	s.ClientFD = -1
	s.ChildPID = -1
	s.Pending = nil
	t.inUse++
	return i, true
}

// Get returns a pointer to the slot at i for in-place mutation by the
// event loop (setting ClientFD, ChildPID, Pending as the state machine
// advances). The caller must not mutate freeNext or State directly;
// use Acquire/Release/Launch to keep invariants.
func (t *Table) Get(i int) *Slot { return &t.slots[i] }

// Launch transitions a Reading slot to Launched, recording the new
// child's pid and discarding any pending buffer (invariant 5: a
// pending buffer exists only while Client I/O holds the slot).
func (t *Table) Launch(i, pid int) {
	s := &t.slots[i]
	s.State = StateLaunched
	s.ChildPID = pid
	s.Pending = nil
}

// Release closes ClientFD if open via the supplied closer, frees the
// pending buffer, and links the slot onto the free list head.
func (t *Table) Release(i int, closeFD func(fd int)) {
	s := &t.slots[i]
	if s.ClientFD >= 0 && closeFD != nil {
		closeFD(s.ClientFD)
	}
	s.ClientFD = -1
	s.ChildPID = -1
	s.Pending = nil
	s.State = StateFree
	s.freeNext = t.freeHead
	t.freeHead = i
	t.inUse--
}

// FindByChild performs the linear scan the spec calls for: O(capacity),
// acceptable given the small fixed capacity.
func (t *Table) FindByChild(pid int) (int, bool) {
	for i := range t.slots {
		if t.slots[i].State == StateLaunched && t.slots[i].ChildPID == pid {
			return i, true
		}
	}
	return 0, false
}
