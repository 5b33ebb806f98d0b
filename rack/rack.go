package rack

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"patchcore"
)

type (
	// Rack owns the unit instances of a patch and the connections between
	// them. It is mutated only from the control context; the render context
	// reads it through ResolveID and Snapshot, both of which are safe to call
	// concurrently with edits and bounded in time.
	//
	// Units live in a slot arena. A LogicalID packs the slot index and a
	// generation counter, so an id held after the unit was removed does not
	// accidentally match whatever occupies the slot later.
	Rack struct {
		mu      sync.Mutex // serializes edits and the registry scan
		slots   []slot
		conns   []patchcore.Connection
		version int64

		snapshot atomic.Pointer[patchcore.ConnectionSnapshot]

		idScans atomic.Int64 // number of ResolveID registry scans, see ScanCount
	}

	slot struct {
		unit       patchcore.Unit // nil when the slot is free
		generation uint16
	}

	// Graph is the query interface a unit holds to its owning rack. Units
	// never hold the concrete *Rack, only this read-side view.
	Graph interface {
		ResolveID(unit patchcore.Unit) patchcore.LogicalID
		Snapshot() *patchcore.ConnectionSnapshot
	}
)

var (
	ErrUnitNotFound    = errors.New("unit not found in rack")
	ErrStaleID         = errors.New("logical id is stale")
	ErrRackFull        = errors.New("rack has no free unit slots")
	ErrInvalidConn     = errors.New("invalid connection")
	ErrAlreadyInserted = errors.New("unit is already in the rack")
)

// maxSlots keeps the slot index within the low 16 bits of a LogicalID.
const maxSlots = 1 << 16

func New() *Rack {
	return &Rack{}
}

func makeID(slotIndex int, generation uint16) patchcore.LogicalID {
	// slot index is stored +1 so that a zero LogicalID never refers to a
	// live unit
	return patchcore.LogicalID(uint32(generation)<<16 | uint32(slotIndex+1))
}

func splitID(id patchcore.LogicalID) (slotIndex int, generation uint16, ok bool) {
	if id == 0 {
		return 0, 0, false
	}
	return int(uint32(id)&0xFFFF) - 1, uint16(uint32(id) >> 16), true
}

// Insert adds a unit to the rack and returns its assigned logical id.
// Inserting the same instance twice is an error: identity resolution is a
// pointer scan and could not tell the two entries apart.
func (r *Rack) Insert(unit patchcore.Unit) (patchcore.LogicalID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	free := -1
	for i, s := range r.slots {
		if s.unit == unit {
			return 0, ErrAlreadyInserted
		}
		if s.unit == nil && free < 0 {
			free = i
		}
	}
	if free < 0 {
		if len(r.slots) >= maxSlots {
			return 0, ErrRackFull
		}
		r.slots = append(r.slots, slot{})
		free = len(r.slots) - 1
	}
	r.slots[free].unit = unit
	return makeID(free, r.slots[free].generation), nil
}

// Remove takes a unit out of the rack, invalidating its logical id and
// dropping every connection from or to it. The freed slot's generation is
// bumped so the old id cannot match a later occupant.
func (r *Rack) Remove(id patchcore.LogicalID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, gen, ok := splitID(id)
	if !ok || i < 0 || i >= len(r.slots) || r.slots[i].unit == nil {
		return ErrUnitNotFound
	}
	if r.slots[i].generation != gen {
		return ErrStaleID
	}
	r.slots[i].unit = nil
	r.slots[i].generation++
	filtered := r.conns[:0]
	for _, c := range r.conns {
		if c.From != id && c.To != id {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) != len(r.conns) {
		r.conns = filtered
		r.publishLocked()
	}
	return nil
}

// Unit returns the unit a logical id refers to, with a generation check: an
// id from before the slot was recycled resolves to nothing.
func (r *Rack) Unit(id patchcore.LogicalID) (patchcore.Unit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, gen, ok := splitID(id)
	if !ok || i < 0 || i >= len(r.slots) || r.slots[i].unit == nil || r.slots[i].generation != gen {
		return nil, false
	}
	return r.slots[i].unit, true
}

// ResolveID finds the logical id of a unit instance by scanning the live
// registry. Returns 0 when the unit is not in the rack. The scan is O(number
// of slots) under the rack mutex; callers on the render path are expected to
// cache the result and only re-resolve on a miss.
func (r *Rack) ResolveID(unit patchcore.Unit) patchcore.LogicalID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idScans.Add(1)
	for i, s := range r.slots {
		if s.unit != nil && s.unit == unit {
			return makeID(i, s.generation)
		}
	}
	return 0
}

// ScanCount returns the number of identity registry scans performed so far.
// Diagnostics only; a steadily climbing count on an idle graph means some
// unit keeps missing its cached identity.
func (r *Rack) ScanCount() int64 {
	return r.idScans.Load()
}

// Each calls yield for every live unit in slot order, with its current
// logical id. Iteration holds the rack mutex; yield must not call back into
// the rack.
func (r *Rack) Each(yield func(patchcore.LogicalID, patchcore.Unit) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.slots {
		if s.unit == nil {
			continue
		}
		if !yield(makeID(i, s.generation), s.unit) {
			return
		}
	}
}

// NumUnits returns the number of live units in the rack.
func (r *Rack) NumUnits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.slots {
		if s.unit != nil {
			n++
		}
	}
	return n
}

// Connect adds a connection and publishes a new snapshot. Both endpoints
// must resolve to live units and the channels must exist on their kinds.
func (r *Rack) Connect(c patchcore.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.validateLocked(c); err != nil {
		return err
	}
	r.conns = append(r.conns, c)
	r.publishLocked()
	return nil
}

// Disconnect removes the first connection equal to c, if any, and publishes
// a new snapshot. Removing a connection that does not exist is a no-op.
func (r *Rack) Disconnect(c patchcore.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, have := range r.conns {
		if have == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			r.publishLocked()
			return
		}
	}
}

// SetConnections replaces the whole connection set and publishes a new
// snapshot. Used when loading a patch.
func (r *Rack) SetConnections(conns []patchcore.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range conns {
		if err := r.validateLocked(c); err != nil {
			return err
		}
	}
	r.conns = append(r.conns[:0], conns...)
	r.publishLocked()
	return nil
}

// Snapshot returns the current connection snapshot, or nil if nothing has
// been published yet. Never blocks; safe from the render context.
func (r *Rack) Snapshot() *patchcore.ConnectionSnapshot {
	return r.snapshot.Load()
}

func (r *Rack) validateLocked(c patchcore.Connection) error {
	src, ok := r.unitLocked(c.From)
	if !ok {
		return fmt.Errorf("%w: source %v not in rack", ErrInvalidConn, c.From)
	}
	dst, ok := r.unitLocked(c.To)
	if !ok {
		return fmt.Errorf("%w: destination %v not in rack", ErrInvalidConn, c.To)
	}
	if c.FromChannel < 0 || c.FromChannel >= patchcore.NumOutputs(src.Kind()) {
		return fmt.Errorf("%w: %v has no output channel %v", ErrInvalidConn, src.Kind(), c.FromChannel)
	}
	if c.ToChannel < 0 || c.ToChannel >= patchcore.NumInputs(dst.Kind()) {
		return fmt.Errorf("%w: %v has no input channel %v", ErrInvalidConn, dst.Kind(), c.ToChannel)
	}
	return nil
}

func (r *Rack) unitLocked(id patchcore.LogicalID) (patchcore.Unit, bool) {
	i, gen, ok := splitID(id)
	if !ok || i < 0 || i >= len(r.slots) || r.slots[i].unit == nil || r.slots[i].generation != gen {
		return nil, false
	}
	return r.slots[i].unit, true
}

// publishLocked builds a fresh immutable snapshot from the current
// connection list and swaps it in. Old snapshots stay valid for whoever
// still holds them; the garbage collector reclaims them eventually, never
// the render thread.
func (r *Rack) publishLocked() {
	r.version++
	conns := make([]patchcore.Connection, len(r.conns))
	copy(conns, r.conns)
	r.snapshot.Store(&patchcore.ConnectionSnapshot{Connections: conns, Version: r.version})
}
