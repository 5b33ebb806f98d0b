package patchcore

// LogicalID is the stable identity of a unit instance within a rack. It is
// assigned when the unit is inserted and invalidated when the unit is
// removed. 0 means "unassigned" and is never given to a live unit. The rack
// packs a slot index and a generation counter into the id, so a removed
// unit's id does not match a later occupant of the same slot.
type LogicalID int32

// Connection is a directed edge from an output channel of one unit to an
// input channel of another. ToChannel is absolute within the destination's
// flattened input channel space (see AbsoluteChannel).
type Connection struct {
	From        LogicalID `yaml:"from"`
	FromChannel int       `yaml:"fromChannel"`
	To          LogicalID `yaml:"to"`
	ToChannel   int       `yaml:"toChannel"`
}

// ConnectionSnapshot is an immutable, ordered view of the connection set,
// published atomically by the rack. A held snapshot stays valid for as long
// as the holder uses it, regardless of later graph edits; the garbage
// collector reclaims superseded snapshots once no reader refers to them.
// Do not mutate Connections after publication.
type ConnectionSnapshot struct {
	Connections []Connection
	Version     int64
}

// HasInput reports whether any connection in the snapshot targets the given
// destination unit and absolute channel.
func (s *ConnectionSnapshot) HasInput(to LogicalID, toChannel int) bool {
	for _, c := range s.Connections {
		if c.To == to && c.ToChannel == toChannel {
			return true
		}
	}
	return false
}

// Inputs calls yield for every connection targeting the given destination
// unit and absolute channel, in snapshot order. Multiple sources into the
// same channel are legal; the engine sums them.
func (s *ConnectionSnapshot) Inputs(to LogicalID, toChannel int, yield func(Connection) bool) {
	for _, c := range s.Connections {
		if c.To == to && c.ToChannel == toChannel {
			if !yield(c) {
				return
			}
		}
	}
}
