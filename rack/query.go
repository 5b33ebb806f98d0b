package rack

import "patchcore"

// PortQuery answers, at render time, whether a virtual modulation input of a
// unit is patched to an upstream signal. It caches the unit's logical id:
// the rack may reassign identities to surviving units without notifying
// them, so the cache can go stale, and re-resolving on every render call
// would cost a registry scan per query. Instead the query accepts the stale
// cache and repairs it lazily, only after a miss, bounding the repair cost
// to rare events.
//
// A PortQuery is owned by the render context: its methods are not safe for
// concurrent use, and they never block beyond the rack's bounded registry
// scan. Every failure mode degrades to "not connected"; nothing is ever
// reported upward as an error.
type PortQuery struct {
	unit   patchcore.Unit
	graph  Graph
	diag   Diagnostics
	cached patchcore.LogicalID
}

func NewPortQuery(unit patchcore.Unit, graph Graph, diag Diagnostics) *PortQuery {
	if diag == nil {
		diag = NopDiagnostics{}
	}
	return &PortQuery{unit: unit, graph: graph, diag: diag}
}

// CachedID returns the currently cached logical id, 0 if unresolved. Mostly
// useful in tests and diagnostics.
func (q *PortQuery) CachedID() patchcore.LogicalID {
	return q.cached
}

// Connected reports whether the modulation input param of the unit is
// patched. Unmapped parameter, unresolved identity, missing snapshot and
// absent connection all uniformly answer false, so the calling unit falls
// back to its unmodulated behaviour.
func (q *PortQuery) Connected(param string) bool {
	_, ok := q.lookup(param)
	return ok
}

// Source resolves the modulation input param to the connection feeding it.
// When several connections feed the same channel, the first in snapshot
// order is returned; the engine sums all of them when routing signals, this
// is just the routing existence check.
func (q *PortQuery) Source(param string) (patchcore.Connection, bool) {
	return q.lookup(param)
}

func (q *PortQuery) lookup(param string) (patchcore.Connection, bool) {
	if q.cached == 0 {
		q.cached = q.graph.ResolveID(q.unit)
		if q.cached == 0 {
			return patchcore.Connection{}, false
		}
	}
	route, ok := patchcore.LookupRoute(q.unit.Kind(), param)
	if !ok {
		return patchcore.Connection{}, false
	}
	channel := patchcore.AbsoluteChannel(q.unit.Kind(), route)
	snapshot := q.graph.Snapshot()
	if snapshot == nil {
		return patchcore.Connection{}, false
	}
	if c, ok := findInput(snapshot, q.cached, channel); ok {
		return c, true
	}
	// The connection may exist under a fresher identity than the cached one;
	// re-resolve by pointer scan and retry once before giving up.
	if fresh := q.graph.ResolveID(q.unit); fresh != 0 && fresh != q.cached {
		if c, ok := findInput(snapshot, fresh, channel); ok {
			q.cached = fresh
			return c, true
		}
	}
	q.diag.Report(DiagKey{Param: param, ID: q.cached}, "modulation input not connected")
	return patchcore.Connection{}, false
}

func findInput(s *patchcore.ConnectionSnapshot, to patchcore.LogicalID, toChannel int) (patchcore.Connection, bool) {
	for _, c := range s.Connections {
		if c.To == to && c.ToChannel == toChannel {
			return c, true
		}
	}
	return patchcore.Connection{}, false
}
