package rack_test

import (
	"errors"
	"testing"

	"patchcore"
	"patchcore/rack"
)

// fakeUnit is a minimal unit for graph tests; it renders nothing.
type fakeUnit struct {
	kind patchcore.UnitKind
}

func (f *fakeUnit) Kind() patchcore.UnitKind { return f.kind }
func (f *fakeUnit) Render(patchcore.RenderContext, *patchcore.VoiceSignals, [][]float32, [][]float32) {
}

func TestInsertAssignsDistinctIDs(t *testing.T) {
	r := rack.New()
	a, err := r.Insert(&fakeUnit{kind: patchcore.KindOscillator})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	b, err := r.Insert(&fakeUnit{kind: patchcore.KindVCA})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if a == 0 || b == 0 || a == b {
		t.Errorf("ids not distinct and nonzero: %v, %v", a, b)
	}
	if n := r.NumUnits(); n != 2 {
		t.Errorf("NumUnits got %v, want 2", n)
	}
}

func TestInsertSameInstanceTwice(t *testing.T) {
	r := rack.New()
	u := &fakeUnit{kind: patchcore.KindVCA}
	if _, err := r.Insert(u); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := r.Insert(u); !errors.Is(err, rack.ErrAlreadyInserted) {
		t.Errorf("second Insert got %v, want ErrAlreadyInserted", err)
	}
}

func TestRemoveInvalidatesID(t *testing.T) {
	r := rack.New()
	u := &fakeUnit{kind: patchcore.KindVCA}
	id, _ := r.Insert(u)
	if err := r.Remove(id); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := r.Unit(id); ok {
		t.Errorf("removed unit still resolves")
	}
	if got := r.ResolveID(u); got != 0 {
		t.Errorf("ResolveID of removed unit got %v, want 0", got)
	}
	if err := r.Remove(id); !errors.Is(err, rack.ErrUnitNotFound) {
		t.Errorf("second Remove got %v, want ErrUnitNotFound", err)
	}
}

func TestStaleIDDoesNotMatchSlotReuse(t *testing.T) {
	r := rack.New()
	old := &fakeUnit{kind: patchcore.KindVCA}
	oldID, _ := r.Insert(old)
	if err := r.Remove(oldID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	usurper := &fakeUnit{kind: patchcore.KindNoise}
	newID, _ := r.Insert(usurper) // reuses the freed slot
	if newID == oldID {
		t.Fatalf("slot reuse produced the same id %v", newID)
	}
	if _, ok := r.Unit(oldID); ok {
		t.Errorf("stale id resolves to the slot's new occupant")
	}
	if err := r.Remove(oldID); !errors.Is(err, rack.ErrStaleID) {
		t.Errorf("Remove with stale id got %v, want ErrStaleID", err)
	}
	if got, ok := r.Unit(newID); !ok || got != patchcore.Unit(usurper) {
		t.Errorf("new id does not resolve to the new occupant")
	}
}

func TestConnectValidates(t *testing.T) {
	r := rack.New()
	osc, _ := r.Insert(&fakeUnit{kind: patchcore.KindOscillator})
	vca, _ := r.Insert(&fakeUnit{kind: patchcore.KindVCA})
	var tests = []struct {
		name string
		conn patchcore.Connection
		ok   bool
	}{
		{"valid", patchcore.Connection{From: osc, FromChannel: 0, To: vca, ToChannel: 0}, true},
		{"unknown source", patchcore.Connection{From: 12345, To: vca}, false},
		{"unknown destination", patchcore.Connection{From: osc, To: 12345}, false},
		{"source channel out of range", patchcore.Connection{From: osc, FromChannel: 1, To: vca}, false},
		{"destination channel out of range", patchcore.Connection{From: osc, To: vca, ToChannel: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Connect(tt.conn)
			if tt.ok && err != nil {
				t.Errorf("Connect(%+v) failed: %v", tt.conn, err)
			}
			if !tt.ok && !errors.Is(err, rack.ErrInvalidConn) {
				t.Errorf("Connect(%+v) got %v, want ErrInvalidConn", tt.conn, err)
			}
		})
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	r := rack.New()
	osc, _ := r.Insert(&fakeUnit{kind: patchcore.KindOscillator})
	vca, _ := r.Insert(&fakeUnit{kind: patchcore.KindVCA})
	conn := patchcore.Connection{From: osc, FromChannel: 0, To: vca, ToChannel: 0}
	if err := r.Connect(conn); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	held := r.Snapshot()
	if held == nil || !held.HasInput(vca, 0) {
		t.Fatalf("snapshot missing the connection")
	}
	r.Disconnect(conn)
	if !held.HasInput(vca, 0) {
		t.Errorf("held snapshot changed after Disconnect")
	}
	fresh := r.Snapshot()
	if fresh.HasInput(vca, 0) {
		t.Errorf("fresh snapshot still has the removed connection")
	}
	if fresh.Version <= held.Version {
		t.Errorf("version did not advance: %v then %v", held.Version, fresh.Version)
	}
}

func TestRemoveDropsConnections(t *testing.T) {
	r := rack.New()
	osc, _ := r.Insert(&fakeUnit{kind: patchcore.KindOscillator})
	vca, _ := r.Insert(&fakeUnit{kind: patchcore.KindVCA})
	if err := r.Connect(patchcore.Connection{From: osc, To: vca}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := r.Remove(osc); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if snap := r.Snapshot(); snap.HasInput(vca, 0) {
		t.Errorf("connection to a removed unit survived in the snapshot")
	}
}

func TestSetConnectionsReplacesAll(t *testing.T) {
	r := rack.New()
	osc, _ := r.Insert(&fakeUnit{kind: patchcore.KindOscillator})
	mixer, _ := r.Insert(&fakeUnit{kind: patchcore.KindMixer})
	first := patchcore.Connection{From: osc, To: mixer, ToChannel: 0}
	if err := r.Connect(first); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	second := patchcore.Connection{From: osc, To: mixer, ToChannel: 1}
	if err := r.SetConnections([]patchcore.Connection{second}); err != nil {
		t.Fatalf("SetConnections failed: %v", err)
	}
	snap := r.Snapshot()
	if snap.HasInput(mixer, 0) || !snap.HasInput(mixer, 1) {
		t.Errorf("SetConnections did not replace the connection set: %+v", snap.Connections)
	}
}

func TestEachIteratesInSlotOrder(t *testing.T) {
	r := rack.New()
	units := []*fakeUnit{
		{kind: patchcore.KindEnvelope},
		{kind: patchcore.KindOscillator},
		{kind: patchcore.KindOut},
	}
	for _, u := range units {
		if _, err := r.Insert(u); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	var kinds []patchcore.UnitKind
	r.Each(func(id patchcore.LogicalID, u patchcore.Unit) bool {
		kinds = append(kinds, u.Kind())
		return true
	})
	want := []patchcore.UnitKind{patchcore.KindEnvelope, patchcore.KindOscillator, patchcore.KindOut}
	if len(kinds) != len(want) {
		t.Fatalf("Each yielded %v units, want %v", len(kinds), len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Each order %v: got %v, want %v", i, kinds[i], want[i])
		}
	}
}
