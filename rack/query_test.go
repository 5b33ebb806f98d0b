package rack_test

import (
	"testing"

	"patchcore"
	"patchcore/rack"
)

func envRouteChannel(t *testing.T, param string) int {
	t.Helper()
	route, ok := patchcore.LookupRoute(patchcore.KindEnvelope, param)
	if !ok {
		t.Fatalf("envelope has no route for %q", param)
	}
	return patchcore.AbsoluteChannel(patchcore.KindEnvelope, route)
}

func TestQueryUnmappedParam(t *testing.T) {
	r := rack.New()
	env := &fakeUnit{kind: patchcore.KindEnvelope}
	if _, err := r.Insert(env); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	q := rack.NewPortQuery(env, r, nil)
	if q.Connected("cutoff") {
		t.Errorf("Connected reported an unmapped parameter as patched")
	}
}

func TestQueryConnected(t *testing.T) {
	r := rack.New()
	env := &fakeUnit{kind: patchcore.KindEnvelope}
	lfo := &fakeUnit{kind: patchcore.KindLFO}
	envID, _ := r.Insert(env)
	lfoID, _ := r.Insert(lfo)
	q := rack.NewPortQuery(env, r, nil)
	if q.Connected("gate") {
		t.Errorf("Connected true before any connection exists")
	}
	conn := patchcore.Connection{From: lfoID, FromChannel: 0, To: envID, ToChannel: envRouteChannel(t, "gate")}
	if err := r.Connect(conn); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !q.Connected("gate") {
		t.Errorf("Connected false for an existing connection")
	}
	if src, ok := q.Source("gate"); !ok || src != conn {
		t.Errorf("Source got %+v, %v, want %+v", src, ok, conn)
	}
	if q.Connected("trigger") {
		t.Errorf("Connected true for a different channel of the same unit")
	}
	r.Disconnect(conn)
	if q.Connected("gate") {
		t.Errorf("Connected true after Disconnect")
	}
}

// A unit that is removed and re-inserted gets a fresh id, but units are never
// told. The query must notice the miss, re-resolve by instance, and keep
// working, without scanning the registry on subsequent hits.
func TestQuerySelfHeals(t *testing.T) {
	r := rack.New()
	env := &fakeUnit{kind: patchcore.KindEnvelope}
	lfo := &fakeUnit{kind: patchcore.KindLFO}
	envID, _ := r.Insert(env)
	lfoID, _ := r.Insert(lfo)
	gate := envRouteChannel(t, "gate")
	if err := r.Connect(patchcore.Connection{From: lfoID, To: envID, ToChannel: gate}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	q := rack.NewPortQuery(env, r, nil)
	if !q.Connected("gate") {
		t.Fatalf("Connected false before the identity change")
	}
	if q.CachedID() != envID {
		t.Fatalf("cache holds %v, want %v", q.CachedID(), envID)
	}
	// remove and re-insert the same instance; it gets a fresh id
	if err := r.Remove(envID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	freshID, err := r.Insert(env)
	if err != nil {
		t.Fatalf("re-Insert failed: %v", err)
	}
	if freshID == envID {
		t.Fatalf("expected a fresh id, got the old one back")
	}
	if err := r.Connect(patchcore.Connection{From: lfoID, To: freshID, ToChannel: gate}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !q.Connected("gate") {
		t.Errorf("query did not heal after the identity change")
	}
	if q.CachedID() != freshID {
		t.Errorf("cache holds %v after healing, want %v", q.CachedID(), freshID)
	}
	scans := r.ScanCount()
	for i := 0; i < 10; i++ {
		if !q.Connected("gate") {
			t.Fatalf("Connected false on iteration %v", i)
		}
	}
	if r.ScanCount() != scans {
		t.Errorf("healed query still scans the registry: %v scans for 10 hits", r.ScanCount()-scans)
	}
}

func TestQueryMissingUnitIsNotConnected(t *testing.T) {
	r := rack.New()
	env := &fakeUnit{kind: patchcore.KindEnvelope}
	q := rack.NewPortQuery(env, r, nil)
	if q.Connected("gate") {
		t.Errorf("Connected true for a unit that is not in the rack")
	}
}

type recordingDiag struct {
	keys []rack.DiagKey
}

func (d *recordingDiag) Report(key rack.DiagKey, message string) {
	d.keys = append(d.keys, key)
}

func TestQueryReportsMisses(t *testing.T) {
	r := rack.New()
	env := &fakeUnit{kind: patchcore.KindEnvelope}
	if _, err := r.Insert(env); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	r.SetConnections(nil) // publish an empty snapshot
	diag := &recordingDiag{}
	q := rack.NewPortQuery(env, r, diag)
	if q.Connected("gate") {
		t.Fatalf("Connected true with no connections")
	}
	if len(diag.keys) != 1 || diag.keys[0].Param != "gate" {
		t.Errorf("diagnostics got %+v, want one report for gate", diag.keys)
	}
	if q.Connected("bogus"); len(diag.keys) != 1 {
		t.Errorf("unmapped parameter was reported; it is not a failure")
	}
}

func TestDedupReporter(t *testing.T) {
	broker := rack.NewBroker()
	rep := rack.NewDedupReporter(broker)
	key := rack.DiagKey{Param: "gate", ID: 7}
	rep.Report(key, "missing")
	rep.Report(key, "missing")
	other := rack.DiagKey{Param: "trigger", ID: 7}
	rep.Report(other, "missing")
	if got := len(broker.ToControl); got != 2 {
		t.Fatalf("got %v alerts, want 2", got)
	}
	rep.Reset()
	rep.Report(key, "missing")
	if got := len(broker.ToControl); got != 3 {
		t.Errorf("got %v alerts after Reset, want 3", got)
	}
	msg := <-broker.ToControl
	alert, ok := msg.Data.(rack.Alert)
	if !ok {
		t.Fatalf("alert payload has type %T", msg.Data)
	}
	if alert.Priority != rack.Info {
		t.Errorf("alert priority got %v, want Info", alert.Priority)
	}
}
