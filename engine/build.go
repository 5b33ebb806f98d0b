package engine

import (
	"fmt"

	"patchcore"
	"patchcore/rack"
)

// NewUnit instantiates the unit a spec describes.
func NewUnit(spec patchcore.UnitSpec) (patchcore.Unit, error) {
	kind, ok := patchcore.UnitKindForName(spec.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown unit kind %q", spec.Kind)
	}
	switch kind {
	case patchcore.KindEnvelope:
		return NewEnvelopeUnit(spec.Parameters), nil
	case patchcore.KindOscillator:
		return NewOscillatorUnit(spec.Parameters), nil
	case patchcore.KindLFO:
		return NewLFOUnit(spec.Parameters), nil
	case patchcore.KindVCA:
		return NewVCAUnit(spec.Parameters), nil
	case patchcore.KindNoise:
		return NewNoiseUnit(spec.Parameters), nil
	case patchcore.KindMixer:
		return NewMixerUnit(spec.Parameters), nil
	case patchcore.KindOut:
		return NewOutUnit(spec.Parameters), nil
	}
	return nil, fmt.Errorf("unit kind %v has no implementation", kind)
}

// LoadPatch replaces the rack's contents with the units and wires of p and
// returns the logical ids assigned to the units, index aligned with p.Units.
// When a broker is given, a rebuild message is sent so a running engine picks
// the new unit set up; the connection snapshot itself is published by the
// rack and needs no message.
func LoadPatch(r *rack.Rack, broker *rack.Broker, p patchcore.Patch) ([]patchcore.LogicalID, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid patch: %w", err)
	}
	units := make([]patchcore.Unit, len(p.Units))
	for i, spec := range p.Units {
		u, err := NewUnit(spec)
		if err != nil {
			return nil, fmt.Errorf("unit %v: %w", i, err)
		}
		units[i] = u
	}
	var old []patchcore.LogicalID
	r.Each(func(id patchcore.LogicalID, _ patchcore.Unit) bool {
		old = append(old, id)
		return true
	})
	for _, id := range old {
		if err := r.Remove(id); err != nil {
			return nil, fmt.Errorf("clearing rack: %w", err)
		}
	}
	ids := make([]patchcore.LogicalID, len(units))
	for i, u := range units {
		id, err := r.Insert(u)
		if err != nil {
			return nil, fmt.Errorf("inserting unit %v: %w", i, err)
		}
		ids[i] = id
	}
	conns := make([]patchcore.Connection, len(p.Wires))
	for i, w := range p.Wires {
		conns[i] = patchcore.Connection{
			From:        ids[w.From],
			FromChannel: w.FromChannel,
			To:          ids[w.To],
			ToChannel:   w.ToChannel,
		}
	}
	if err := r.SetConnections(conns); err != nil {
		return nil, err
	}
	if broker != nil {
		rack.TrySend(broker.ToEngine, any(rack.RebuildMsg{}))
	}
	return ids, nil
}
