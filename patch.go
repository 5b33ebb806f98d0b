package patchcore

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type (
	// Patch describes the contents of a rack: a list of unit specs and the
	// wires between them. It is what a patch file deserializes into; the
	// engine builds live units from it and the rack assigns the logical ids.
	Patch struct {
		Name  string `yaml:",omitempty"`
		Units []UnitSpec
		Wires []Wire `yaml:",flow,omitempty"`
	}

	// UnitSpec describes one unit to be instantiated: its kind and the static
	// parameter values. Parameter values are ints, mostly 0..128 inclusive,
	// scaled by the unit kinds to their natural ranges.
	UnitSpec struct {
		Kind       string
		Parameters map[string]int `yaml:",flow,omitempty"`
	}

	// Wire is a connection in patch-file form: units are referenced by their
	// index in Patch.Units, as logical ids only exist once a rack has
	// assigned them. FromChannel is an output channel index; ToChannel is
	// absolute in the destination's input channel space.
	Wire struct {
		From        int `yaml:"from"`
		FromChannel int `yaml:"fromChannel"`
		To          int `yaml:"to"`
		ToChannel   int `yaml:"toChannel"`
	}
)

// Copy makes a deep copy of a UnitSpec.
func (u *UnitSpec) Copy() UnitSpec {
	parameters := make(map[string]int, len(u.Parameters))
	for k, v := range u.Parameters {
		parameters[k] = v
	}
	return UnitSpec{Kind: u.Kind, Parameters: parameters}
}

// Copy makes a deep copy of a Patch.
func (p *Patch) Copy() Patch {
	units := make([]UnitSpec, len(p.Units))
	for i, u := range p.Units {
		units[i] = u.Copy()
	}
	wires := make([]Wire, len(p.Wires))
	copy(wires, p.Wires)
	return Patch{Name: p.Name, Units: units, Wires: wires}
}

// ParsePatch parses and validates a patch in yaml form.
func ParsePatch(data []byte) (Patch, error) {
	var p Patch
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Patch{}, fmt.Errorf("parsing patch yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Patch{}, err
	}
	return p, nil
}

// Marshal serializes the patch to its yaml form.
func (p *Patch) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// Validate checks that every unit kind exists and every wire points at
// existing units and channels.
func (p *Patch) Validate() error {
	kinds := make([]UnitKind, len(p.Units))
	for i, u := range p.Units {
		kind, ok := UnitKindForName(u.Kind)
		if !ok {
			return fmt.Errorf("unit %v has unknown kind %q", i, u.Kind)
		}
		kinds[i] = kind
	}
	for i, w := range p.Wires {
		if w.From < 0 || w.From >= len(p.Units) {
			return fmt.Errorf("wire %v source unit %v does not exist", i, w.From)
		}
		if w.To < 0 || w.To >= len(p.Units) {
			return fmt.Errorf("wire %v destination unit %v does not exist", i, w.To)
		}
		if w.FromChannel < 0 || w.FromChannel >= NumOutputs(kinds[w.From]) {
			return fmt.Errorf("wire %v source channel %v out of range for %v", i, w.FromChannel, kinds[w.From])
		}
		if w.ToChannel < 0 || w.ToChannel >= NumInputs(kinds[w.To]) {
			return fmt.Errorf("wire %v destination channel %v out of range for %v", i, w.ToChannel, kinds[w.To])
		}
	}
	return nil
}
