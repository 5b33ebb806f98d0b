package patchcore

// UnitKind enumerates the closed set of processing unit kinds available in a
// rack. There is deliberately no open registration mechanism; the engine hard
// codes the render behaviour for each kind, so an unknown kind is a
// programming error, not a runtime condition.
type UnitKind int

const (
	KindEnvelope UnitKind = iota
	KindOscillator
	KindLFO
	KindVCA
	KindNoise
	KindMixer
	KindOut
	numUnitKinds
)

var unitKindNames = [...]string{"envelope", "oscillator", "lfo", "vca", "noise", "mixer", "out"}

func (k UnitKind) String() string {
	if k < 0 || int(k) >= len(unitKindNames) {
		return "unknown"
	}
	return unitKindNames[k]
}

// UnitKindForName returns the UnitKind with the given lowercase name, e.g.
// "envelope". ok is false if no kind has that name.
func UnitKindForName(name string) (kind UnitKind, ok bool) {
	for i, n := range unitKindNames {
		if n == name {
			return UnitKind(i), true
		}
	}
	return 0, false
}

// UnitParameter documents one parameter that a unit kind takes.
type UnitParameter struct {
	Name        string // key in the UnitSpec.Parameters map
	MinValue    int    // minimum value of the parameter, inclusive
	MaxValue    int    // maximum value of the parameter, inclusive
	CanSet      bool   // if this parameter can be set beforehand, e.g. in a patch file
	CanModulate bool   // if this parameter has a modulation input channel
}

// UnitTypes documents all the available unit kinds and what parameters they
// take. Parameters with CanModulate appear in the routing tables as virtual
// modulation inputs.
var UnitTypes = map[UnitKind][]UnitParameter{
	KindEnvelope: {
		{Name: "attack", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true},
		{Name: "decay", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true},
		{Name: "sustain", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true},
		{Name: "release", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true},
		{Name: "gain", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: false}},
	KindOscillator: {
		{Name: "transpose", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true},
		{Name: "shape", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true},
		{Name: "gain", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true},
		{Name: "type", MinValue: int(Sine), MaxValue: int(Pulse), CanSet: true, CanModulate: false}},
	KindLFO: {
		{Name: "rate", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true},
		{Name: "amount", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true},
		{Name: "type", MinValue: int(Sine), MaxValue: int(Pulse), CanSet: true, CanModulate: false}},
	KindVCA: {
		{Name: "gain", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true}},
	KindNoise: {
		{Name: "gain", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true}},
	KindMixer: {
		{Name: "level", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true}},
	KindOut: {
		{Name: "gain", MinValue: 0, MaxValue: 128, CanSet: true, CanModulate: true}},
}

// Oscillator and LFO waveform types.
const (
	Sine = iota
	Trisaw
	Pulse
)

// RenderContext carries the fixed render-time constants of the engine. Units
// may assume these never change between blocks.
type RenderContext struct {
	SampleRate int
	BlockSize  int
}

// Unit is the minimal capability contract of one processing unit instance:
// it knows its kind and it can render. All other behaviour (routing lookups,
// parameter documentation) is keyed by the kind, not the instance.
//
// Render processes one segment for one voice. in is the unit's flattened
// input channel space, indexed by absolute channel; channels that nothing is
// patched to are all-zero. out is the unit's output channels. All sample
// slices have equal length. Render must not allocate and must not block.
type Unit interface {
	Kind() UnitKind
	Render(ctx RenderContext, voice *VoiceSignals, in, out [][]float32)
}

// Meter is an optional capability for units that expose a level for
// visualization. It is deliberately separate from Unit: the core render
// contract does not know about visualization.
type Meter interface {
	Level() float32
}

// MaxVoices is the hard upper limit for the polyphony of an engine. The
// actual pool size is fixed at engine construction and may be smaller.
const MaxVoices = 32

// VoiceSignals carries the per-voice control signals the allocator derives
// from note events. Units fall back to these when the corresponding virtual
// input is not patched.
type VoiceSignals struct {
	Index    int
	Gate     bool    // note held
	Trigger  bool    // one-shot re-attack pulse, cleared by the engine after the segment
	NoteCV   float32 // pitch as CV, 1.0/octave, 0 at note 60
	Velocity float32
}
