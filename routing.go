package patchcore

// ParamRoute locates the virtual modulation input of one parameter inside a
// unit kind's input buses: the bus index and the channel within that bus.
type ParamRoute struct {
	Param   string
	Bus     int
	Channel int
}

// paramRoutes is the static per-kind routing table. The tables are fixed per
// kind and never mutated; every parameter listed here must have CanModulate
// set in UnitTypes. Bus layouts:
//
//	envelope:   bus 0 = gate/trigger, bus 1 = time & level CVs
//	oscillator: bus 0 = pitch/phase,  bus 1 = tone CVs
//	lfo:        bus 0 = rate/amount CVs
//	vca:        bus 0 = audio in,     bus 1 = gain CV
//	noise:      bus 0 = gain CV
//	mixer:      bus 0 = audio ins,    bus 1 = level CV
//	out:        bus 0 = audio L/R,    bus 1 = gain CV
var paramRoutes = map[UnitKind][]ParamRoute{
	KindEnvelope: {
		{Param: "gate", Bus: 0, Channel: 0},
		{Param: "trigger", Bus: 0, Channel: 1},
		{Param: "attack", Bus: 1, Channel: 0},
		{Param: "decay", Bus: 1, Channel: 1},
		{Param: "sustain", Bus: 1, Channel: 2},
		{Param: "release", Bus: 1, Channel: 3}},
	KindOscillator: {
		{Param: "transpose", Bus: 0, Channel: 0},
		{Param: "phase", Bus: 0, Channel: 1},
		{Param: "shape", Bus: 1, Channel: 0},
		{Param: "gain", Bus: 1, Channel: 1}},
	KindLFO: {
		{Param: "rate", Bus: 0, Channel: 0},
		{Param: "amount", Bus: 0, Channel: 1}},
	KindVCA: {
		{Param: "in", Bus: 0, Channel: 0},
		{Param: "gain", Bus: 1, Channel: 0}},
	KindNoise: {
		{Param: "gain", Bus: 0, Channel: 0}},
	KindMixer: {
		{Param: "in1", Bus: 0, Channel: 0},
		{Param: "in2", Bus: 0, Channel: 1},
		{Param: "in3", Bus: 0, Channel: 2},
		{Param: "in4", Bus: 0, Channel: 3},
		{Param: "level", Bus: 1, Channel: 0}},
	KindOut: {
		{Param: "left", Bus: 0, Channel: 0},
		{Param: "right", Bus: 0, Channel: 1},
		{Param: "gain", Bus: 1, Channel: 0}},
}

// busChannels gives the number of input channels on each bus of a kind.
var busChannels = map[UnitKind][]int{
	KindEnvelope:   {2, 4},
	KindOscillator: {2, 2},
	KindLFO:        {2},
	KindVCA:        {1, 1},
	KindNoise:      {1},
	KindMixer:      {4, 1},
	KindOut:        {2, 1},
}

// unitOutputs gives the number of output channels of a kind. The envelope has
// three: level, end-of-rise and end-of-cycle.
var unitOutputs = map[UnitKind]int{
	KindEnvelope:   3,
	KindOscillator: 1,
	KindLFO:        1,
	KindVCA:        1,
	KindNoise:      1,
	KindMixer:      1,
	KindOut:        0,
}

// LookupRoute is the routing resolver: a pure lookup of the virtual
// modulation input of param on the given unit kind. ok is false when the
// kind has no such modulation input; that is not an error, just absence.
func LookupRoute(kind UnitKind, param string) (route ParamRoute, ok bool) {
	for _, r := range paramRoutes[kind] {
		if r.Param == param {
			return r, true
		}
	}
	return ParamRoute{}, false
}

// BusChannels returns the number of input channels on the given bus of a
// kind, 0 for buses the kind does not have.
func BusChannels(kind UnitKind, bus int) int {
	chans := busChannels[kind]
	if bus < 0 || bus >= len(chans) {
		return 0
	}
	return chans[bus]
}

// NumInputs returns the size of a kind's flattened input channel space.
func NumInputs(kind UnitKind) int {
	total := 0
	for _, n := range busChannels[kind] {
		total += n
	}
	return total
}

// NumOutputs returns the number of output channels of a kind.
func NumOutputs(kind UnitKind) int {
	return unitOutputs[kind]
}

// AbsoluteChannel flattens a route to an index in the kind's input channel
// space: the channels of all lower-numbered buses come first, in bus order.
func AbsoluteChannel(kind UnitKind, route ParamRoute) int {
	abs := route.Channel
	for bus := 0; bus < route.Bus; bus++ {
		abs += BusChannels(kind, bus)
	}
	return abs
}
