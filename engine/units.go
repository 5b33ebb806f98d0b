package engine

import (
	"github.com/chewxy/math32"
	"github.com/viterin/vek/vek32"

	"patchcore"
	"patchcore/rack"
)

// modInputs is embedded by every unit implementation and holds the port
// query resolving which of the unit's virtual modulation inputs are patched.
// The query is bound by the engine when it builds its render tables.
type modInputs struct {
	q *rack.PortQuery
}

func (m *modInputs) bindQuery(q *rack.PortQuery) { m.q = q }

func (m *modInputs) patched(param string) bool {
	return m.q != nil && m.q.Connected(param)
}

type queryBinder interface {
	bindQuery(q *rack.PortQuery)
}

// paramValue reads a 0..128 patch parameter and normalizes it to 0..1.
func paramValue(params map[string]int, name string, def int) float32 {
	return clamp01(float32(paramRaw(params, name, def)) / 128)
}

func paramRaw(params map[string]int, name string, def int) int {
	if v, ok := params[name]; ok {
		return v
	}
	return def
}

func clamp01(x float32) float32 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

const middleCHz float32 = 261.6256

// waveSample evaluates one of the shared waveforms at phase p in [0,1).
// shape skews the trisaw between saw, triangle and ramp, and sets the pulse
// duty cycle; the sine ignores it.
func waveSample(wave int, p, shape float32) float32 {
	switch wave {
	case patchcore.Trisaw:
		s := shape
		if s < 0.01 {
			s = 0.01
		} else if s > 0.99 {
			s = 0.99
		}
		if p < s {
			return 2*p/s - 1
		}
		return 1 - 2*(p-s)/(1-s)
	case patchcore.Pulse:
		if p < shape {
			return 1
		}
		return -1
	default:
		return math32.Sin(2 * math32.Pi * p)
	}
}

// OscillatorUnit is a per voice audio oscillator tracking the voice pitch CV.
// Transpose is in semitones around the patch value 64; its modulation input
// is a pitch CV in octaves, like the voice pitch itself.
type OscillatorUnit struct {
	modInputs
	transpose   float32 // semitones
	shape, gain float32
	wave        int
	phase       [patchcore.MaxVoices]float32
}

func NewOscillatorUnit(params map[string]int) *OscillatorUnit {
	return &OscillatorUnit{
		transpose: float32(paramRaw(params, "transpose", 64) - 64),
		shape:     paramValue(params, "shape", 64),
		gain:      paramValue(params, "gain", 128),
		wave:      paramRaw(params, "type", patchcore.Sine),
	}
}

func (u *OscillatorUnit) Kind() patchcore.UnitKind { return patchcore.KindOscillator }

func (u *OscillatorUnit) Reset() {
	clear(u.phase[:])
}

func (u *OscillatorUnit) Render(ctx patchcore.RenderContext, voice *patchcore.VoiceSignals, in, out [][]float32) {
	var (
		pitchIn = u.patched("transpose")
		phaseIn = u.patched("phase")
		shapeIn = u.patched("shape")
		gainIn  = u.patched("gain")
	)
	sr := float32(ctx.SampleRate)
	delta := middleCHz * math32.Exp2(voice.NoteCV+u.transpose/12) / sr
	phase := u.phase[voice.Index]
	for i := range out[0] {
		if pitchIn {
			delta = middleCHz * math32.Exp2(voice.NoteCV+u.transpose/12+in[0][i]) / sr
		}
		p := phase
		if phaseIn {
			p += in[1][i]
		}
		p -= math32.Floor(p)
		shape := u.shape
		if shapeIn {
			shape = clamp01(u.shape + in[2][i])
		}
		g := u.gain
		if gainIn {
			g += in[3][i]
		}
		out[0][i] = waveSample(u.wave, p, shape) * g
		phase += delta
		phase -= math32.Floor(phase)
	}
	u.phase[voice.Index] = phase
}

// LFOUnit is a low frequency oscillator. Unlike the audio oscillator it does
// not track pitch; its rate maps the 0..1 position logarithmically onto
// 0.01..25 Hz. The phase restarts on every voice trigger.
type LFOUnit struct {
	modInputs
	rate, amount float32
	wave         int
	phase        [patchcore.MaxVoices]float32
}

const (
	lfoMinHz float32 = 0.01
	lfoMaxHz float32 = 25
)

func NewLFOUnit(params map[string]int) *LFOUnit {
	return &LFOUnit{
		rate:   paramValue(params, "rate", 64),
		amount: paramValue(params, "amount", 64),
		wave:   paramRaw(params, "type", patchcore.Sine),
	}
}

func (u *LFOUnit) Kind() patchcore.UnitKind { return patchcore.KindLFO }

func (u *LFOUnit) Reset() {
	clear(u.phase[:])
}

func lfoDelta(base, cv, sampleRate float32) float32 {
	x := clamp01(base + cv)
	return lfoMinHz * math32.Pow(lfoMaxHz/lfoMinHz, x) / sampleRate
}

func (u *LFOUnit) Render(ctx patchcore.RenderContext, voice *patchcore.VoiceSignals, in, out [][]float32) {
	rateIn := u.patched("rate")
	amountIn := u.patched("amount")
	sr := float32(ctx.SampleRate)
	delta := lfoDelta(u.rate, 0, sr)
	phase := u.phase[voice.Index]
	if voice.Trigger {
		phase = 0
	}
	for i := range out[0] {
		if rateIn {
			delta = lfoDelta(u.rate, in[0][i], sr)
		}
		amount := u.amount
		if amountIn {
			amount = clamp01(u.amount + in[1][i])
		}
		out[0][i] = waveSample(u.wave, phase, 0.5) * amount
		phase += delta
		phase -= math32.Floor(phase)
	}
	u.phase[voice.Index] = phase
}

// VCAUnit multiplies its audio input by a gain, with an optional gain CV.
type VCAUnit struct {
	modInputs
	gain float32
}

func NewVCAUnit(params map[string]int) *VCAUnit {
	return &VCAUnit{gain: paramValue(params, "gain", 128)}
}

func (u *VCAUnit) Kind() patchcore.UnitKind { return patchcore.KindVCA }

func (u *VCAUnit) Render(ctx patchcore.RenderContext, voice *patchcore.VoiceSignals, in, out [][]float32) {
	if !u.patched("gain") {
		vek32.MulNumber_Into(out[0], in[0], u.gain)
		return
	}
	for i := range out[0] {
		out[0][i] = in[0][i] * (u.gain + in[1][i])
	}
}

// NoiseUnit is a per voice white noise source with its own xorshift state, so
// renders are deterministic given the same voice history.
type NoiseUnit struct {
	modInputs
	gain  float32
	state [patchcore.MaxVoices]uint32
}

func NewNoiseUnit(params map[string]int) *NoiseUnit {
	return &NoiseUnit{gain: paramValue(params, "gain", 128)}
}

func (u *NoiseUnit) Kind() patchcore.UnitKind { return patchcore.KindNoise }

func (u *NoiseUnit) Reset() {
	clear(u.state[:])
}

func (u *NoiseUnit) Render(ctx patchcore.RenderContext, voice *patchcore.VoiceSignals, in, out [][]float32) {
	gainIn := u.patched("gain")
	s := u.state[voice.Index]
	if s == 0 {
		s = uint32(voice.Index)*2654435761 + 1
	}
	for i := range out[0] {
		s ^= s << 13
		s ^= s >> 17
		s ^= s << 5
		g := u.gain
		if gainIn {
			g += in[0][i]
		}
		out[0][i] = float32(int32(s)) / (1 << 31) * g
	}
	u.state[voice.Index] = s
}

// MixerUnit sums its four audio inputs and scales the sum by a level.
type MixerUnit struct {
	modInputs
	level float32
}

func NewMixerUnit(params map[string]int) *MixerUnit {
	return &MixerUnit{level: paramValue(params, "level", 96)}
}

func (u *MixerUnit) Kind() patchcore.UnitKind { return patchcore.KindMixer }

func (u *MixerUnit) Render(ctx patchcore.RenderContext, voice *patchcore.VoiceSignals, in, out [][]float32) {
	vek32.Add_Into(out[0], in[0], in[1])
	vek32.Add_Inplace(out[0], in[2])
	vek32.Add_Inplace(out[0], in[3])
	if !u.patched("level") {
		vek32.MulNumber_Inplace(out[0], u.level)
		return
	}
	for i := range out[0] {
		out[0][i] *= clamp01(u.level + in[4][i])
	}
}

// OutUnit accumulates its stereo input into the engine's master bus. It has
// no output channels of its own; the engine points left and right at the
// master segment before rendering each voice.
type OutUnit struct {
	modInputs
	gain        float32
	left, right []float32
}

func NewOutUnit(params map[string]int) *OutUnit {
	return &OutUnit{gain: paramValue(params, "gain", 96)}
}

func (u *OutUnit) Kind() patchcore.UnitKind { return patchcore.KindOut }

func (u *OutUnit) Render(ctx patchcore.RenderContext, voice *patchcore.VoiceSignals, in, out [][]float32) {
	if u.left == nil || u.right == nil {
		return
	}
	gainIn := u.patched("gain")
	for i := range in[0] {
		g := u.gain
		if gainIn {
			g += in[2][i]
		}
		u.left[i] += in[0][i] * g
		u.right[i] += in[1][i] * g
	}
}
