package engine

import (
	"github.com/chewxy/math32"

	"patchcore"
)

type envStage uint8

const (
	stageIdle envStage = iota
	stageAttack
	stageDecay
	stageSustain
	stageRelease
)

const (
	// Envelope segment times are floor clamped to envMinMs, so a zero attack
	// still takes a fraction of a millisecond and never clicks from a step.
	envMinMs float32 = 0.1
	envMaxMs float32 = 10000

	// Exponential segments approach their target asymptotically; within
	// envEpsilon of it they snap and advance to the next stage.
	envEpsilon float32 = 1e-4

	// Length of the end-of-rise and end-of-cycle pulses, in samples.
	envPulseLen = 16
)

// Envelope is the per voice state of one envelope unit: the current stage,
// the current level and the remaining lengths of the marker pulses.
type Envelope struct {
	stage    envStage
	level    float32
	eorLeft  int
	eocLeft  int
	prevTrig bool
}

func (e *Envelope) Stage() envStage { return e.stage }
func (e *Envelope) Level() float32  { return e.level }
func (e *Envelope) Sounding() bool  { return e.stage != stageIdle || e.eocLeft > 0 }

// next advances the envelope by one sample. attack, decay and release are the
// one pole smoothing gains of their segments (see timeGain), sustain is the
// hold level. A trigger restarts the attack from the current level, never
// from zero, so retriggering a sounding voice cannot click.
func (e *Envelope) next(gate, trigger bool, attack, decay, sustain, release float32) (level, eor, eoc float32) {
	if trigger {
		e.stage = stageAttack
	} else {
		switch e.stage {
		case stageIdle, stageRelease:
			if gate {
				e.stage = stageAttack
			}
		case stageAttack, stageDecay, stageSustain:
			if !gate {
				e.stage = stageRelease
			}
		}
	}
	switch e.stage {
	case stageAttack:
		e.level += (1 - e.level) * attack
		if e.level >= 1-envEpsilon {
			e.level = 1
			e.stage = stageDecay
			e.eorLeft = envPulseLen
		}
	case stageDecay:
		e.level += (sustain - e.level) * decay
		if d := e.level - sustain; -envEpsilon < d && d < envEpsilon {
			e.level = sustain
			e.stage = stageSustain
		}
	case stageSustain:
		e.level = sustain
	case stageRelease:
		e.level -= e.level * release
		if e.level <= envEpsilon {
			e.level = 0
			e.stage = stageIdle
			e.eocLeft = envPulseLen
		}
	}
	if e.eorLeft > 0 {
		eor = 1
		e.eorLeft--
	}
	if e.eocLeft > 0 {
		eoc = 1
		e.eocLeft--
	}
	return e.level, eor, eoc
}

// timeGain converts a normalized time position to the per sample gain of a
// one pole exponential segment. base and cv add in normalized units, where 0
// maps to envMinMs and 1 to envMaxMs on a logarithmic scale.
func timeGain(base, cv, sampleRate float32) float32 {
	x := clamp01(base + cv)
	ms := envMinMs * math32.Pow(envMaxMs/envMinMs, x)
	if ms < envMinMs {
		ms = envMinMs
	}
	return 1 - math32.Exp(-1/(ms*0.001*sampleRate))
}

// EnvelopeUnit is an exponential ADSR envelope with end-of-rise and
// end-of-cycle marker outputs. Gate and trigger default to the voice signals
// and can be overridden by patching their inputs; the segment times and the
// sustain level accept CV offsets on theirs.
type EnvelopeUnit struct {
	modInputs
	attack, decay, sustain, release, gain float32
	envs                                  [patchcore.MaxVoices]Envelope
}

func NewEnvelopeUnit(params map[string]int) *EnvelopeUnit {
	return &EnvelopeUnit{
		attack:  paramValue(params, "attack", 16),
		decay:   paramValue(params, "decay", 64),
		sustain: paramValue(params, "sustain", 96),
		release: paramValue(params, "release", 64),
		gain:    paramValue(params, "gain", 128),
	}
}

func (u *EnvelopeUnit) Kind() patchcore.UnitKind { return patchcore.KindEnvelope }

// VoiceSounding reports whether the envelope of voice v has not yet fallen
// silent. The engine keeps rendering released voices for as long as this
// holds.
func (u *EnvelopeUnit) VoiceSounding(v int) bool {
	return u.envs[v].Sounding()
}

// Level implements patchcore.Meter with the highest current envelope level
// across all voices.
func (u *EnvelopeUnit) Level() float32 {
	var m float32
	for i := range u.envs {
		if l := u.envs[i].level; l > m {
			m = l
		}
	}
	return m
}

func (u *EnvelopeUnit) Reset() {
	clear(u.envs[:])
}

func (u *EnvelopeUnit) Render(ctx patchcore.RenderContext, voice *patchcore.VoiceSignals, in, out [][]float32) {
	env := &u.envs[voice.Index]
	var (
		gateIn = u.patched("gate")
		trigIn = u.patched("trigger")
		aIn    = u.patched("attack")
		dIn    = u.patched("decay")
		sIn    = u.patched("sustain")
		rIn    = u.patched("release")
	)
	sr := float32(ctx.SampleRate)
	aG := timeGain(u.attack, 0, sr)
	dG := timeGain(u.decay, 0, sr)
	rG := timeGain(u.release, 0, sr)
	sus := u.sustain
	for i := range out[0] {
		gate := voice.Gate
		if gateIn {
			gate = in[0][i] > 0.5
		}
		trig := false
		if trigIn {
			t := in[1][i] > 0.5
			trig = t && !env.prevTrig
			env.prevTrig = t
		} else if i == 0 {
			trig = voice.Trigger
		}
		if aIn {
			aG = timeGain(u.attack, in[2][i], sr)
		}
		if dIn {
			dG = timeGain(u.decay, in[3][i], sr)
		}
		if sIn {
			sus = clamp01(u.sustain + in[4][i])
		}
		if rIn {
			rG = timeGain(u.release, in[5][i], sr)
		}
		level, eor, eoc := env.next(gate, trig, aG, dG, sus, rG)
		out[0][i] = level * u.gain
		out[1][i] = eor
		out[2][i] = eoc
	}
}
