package engine

import (
	"testing"

	"github.com/chewxy/math32"

	"patchcore"
)

const testSampleRate float32 = 44100

func TestTimeGainMatchesOnePoleFormula(t *testing.T) {
	var tests = []struct {
		x  float32
		ms float32
	}{
		{0, 0.1},
		{0.5, 31.622778}, // sqrt(0.1 * 10000)
		{1, 10000},
	}
	for _, tt := range tests {
		want := 1 - math32.Exp(-1/(tt.ms*0.001*testSampleRate))
		got := timeGain(tt.x, 0, testSampleRate)
		if diff := math32.Abs(got - want); diff > 1e-6 {
			t.Errorf("timeGain(%v) got %v, want %v", tt.x, got, want)
		}
	}
}

func TestTimeGainClampsBelowFloor(t *testing.T) {
	if got, want := timeGain(0, -5, testSampleRate), timeGain(0, 0, testSampleRate); got != want {
		t.Errorf("negative CV got below the time floor: %v vs %v", got, want)
	}
}

func TestEnvelopeFirstAttackSample(t *testing.T) {
	var env Envelope
	aG := timeGain(0.25, 0, testSampleRate)
	level, _, _ := env.next(true, true, aG, 0.1, 0.5, 0.1)
	if level != aG {
		t.Errorf("first sample from zero got %v, want the attack gain %v", level, aG)
	}
}

func TestEnvelopeStageWalk(t *testing.T) {
	var env Envelope
	fast := timeGain(0, 0, testSampleRate)
	const sustain = 0.5
	if env.Stage() != stageIdle {
		t.Fatalf("fresh envelope not idle")
	}
	step := func(gate bool, trigger bool) (level, eor, eoc float32) {
		return env.next(gate, trigger, fast, fast, sustain, fast)
	}
	step(true, true)
	if env.Stage() != stageAttack {
		t.Fatalf("trigger did not start the attack")
	}
	eorSamples := 0
	for i := 0; env.Stage() == stageAttack || eorSamples > 0 && eorSamples < envPulseLen; i++ {
		if i > 1000 {
			t.Fatalf("attack did not complete")
		}
		if _, eor, _ := step(true, false); eor == 1 {
			eorSamples++
		}
	}
	if eorSamples != envPulseLen {
		t.Errorf("end-of-rise pulse lasted %v samples, want %v", eorSamples, envPulseLen)
	}
	for i := 0; env.Stage() == stageDecay; i++ {
		if i > 1000 {
			t.Fatalf("decay did not complete")
		}
		step(true, false)
	}
	if env.Stage() != stageSustain {
		t.Fatalf("decay did not land on sustain, stage %v", env.Stage())
	}
	if level, _, _ := step(true, false); level != sustain {
		t.Errorf("sustain level got %v, want %v", level, sustain)
	}
	step(false, false)
	if env.Stage() != stageRelease {
		t.Fatalf("gate drop did not start the release")
	}
	eocSamples := 0
	for i := 0; env.Stage() == stageRelease || eocSamples > 0 && eocSamples < envPulseLen; i++ {
		if i > 1000 {
			t.Fatalf("release did not complete")
		}
		if _, _, eoc := step(false, false); eoc == 1 {
			eocSamples++
		}
	}
	if eocSamples != envPulseLen {
		t.Errorf("end-of-cycle pulse lasted %v samples, want %v", eocSamples, envPulseLen)
	}
	if env.Stage() != stageIdle || env.Level() != 0 {
		t.Errorf("envelope did not end idle at zero: stage %v level %v", env.Stage(), env.Level())
	}
}

func TestEnvelopeRetriggersFromCurrentLevel(t *testing.T) {
	var env Envelope
	slow := timeGain(0.5, 0, testSampleRate)
	env.next(true, true, slow, slow, 0.5, slow)
	for i := 0; i < 100; i++ {
		env.next(true, false, slow, slow, 0.5, slow)
	}
	before := env.Level()
	if before <= 0 {
		t.Fatalf("attack made no progress")
	}
	level, _, _ := env.next(true, true, slow, slow, 0.5, slow)
	if level < before {
		t.Errorf("retrigger dropped the level from %v to %v", before, level)
	}
}

func TestEnvelopeReleaseRetrigger(t *testing.T) {
	var env Envelope
	fast := timeGain(0, 0, testSampleRate)
	slow := timeGain(0.8, 0, testSampleRate)
	env.next(true, true, fast, fast, 1, slow)
	for i := 0; env.Stage() != stageSustain; i++ {
		if i > 1000 {
			t.Fatalf("did not reach sustain")
		}
		env.next(true, false, fast, fast, 1, slow)
	}
	env.next(false, false, fast, fast, 1, slow)
	if env.Stage() != stageRelease {
		t.Fatalf("not releasing")
	}
	mid := env.Level()
	env.next(true, false, fast, fast, 1, slow)
	if env.Stage() != stageAttack {
		t.Errorf("gate during release did not restart the attack")
	}
	if env.Level() < mid {
		t.Errorf("restart from release dropped the level")
	}
}

func TestEnvelopeUnitRenderUnpatched(t *testing.T) {
	u := NewEnvelopeUnit(map[string]int{"attack": 32, "decay": 64, "sustain": 64, "release": 64, "gain": 64})
	ctx := patchcore.RenderContext{SampleRate: int(testSampleRate), BlockSize: 8}
	voice := patchcore.VoiceSignals{Index: 3, Gate: true, Trigger: true}
	in := make([][]float32, patchcore.NumInputs(patchcore.KindEnvelope))
	for i := range in {
		in[i] = make([]float32, 8)
	}
	out := make([][]float32, patchcore.NumOutputs(patchcore.KindEnvelope))
	for i := range out {
		out[i] = make([]float32, 8)
	}
	u.Render(ctx, &voice, in, out)
	aG := timeGain(0.25, 0, testSampleRate)
	if want := aG * 0.5; math32.Abs(out[0][0]-want) > 1e-6 {
		t.Errorf("first output sample got %v, want %v", out[0][0], want)
	}
	if !u.VoiceSounding(3) {
		t.Errorf("voice 3 not sounding after a gated render")
	}
	if u.VoiceSounding(0) {
		t.Errorf("voice 0 sounding without ever rendering")
	}
	if u.Level() <= 0 {
		t.Errorf("meter level still zero after a gated render")
	}
}

func TestEnvelopeUnitGateInputOverridesVoice(t *testing.T) {
	// without a bound query the gate input counts as unpatched, so the unit
	// must follow the voice gate and ignore the input buffer contents
	u := NewEnvelopeUnit(nil)
	ctx := patchcore.RenderContext{SampleRate: int(testSampleRate), BlockSize: 4}
	voice := patchcore.VoiceSignals{Index: 0, Gate: false}
	in := make([][]float32, patchcore.NumInputs(patchcore.KindEnvelope))
	for i := range in {
		in[i] = make([]float32, 4)
		for j := range in[i] {
			in[i][j] = 1 // would open the gate if the input were honored
		}
	}
	out := make([][]float32, patchcore.NumOutputs(patchcore.KindEnvelope))
	for i := range out {
		out[i] = make([]float32, 4)
	}
	u.Render(ctx, &voice, in, out)
	for i, v := range out[0] {
		if v != 0 {
			t.Fatalf("sample %v is %v; unpatched gate leaked from the input buffer", i, v)
		}
	}
}
