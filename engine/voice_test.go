package engine_test

import (
	"testing"

	"patchcore/engine"
)

func TestAllocateFillsFreeVoicesFirst(t *testing.T) {
	a := engine.NewVoiceAllocator(3)
	if got := a.Allocate(60, 1, 1, 100); got != 0 {
		t.Errorf("first Allocate got voice %v, want 0", got)
	}
	if got := a.Allocate(62, 1, 1, 101); got != 1 {
		t.Errorf("second Allocate got voice %v, want 1", got)
	}
	if got := a.Allocate(64, 1, 1, 102); got != 2 {
		t.Errorf("third Allocate got voice %v, want 2", got)
	}
}

func TestAllocateStealsOldest(t *testing.T) {
	a := engine.NewVoiceAllocator(2)
	a.Allocate(60, 1, 1, 200)
	a.Allocate(62, 1, 1, 100) // older start despite later call
	if got := a.Allocate(64, 1, 1, 300); got != 1 {
		t.Errorf("steal got voice %v, want 1 (the oldest)", got)
	}
	if v := a.Voice(1); v.Note != 64 || !v.Active || !v.Trigger {
		t.Errorf("stolen voice not retriggered with the new note: %+v", v)
	}
	if v := a.Voice(0); v.Note != 60 {
		t.Errorf("untouched voice changed: %+v", v)
	}
}

func TestAllocateStealTiesGoToLowestIndex(t *testing.T) {
	a := engine.NewVoiceAllocator(3)
	a.Allocate(60, 1, 1, 50)
	a.Allocate(62, 1, 1, 50)
	a.Allocate(64, 1, 1, 50)
	if got := a.Allocate(65, 1, 1, 60); got != 0 {
		t.Errorf("tie break got voice %v, want 0", got)
	}
}

func TestAllocateSameNoteRetriggers(t *testing.T) {
	a := engine.NewVoiceAllocator(4)
	first := a.Allocate(60, 0.5, 1, 10)
	a.ClearTrigger(first)
	again := a.Allocate(60, 0.9, 1, 20)
	if again != first {
		t.Errorf("same note allocated a second voice: %v then %v", first, again)
	}
	if v := a.Voice(first); !v.Trigger || v.Velocity != 0.9 || v.StartTimestamp != 20 {
		t.Errorf("retriggered voice not refreshed: %+v", v)
	}
	if _, ok := a.VoiceForNote(60, 2); ok {
		t.Errorf("VoiceForNote matched across channels")
	}
}

func TestStaleReleaseIsNoOp(t *testing.T) {
	a := engine.NewVoiceAllocator(1)
	a.Allocate(60, 1, 1, 10)
	a.Allocate(62, 1, 1, 20) // steals the only voice
	a.Release(0, 60)         // stale: the voice now holds 62
	if v := a.Voice(0); !v.Active || v.Note != 62 {
		t.Errorf("stale release cut off the new note: %+v", v)
	}
	a.Release(0, 62)
	if v := a.Voice(0); v.Active {
		t.Errorf("matching release did not drop the gate: %+v", v)
	}
}

func TestReleaseOutOfRange(t *testing.T) {
	a := engine.NewVoiceAllocator(2)
	a.Release(-1, 60)
	a.Release(5, 60) // must not panic
}

func TestVoiceForNote(t *testing.T) {
	a := engine.NewVoiceAllocator(3)
	a.Allocate(60, 1, 1, 10)
	idx := a.Allocate(62, 1, 1, 11)
	if got, ok := a.VoiceForNote(62, 1); !ok || got != idx {
		t.Errorf("VoiceForNote(62) got %v, %v", got, ok)
	}
	a.Release(idx, 62)
	if _, ok := a.VoiceForNote(62, 1); ok {
		t.Errorf("VoiceForNote matched a released voice")
	}
}

func TestResetDropsAllVoices(t *testing.T) {
	a := engine.NewVoiceAllocator(2)
	a.Allocate(60, 1, 1, 10)
	a.Allocate(62, 1, 1, 11)
	a.Reset()
	for i := 0; i < a.NumVoices(); i++ {
		if v := a.Voice(i); v.Active || v.Trigger {
			t.Errorf("voice %v still live after Reset: %+v", i, v)
		}
	}
}
