package engine

import (
	"sync"

	"patchcore"
)

type (
	// Voice is one slot of the polyphony pool. Active means the gate is held;
	// a voice keeps sounding after release for as long as its envelopes take
	// to fall, but it is then fair game for stealing.
	Voice struct {
		Active         bool
		Note           byte
		Channel        int
		Velocity       float32
		Trigger        bool // re-attack pulse, cleared by the engine
		StartTimestamp int64
	}

	// VoiceAllocator maps note events onto a fixed pool of voices with
	// deterministic stealing. All methods take a mutex for the duration of a
	// single pass over the pool, so the critical section is bounded by the
	// pool size and never blocks on anything else.
	VoiceAllocator struct {
		mu     sync.Mutex
		voices []Voice
	}
)

func NewVoiceAllocator(numVoices int) *VoiceAllocator {
	if numVoices < 1 {
		numVoices = 1
	}
	if numVoices > patchcore.MaxVoices {
		numVoices = patchcore.MaxVoices
	}
	return &VoiceAllocator{voices: make([]Voice, numVoices)}
}

func (a *VoiceAllocator) NumVoices() int {
	return len(a.voices)
}

// Allocate claims a voice for a note on and returns its index. A voice
// already holding the same note on the same channel is retriggered instead of
// claiming a second one. Otherwise the first inactive voice is taken; with
// all voices held, the one with the smallest start timestamp is stolen, ties
// going to the lowest index. The chosen voice has its trigger flag raised.
func (a *VoiceAllocator) Allocate(note byte, velocity float32, channel int, timestamp int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	chosen := -1
	for i, v := range a.voices {
		if v.Active && v.Note == note && v.Channel == channel {
			chosen = i
			break
		}
		if !v.Active && chosen < 0 {
			chosen = i
		}
	}
	if chosen < 0 {
		oldest := a.voices[0].StartTimestamp
		chosen = 0
		for i, v := range a.voices[1:] {
			if v.StartTimestamp < oldest {
				oldest = v.StartTimestamp
				chosen = i + 1
			}
		}
	}
	a.voices[chosen] = Voice{
		Active:         true,
		Note:           note,
		Channel:        channel,
		Velocity:       velocity,
		Trigger:        true,
		StartTimestamp: timestamp,
	}
	return chosen
}

// Release drops the gate of the voice at index, but only if the voice is
// still active and still holds note. A release for a voice that was stolen in
// the meantime is a stale message and must not cut off the new note.
func (a *VoiceAllocator) Release(index int, note byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index < 0 || index >= len(a.voices) {
		return
	}
	if v := &a.voices[index]; v.Active && v.Note == note {
		v.Active = false
	}
}

// VoiceForNote returns the index of the active voice holding note on channel,
// or ok false when no voice does.
func (a *VoiceAllocator) VoiceForNote(note byte, channel int) (index int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, v := range a.voices {
		if v.Active && v.Note == note && v.Channel == channel {
			return i, true
		}
	}
	return 0, false
}

// Voice returns a copy of the voice at index.
func (a *VoiceAllocator) Voice(index int) Voice {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index < 0 || index >= len(a.voices) {
		return Voice{}
	}
	return a.voices[index]
}

// ClearTrigger lowers the trigger flag of the voice at index. The engine
// calls this once the re-attack pulse has been rendered.
func (a *VoiceAllocator) ClearTrigger(index int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index >= 0 && index < len(a.voices) {
		a.voices[index].Trigger = false
	}
}

// Reset drops all voices immediately.
func (a *VoiceAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.voices)
}
