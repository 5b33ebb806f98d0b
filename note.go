package patchcore

import "math"

// MiddleC is the reference note of the CV convention: NoteCV(MiddleC) == 0.
const MiddleC = 60

// NoteCV converts a MIDI note number to its control voltage representation:
// 1.0 per octave, 0 at note 60. Pure and exact for all 0..127 inputs up to
// float32 rounding.
func NoteCV(note byte) float32 {
	return float32(int(note)-MiddleC) / 12
}

// CVNote is the inverse of NoteCV. Voltages between semitones round to the
// nearest note, with exact half-semitone values rounding up. The result is
// clamped to the MIDI note range 0..127.
func CVNote(cv float32) byte {
	note := MiddleC + int(math.Floor(float64(cv)*12+0.5))
	if note < 0 {
		note = 0
	}
	if note > 127 {
		note = 127
	}
	return byte(note)
}

// NoteEvent is a discrete note event entering the engine, either from a MIDI
// device or from a host. Frame is relative to the start of the current render
// block. Timestamp is the engine's running sample clock at the event, used by
// the allocator to order steal victims.
type NoteEvent struct {
	Frame     int
	On        bool
	Note      byte    // 0..127
	Velocity  float32 // 0..1, meaningful for note on only
	Channel   int     // 1..16
	Timestamp int64
}
