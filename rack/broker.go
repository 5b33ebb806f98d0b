package rack

import (
	"sync"
	"time"

	"patchcore"
)

type (
	// Broker is the channel fabric between the control context, the render
	// engine and any frontend. Communication is many-to-one, one channel per
	// recipient, and every send on the render path is non-blocking via
	// TrySend. The broker also keeps a sync.Pool of audio buffers so blocks
	// can be passed around without allocating on every render call.
	//
	// For closing goroutines there is a CloseXXX/FinishedXXX channel pair
	// per goroutine: CloseXXX has capacity 1 so requesting closure never
	// blocks (a full channel means someone already asked), and FinishedXXX
	// is closed by the goroutine when it has cleaned up.
	Broker struct {
		ToEngine  chan any
		ToControl chan MsgToControl

		CloseEngine    chan struct{}
		FinishedEngine chan struct{}

		bufferPool sync.Pool
	}

	// MsgToControl is a message from the engine to the control context. The
	// frequently sent voice levels are not boxed, to avoid allocations;
	// infrequent payloads travel in Data.
	MsgToControl struct {
		HasVoiceLevels bool
		VoiceLevels    [patchcore.MaxVoices]float32

		Data any
	}

	// RebuildMsg tells the engine that the rack's unit set changed and its
	// render tables must be rebuilt.
	RebuildMsg struct{}

	// PanicMsg tells the engine to silence everything and reset all voices.
	PanicMsg struct{}

	// BendMsg sets the engine's global pitch bend, in semitones.
	BendMsg struct{ Semitones float32 }

	// ExpressionMsg sets the engine's master gain trim, 0..1.
	ExpressionMsg struct{ Gain float32 }
)

func NewBroker() *Broker {
	return &Broker{
		ToEngine:       make(chan any, 1024),
		ToControl:      make(chan MsgToControl, 1024),
		CloseEngine:    make(chan struct{}, 1),
		FinishedEngine: make(chan struct{}),
		bufferPool:     sync.Pool{New: func() any { return &patchcore.AudioBuffer{} }},
	}
}

// GetAudioBuffer returns an empty audio buffer from the pool. Return it with
// PutAudioBuffer when done.
func (b *Broker) GetAudioBuffer() *patchcore.AudioBuffer {
	return b.bufferPool.Get().(*patchcore.AudioBuffer)
}

// PutAudioBuffer returns a buffer to the pool, resetting its length but
// keeping its capacity.
func (b *Broker) PutAudioBuffer(buf *patchcore.AudioBuffer) {
	if len(*buf) > 0 {
		*buf = (*buf)[:0]
	}
	b.bufferPool.Put(buf)
}

// TrySend sends v to c if the channel has room. Guaranteed non-blocking;
// returns false if the value was dropped.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive blocks until a value arrives or the timeout passes. ok is
// false on timeout or when the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
