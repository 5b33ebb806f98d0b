package engine

import (
	"encoding/binary"
	"io"
	"math"

	"patchcore"
)

// Reader returns a stream of interleaved stereo little endian float32
// samples, rendered block by block on demand. This is the shape the audio
// backends consume. The reader returns io.EOF once a close request arrives on
// the broker and signals FinishedEngine; a render error inside a block plays
// as silence, the alert having gone to the control context already.
func (e *Engine) Reader() io.Reader {
	return &blockReader{
		engine: e,
		buffer: make(patchcore.AudioBuffer, e.ctx.BlockSize),
		bytes:  make([]byte, e.ctx.BlockSize*8),
	}
}

type blockReader struct {
	engine *Engine
	buffer patchcore.AudioBuffer
	bytes  []byte
	unread []byte
	closed bool
}

func (r *blockReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.EOF
	}
	if len(r.unread) == 0 {
		select {
		case <-r.engine.broker.CloseEngine:
			close(r.engine.broker.FinishedEngine)
			r.closed = true
			return 0, io.EOF
		default:
		}
		if err := r.engine.Process(r.buffer, nil); err != nil {
			clear(r.buffer)
		}
		for i, smp := range r.buffer {
			binary.LittleEndian.PutUint32(r.bytes[i*8:], math.Float32bits(smp[0]))
			binary.LittleEndian.PutUint32(r.bytes[i*8+4:], math.Float32bits(smp[1]))
		}
		r.unread = r.bytes
	}
	n := copy(p, r.unread)
	r.unread = r.unread[n:]
	return n, nil
}
