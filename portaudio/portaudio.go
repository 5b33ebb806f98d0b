// Package portaudio is an alternative audio backend on top of the portaudio
// cgo bindings, for hosts where the default backend has no device access.
package portaudio

import (
	"fmt"

	pa "github.com/gordonklaus/portaudio"

	"patchcore"
)

type (
	Context struct {
		sampleRate int
		blockSize  int
	}

	// Stream owns a running output stream and the goroutine feeding it.
	Stream struct {
		stream *pa.Stream
		stop   chan struct{}
		done   chan struct{}
	}
)

func NewContext(sampleRate, blockSize int) (*Context, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}
	return &Context{sampleRate: sampleRate, blockSize: blockSize}, nil
}

func (c *Context) Close() error {
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("terminating portaudio: %w", err)
	}
	return nil
}

// Play opens the default output device and starts calling render for one
// block at a time on a dedicated goroutine. render errors end the stream.
func (c *Context) Play(render func(patchcore.AudioBuffer) error) (*Stream, error) {
	left := make([]float32, c.blockSize)
	right := make([]float32, c.blockSize)
	out := [][]float32{left, right}
	stream, err := pa.OpenDefaultStream(0, 2, float64(c.sampleRate), c.blockSize, &out)
	if err != nil {
		return nil, fmt.Errorf("opening portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("starting portaudio stream: %w", err)
	}
	s := &Stream{stream: stream, stop: make(chan struct{}), done: make(chan struct{})}
	buffer := make(patchcore.AudioBuffer, c.blockSize)
	go func() {
		defer close(s.done)
		for {
			select {
			case <-s.stop:
				return
			default:
			}
			if err := render(buffer); err != nil {
				return
			}
			for i, frame := range buffer {
				left[i], right[i] = frame[0], frame[1]
			}
			if err := stream.Write(); err != nil {
				return
			}
		}
	}()
	return s, nil
}

func (s *Stream) Close() error {
	close(s.stop)
	<-s.done
	s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("closing portaudio stream: %w", err)
	}
	return nil
}
