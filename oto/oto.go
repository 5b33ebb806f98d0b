// Package oto plays the engine's output through ebitengine/oto. It is the
// default audio backend, portable and cgo free.
package oto

import (
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
)

type (
	Context struct {
		ctx        *oto.Context
		sampleRate int
	}

	Player struct {
		player *oto.Player
	}
)

// NewContext initializes the audio device at the given sample rate and blocks
// until it is ready.
func NewContext(sampleRate int) (*Context, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("creating oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: sampleRate}, nil
}

// Play starts pulling interleaved stereo float32 samples from the reader,
// typically an engine Reader.
func (c *Context) Play(r io.Reader) *Player {
	p := c.ctx.NewPlayer(r)
	p.Play()
	return &Player{player: p}
}

func (p *Player) Close() error {
	if err := p.player.Close(); err != nil {
		return fmt.Errorf("closing oto player: %w", err)
	}
	return nil
}

func (c *Context) Close() error {
	return c.ctx.Suspend()
}
