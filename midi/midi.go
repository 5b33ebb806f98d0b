// Package midi feeds note events from a MIDI input device to the engine,
// through the broker. Messages are translated on the driver's callback
// goroutine and handed over with a non-blocking send, so a stalled engine
// drops events instead of blocking the driver.
package midi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"patchcore"
	"patchcore/rack"
)

type (
	Context struct {
		driver       *rtmididrv.Driver
		broker       *rack.Broker
		sampleRate   int
		currentIn    drivers.In
		stopListen   func()
		inputDevices []Device
		devicesInit  bool
	}

	Device struct {
		context *Context
		in      drivers.In
	}
)

const bendSemitones = 2

// NewContext opens the MIDI driver. A host without one is not an error; the
// context just lists no devices.
func NewContext(broker *rack.Broker, sampleRate int) *Context {
	c := &Context{broker: broker, sampleRate: sampleRate}
	c.driver, _ = rtmididrv.New()
	return c
}

// InputDevices yields the available input devices. The device list is read
// once from the driver and cached.
func (c *Context) InputDevices(yield func(Device) bool) {
	if !c.devicesInit {
		c.devicesInit = true
		if c.driver == nil {
			return
		}
		ins, err := c.driver.Ins()
		if err != nil {
			return
		}
		for _, in := range ins {
			c.inputDevices = append(c.inputDevices, Device{context: c, in: in})
		}
	}
	for _, device := range c.inputDevices {
		if !yield(device) {
			return
		}
	}
}

// TryToOpenBy opens the first input device whose name starts with namePrefix,
// or just the first device when takeFirst is set. Failures are silent; MIDI
// input is optional.
func (c *Context) TryToOpenBy(namePrefix string, takeFirst bool) {
	if namePrefix == "" && !takeFirst {
		return
	}
	for device := range c.InputDevices {
		if takeFirst || strings.HasPrefix(device.String(), namePrefix) {
			device.Open()
			return
		}
	}
}

func (d Device) String() string { return d.in.String() }

// Open starts listening on the device, closing the previously open one.
func (d Device) Open() error {
	c := d.context
	if c.driver == nil {
		return errors.New("no MIDI driver available")
	}
	if c.currentIn == d.in {
		return nil
	}
	c.closeCurrent()
	if err := d.in.Open(); err != nil {
		return fmt.Errorf("opening MIDI input: %w", err)
	}
	stop, err := midi.ListenTo(d.in, c.handleMessage)
	if err != nil {
		d.in.Close()
		return fmt.Errorf("listening to MIDI input: %w", err)
	}
	c.currentIn = d.in
	c.stopListen = stop
	return nil
}

func (c *Context) HasDeviceOpen() bool {
	return c.currentIn != nil && c.currentIn.IsOpen()
}

func (c *Context) Close() {
	c.closeCurrent()
	if c.driver != nil {
		c.driver.Close()
	}
}

func (c *Context) closeCurrent() {
	if c.stopListen != nil {
		c.stopListen()
		c.stopListen = nil
	}
	if c.currentIn != nil && c.currentIn.IsOpen() {
		c.currentIn.Close()
	}
	c.currentIn = nil
}

func (c *Context) handleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity, controller, value uint8
	var rel int16
	var abs uint16
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		rack.TrySend(c.broker.ToEngine, any(patchcore.NoteEvent{
			On:        true,
			Note:      key,
			Velocity:  float32(velocity) / 127,
			Channel:   int(channel) + 1,
			Timestamp: int64(timestampms) * int64(c.sampleRate) / 1000,
		}))
	case msg.GetNoteOff(&channel, &key, &velocity):
		rack.TrySend(c.broker.ToEngine, any(patchcore.NoteEvent{
			Note:      key,
			Channel:   int(channel) + 1,
			Timestamp: int64(timestampms) * int64(c.sampleRate) / 1000,
		}))
	case msg.GetPitchBend(&channel, &rel, &abs):
		rack.TrySend(c.broker.ToEngine, any(rack.BendMsg{
			Semitones: float32(rel) / 8192 * bendSemitones,
		}))
	case msg.GetControlChange(&channel, &controller, &value):
		switch controller {
		case 11: // expression
			rack.TrySend(c.broker.ToEngine, any(rack.ExpressionMsg{Gain: float32(value) / 127}))
		case 120, 123: // all sound off, all notes off
			rack.TrySend(c.broker.ToEngine, any(rack.PanicMsg{}))
		}
	}
}
