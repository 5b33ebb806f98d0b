package engine

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/viterin/vek/vek32"

	"patchcore"
	"patchcore/rack"
)

type (
	// Engine renders the rack. Process is meant to be called from a single
	// goroutine, typically the audio callback; everything the engine shares
	// with the control context goes through the rack, the broker or an
	// atomic, so Process never takes a lock other than the allocator's and
	// the rack's bounded ones.
	//
	// Units render in rack slot order, one voice at a time. A connection
	// running against that order reads silence for the current segment;
	// feedback loops are not supported.
	Engine struct {
		broker *rack.Broker
		rack   *rack.Rack
		diag   *rack.DedupReporter
		alloc  *VoiceAllocator
		ctx    patchcore.RenderContext

		bend       atomic.Uint32 // pitch bend in semitones, float32 bits
		expression atomic.Uint32 // master gain trim 0..1, float32 bits

		slots       []renderSlot
		sounders    []voiceSounder
		envSlot     int
		preclear    []bufRef
		tableOK     bool
		snapVersion int64

		master      [2][]float32
		pending     []patchcore.NoteEvent
		voiceLevels [patchcore.MaxVoices]float32
		clock       int64
	}

	renderSlot struct {
		id      patchcore.LogicalID
		unit    patchcore.Unit
		in, out [][]float32 // block sized backing buffers

		// per segment reslices of the backing buffers, passed to Render
		inView, outView [][]float32

		sources [][]bufRef // per input channel, the outputs feeding it
	}

	bufRef struct{ slot, channel int }

	voiceSounder interface{ VoiceSounding(v int) bool }
)

func New(broker *rack.Broker, r *rack.Rack, numVoices int, ctx patchcore.RenderContext) *Engine {
	if ctx.SampleRate <= 0 {
		ctx.SampleRate = 44100
	}
	if ctx.BlockSize <= 0 {
		ctx.BlockSize = 512
	}
	e := &Engine{
		broker:      broker,
		rack:        r,
		diag:        rack.NewDedupReporter(broker),
		alloc:       NewVoiceAllocator(numVoices),
		ctx:         ctx,
		envSlot:     -1,
		snapVersion: -1,
	}
	e.master[0] = make([]float32, ctx.BlockSize)
	e.master[1] = make([]float32, ctx.BlockSize)
	e.expression.Store(math.Float32bits(1))
	return e
}

func (e *Engine) Allocator() *VoiceAllocator       { return e.alloc }
func (e *Engine) Context() patchcore.RenderContext { return e.ctx }
func (e *Engine) Clock() int64                     { return e.clock }

// SetPitchBend sets the global pitch bend, in semitones, added to the pitch
// CV of every voice. Safe to call from any goroutine.
func (e *Engine) SetPitchBend(semitones float32) {
	e.bend.Store(math.Float32bits(semitones))
}

// SetExpression sets the master gain trim, 0..1. Safe to call from any
// goroutine.
func (e *Engine) SetExpression(gain float32) {
	e.expression.Store(math.Float32bits(clamp01(gain)))
}

// Process renders len(buffer) frames into buffer, applying events at their
// frame offsets. Events must be ordered by frame; frames outside the buffer
// are clamped. A panic inside a unit is recovered: the engine resets its
// units, reports an alert and returns the panic as an error, leaving the
// stream itself alive.
func (e *Engine) Process(buffer patchcore.AudioBuffer, events []patchcore.NoteEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("render: %v", p)
			e.resetUnits()
			rack.TrySend(e.broker.ToControl, rack.MsgToControl{Data: rack.Alert{
				Name:     "RenderPanic",
				Priority: rack.Error,
				Message:  fmt.Sprintf("render panicked: %v", p),
			}})
		}
	}()
	e.pending = e.pending[:0]
	e.drainMessages()
	e.pending = append(e.pending, events...)
	sortEvents(e.pending)
	if !e.tableOK {
		e.rebuildTables()
	}
	snap := e.rack.Snapshot()
	var ver int64
	if snap != nil {
		ver = snap.Version
	}
	if ver != e.snapVersion {
		e.refreshSources(snap)
	}
	frame, evIdx := 0, 0
	for frame < len(buffer) {
		for evIdx < len(e.pending) && max(e.pending[evIdx].Frame, 0) <= frame {
			e.applyEvent(e.pending[evIdx], frame)
			evIdx++
		}
		end := min(frame+e.ctx.BlockSize, len(buffer))
		if evIdx < len(e.pending) {
			end = min(end, e.pending[evIdx].Frame)
		}
		e.renderSegment(buffer, frame, end-frame)
		frame = end
	}
	for ; evIdx < len(e.pending); evIdx++ {
		e.applyEvent(e.pending[evIdx], len(buffer))
	}
	e.clock += int64(len(buffer))
	rack.TrySend(e.broker.ToControl, rack.MsgToControl{HasVoiceLevels: true, VoiceLevels: e.voiceLevels})
	return nil
}

func (e *Engine) drainMessages() {
	for {
		select {
		case msg := <-e.broker.ToEngine:
			switch m := msg.(type) {
			case rack.RebuildMsg:
				e.tableOK = false
			case rack.PanicMsg:
				e.alloc.Reset()
				e.resetUnits()
			case rack.BendMsg:
				e.bend.Store(math.Float32bits(m.Semitones))
			case rack.ExpressionMsg:
				e.expression.Store(math.Float32bits(clamp01(m.Gain)))
			case patchcore.NoteEvent:
				e.pending = append(e.pending, m)
			}
		default:
			return
		}
	}
}

func (e *Engine) applyEvent(ev patchcore.NoteEvent, frame int) {
	ts := ev.Timestamp
	if ts == 0 {
		ts = e.clock + int64(frame)
	}
	if ev.On {
		e.alloc.Allocate(ev.Note, ev.Velocity, ev.Channel, ts)
	} else if idx, ok := e.alloc.VoiceForNote(ev.Note, ev.Channel); ok {
		e.alloc.Release(idx, ev.Note)
	}
}

// rebuildTables recreates the render slots from the rack's live unit set and
// rebinds the port queries. Only called on the render goroutine, triggered by
// a rebuild message; allocation is acceptable here as unit edits are rare and
// originate from the user.
func (e *Engine) rebuildTables() {
	e.slots = e.slots[:0]
	e.sounders = e.sounders[:0]
	e.envSlot = -1
	e.rack.Each(func(id patchcore.LogicalID, u patchcore.Unit) bool {
		kind := u.Kind()
		nIn, nOut := patchcore.NumInputs(kind), patchcore.NumOutputs(kind)
		e.slots = append(e.slots, renderSlot{
			id:      id,
			unit:    u,
			in:      makeBufs(nIn, e.ctx.BlockSize),
			out:     makeBufs(nOut, e.ctx.BlockSize),
			inView:  make([][]float32, nIn),
			outView: make([][]float32, nOut),
			sources: make([][]bufRef, nIn),
		})
		return true
	})
	for i := range e.slots {
		u := e.slots[i].unit
		if b, ok := u.(queryBinder); ok {
			b.bindQuery(rack.NewPortQuery(u, e.rack, e.diag))
		}
		if vs, ok := u.(voiceSounder); ok {
			e.sounders = append(e.sounders, vs)
			if e.envSlot < 0 {
				e.envSlot = i
			}
		}
	}
	e.diag.Reset()
	e.snapVersion = -1
	e.tableOK = true
}

// refreshSources resolves the snapshot's connections to buffer references.
// Connections whose endpoints are not in the render table are skipped; they
// belong to units removed since the table was built and a rebuild message is
// already on its way.
func (e *Engine) refreshSources(snap *patchcore.ConnectionSnapshot) {
	for i := range e.slots {
		for c := range e.slots[i].sources {
			e.slots[i].sources[c] = e.slots[i].sources[c][:0]
		}
	}
	e.preclear = e.preclear[:0]
	e.snapVersion = 0
	if snap == nil {
		return
	}
	for _, c := range snap.Connections {
		si, di := e.findSlot(c.From), e.findSlot(c.To)
		if si < 0 || di < 0 {
			continue
		}
		if c.FromChannel < 0 || c.FromChannel >= len(e.slots[si].out) {
			continue
		}
		if c.ToChannel < 0 || c.ToChannel >= len(e.slots[di].sources) {
			continue
		}
		e.slots[di].sources[c.ToChannel] = append(e.slots[di].sources[c.ToChannel], bufRef{si, c.FromChannel})
		if si >= di {
			// read before written this voice; cleared at voice start so the
			// edge reads silence instead of the previous voice's samples
			e.preclear = append(e.preclear, bufRef{si, c.FromChannel})
		}
	}
	e.snapVersion = snap.Version
}

func (e *Engine) findSlot(id patchcore.LogicalID) int {
	for i := range e.slots {
		if e.slots[i].id == id {
			return i
		}
	}
	return -1
}

func (e *Engine) renderSegment(buffer patchcore.AudioBuffer, offset, n int) {
	if n <= 0 {
		return
	}
	left, right := e.master[0][:n], e.master[1][:n]
	clear(left)
	clear(right)
	bend := math.Float32frombits(e.bend.Load())
	for v := 0; v < e.alloc.NumVoices(); v++ {
		voice := e.alloc.Voice(v)
		if !voice.Active && !voice.Trigger && !e.voiceSounding(v) {
			e.voiceLevels[v] = 0
			continue
		}
		vs := patchcore.VoiceSignals{
			Index:    v,
			Gate:     voice.Active,
			Trigger:  voice.Trigger,
			NoteCV:   patchcore.NoteCV(voice.Note) + bend/12,
			Velocity: voice.Velocity,
		}
		for _, ref := range e.preclear {
			clear(e.slots[ref.slot].out[ref.channel][:n])
		}
		for si := range e.slots {
			s := &e.slots[si]
			for c := range s.in {
				buf := s.in[c][:n]
				clear(buf)
				for _, ref := range s.sources[c] {
					vek32.Add_Inplace(buf, e.slots[ref.slot].out[ref.channel][:n])
				}
				s.inView[c] = buf
			}
			for c := range s.out {
				s.outView[c] = s.out[c][:n]
			}
			if o, ok := s.unit.(*OutUnit); ok {
				o.left, o.right = left, right
			}
			s.unit.Render(e.ctx, &vs, s.inView, s.outView)
		}
		if e.envSlot >= 0 {
			e.voiceLevels[v] = e.slots[e.envSlot].out[0][n-1]
		}
		if voice.Trigger {
			e.alloc.ClearTrigger(v)
		}
	}
	gain := math.Float32frombits(e.expression.Load())
	for i := 0; i < n; i++ {
		buffer[offset+i][0] = left[i] * gain
		buffer[offset+i][1] = right[i] * gain
	}
}

func (e *Engine) voiceSounding(v int) bool {
	for _, s := range e.sounders {
		if s.VoiceSounding(v) {
			return true
		}
	}
	return false
}

func (e *Engine) resetUnits() {
	for i := range e.slots {
		if r, ok := e.slots[i].unit.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
}

// sortEvents is a stable in-place insertion sort by frame; event lists are
// short and this keeps the render path free of allocations.
func sortEvents(events []patchcore.NoteEvent) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Frame < events[j-1].Frame; j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

func makeBufs(n, size int) [][]float32 {
	bufs := make([][]float32, n)
	for i := range bufs {
		bufs[i] = make([]float32, size)
	}
	return bufs
}
