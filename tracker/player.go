package tracker

import (
	"fmt"
	"log"
	"math"
	"time"

	imbolc "github.com/mohsenil85/imbolc-workspace-sub002"
)

type (
	// Player is the control thread of the engine. It owns the voice
	// allocator, the routing and the automation, and it is the only entry
	// point for producers: they call SpawnVoice and ReleaseVoice directly
	// when running on the player goroutine, or send messages through the
	// Broker otherwise.
	//
	// Within every call, all bookkeeping is finished before any message is
	// handed to the backend.
	Player struct {
		backend    imbolc.Backend
		session    *imbolc.Session
		alloc      *Allocator
		routing    *Routing
		automation *Automation
		nodes      nodeIDs
		broker     *Broker
		logger     *log.Logger
		now        func() time.Time

		firstAudioBus int32
		recording     *diskRecording
	}

	PlayerConfig struct {
		Allocator AllocatorConfig
		Logger    *log.Logger
	}
)

// NewPlayer creates a player for session. A nil backend means
// imbolc.NullBackend, a nil broker means a fresh one, and an allocator config
// without a voice ceiling or decay tail means DefaultAllocatorConfig. The
// routing is not built until RebuildRouting.
func NewPlayer(broker *Broker, backend imbolc.Backend, session *imbolc.Session, cfg PlayerConfig) *Player {
	if backend == nil {
		backend = imbolc.NullBackend{}
	}
	if broker == nil {
		broker = NewBroker()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Allocator.MaxVoicesPerInstrument == 0 && cfg.Allocator.DecayTail == 0 {
		clock := cfg.Allocator.Clock
		cfg.Allocator = DefaultAllocatorConfig()
		cfg.Allocator.Clock = clock
	}
	if cfg.Allocator.Clock == nil {
		cfg.Allocator.Clock = time.Now
	}
	p := &Player{
		backend:       backend,
		session:       session,
		alloc:         NewAllocator(cfg.Allocator),
		broker:        broker,
		logger:        cfg.Logger,
		now:           cfg.Allocator.Clock,
		firstAudioBus: cfg.Allocator.FirstAudioBus,
	}
	p.automation = &Automation{
		Session: session,
		Voices:  p.alloc,
		Backend: backend,
		Logger:  cfg.Logger,
	}
	return p
}

func (p *Player) Allocator() *Allocator   { return p.alloc }
func (p *Player) Automation() *Automation { return p.automation }
func (p *Player) Routing() *Routing       { return p.routing }

// RebuildRouting tears down the current node layout, including all voices,
// and creates it again from the session. The control buses of the old layout
// are reused; buses handed out beyond them are synchronized into the
// allocator's watermarks.
func (p *Player) RebuildRouting() {
	p.alloc.DrainAll() // the voices are freed with the root group below
	_, next := p.alloc.Watermarks()
	control := &controlBusSource{next: next}
	if p.routing != nil {
		p.warn("free routing", p.backend.FreeNode(p.routing.Root))
		control.reuse = p.routing.controlBuses
	}
	r, audio, nextControl := buildRouting(p.session, &p.nodes, p.backend, p.firstAudioBus, control, p.warn)
	p.alloc.SyncWatermarks(audio, nextControl)
	p.routing = r
	p.automation.Routing = r
}

// SpawnVoice starts a note. A voice of the same pitch, and if needed the
// best steal candidate, is freed in the same bundle that creates the new
// voice, so the server executes both at offset. The velocity is clamped to
// [0, 1]; a NaN velocity drops the note.
func (p *Player) SpawnVoice(instrument int, pitch uint8, velocity float32, offset imbolc.Offset) {
	instr := p.session.Instrument(instrument)
	nodes, ok := p.routing.Instrument(instrument)
	if instr == nil || !ok || instr.Mute || pitch > 127 {
		return
	}
	if math.IsNaN(float64(velocity)) {
		p.logger.Printf("warning: spawn voice %d/%d: velocity is NaN", instrument, pitch)
		return
	}
	velocity = ClampVelocity(velocity)
	var stolen []imbolc.Voice
	if offset.IsImmediate() {
		stolen = p.alloc.StealVoices(instrument, pitch)
	} else {
		stolen = p.alloc.StealVoicesAt(instrument, pitch, p.now().Add(imbolc.Seconds(float64(offset))))
	}
	v := imbolc.Voice{
		Instrument: instrument,
		Pitch:      pitch,
		Velocity:   velocity,
		GroupID:    p.nodes.mint(),
		MIDINode:   p.nodes.mint(),
		SourceNode: p.nodes.mint(),
		Spawned:    p.now(),
		Channels:   p.alloc.AllocChannels(),
	}
	p.alloc.Add(v)

	msgs := make([]imbolc.Message, 0, len(stolen)+3)
	for _, s := range stolen {
		msgs = append(msgs, imbolc.FreeNodeMessage(s.GroupID))
	}
	msgs = append(msgs,
		imbolc.GroupNewMessage(v.GroupID, imbolc.AddToHead, nodes.Group),
		imbolc.SynthNewMessage(synthDefMIDI, v.MIDINode, v.GroupID, []imbolc.Param{
			imbolc.P("freq", imbolc.NoteFrequency(pitch)),
			imbolc.P("gate", 1),
			imbolc.P("vel", velocity),
			imbolc.P("freq_out", float32(v.Channels.Freq)),
			imbolc.P("gate_out", float32(v.Channels.Gate)),
			imbolc.P("vel_out", float32(v.Channels.Vel)),
		}),
		imbolc.SynthNewMessage(instr.SynthDef, v.SourceNode, v.GroupID, sourceParams(instr, nodes, v)),
	)
	p.warn(fmt.Sprintf("spawn voice %d/%d", instrument, pitch), p.backend.SendBundle(msgs, offset))
}

// ReleaseVoice closes the gate of the sounding voice of pitch. The voice
// stays allocated, and can be stolen, until its release has run out.
func (p *Player) ReleaseVoice(instrument int, pitch uint8, offset imbolc.Offset) {
	release := imbolc.DefaultEnvelope.Release
	if instr := p.session.Instrument(instrument); instr != nil {
		release = instr.Envelope.Release
	}
	// the release only starts once the bundle executes
	d := imbolc.Seconds(float64(release))
	if !offset.IsImmediate() {
		d += imbolc.Seconds(float64(offset))
	}
	v, ok := p.alloc.MarkReleased(instrument, pitch, d)
	if !ok {
		return
	}
	p.warn(fmt.Sprintf("release voice %d/%d", instrument, pitch),
		p.backend.SetParamsBundled(v.MIDINode, []imbolc.Param{imbolc.P("gate", 0)}, offset))
}

// Tick frees the voices whose release has fully decayed. It should be called
// regularly from the player goroutine.
func (p *Player) Tick() {
	p.free("cleanup", p.alloc.CleanupExpired())
}

// Panic stops all voices at once and drops bundles the server has scheduled
// but not yet executed.
func (p *Player) Panic() {
	p.free("panic", p.alloc.DrainAll())
	p.warn("panic", p.backend.SendRaw("/clearSched", nil))
}

// StopInstrument stops all voices of one instrument.
func (p *Player) StopInstrument(instrument int) {
	p.free(fmt.Sprintf("stop instrument %d", instrument), p.alloc.DrainInstrument(instrument))
}

// RemoveGroup forgets the voice living in group and frees the group.
func (p *Player) RemoveGroup(group int32) {
	p.free(fmt.Sprintf("remove group %d", group), p.alloc.RemoveByGroupID(group))
}

// SetMix sets level and pan of an instrument in one message, so the two never
// apply separately. The values are stored in the session; a muted instrument
// keeps its output at zero.
func (p *Player) SetMix(instrument int, level, pan float32) {
	instr := p.session.Instrument(instrument)
	nodes, ok := p.routing.Instrument(instrument)
	if instr == nil || !ok {
		return
	}
	instr.Level, instr.Pan = level, pan
	p.warn(fmt.Sprintf("set mix %d", instrument), p.backend.SetParams(nodes.Output, []imbolc.Param{
		imbolc.P("level", outputLevel(p.session, instr, level)),
		imbolc.P("pan", pan),
	}))
}

// Run processes broker messages and ticks until ClosePlayer is signaled.
// On close all voices are stopped and FinishedPlayer is closed.
func (p *Player) Run(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	defer close(p.broker.FinishedPlayer)
	for {
		select {
		case msg := <-p.broker.ToPlayer:
			p.handle(msg)
		case <-ticker.C:
			p.Tick()
		case <-p.broker.ClosePlayer:
			p.StopRecording()
			p.Panic()
			return
		}
	}
}

// ProcessMessages handles all messages waiting in the broker and returns
// without blocking.
func (p *Player) ProcessMessages() {
	for {
		select {
		case msg := <-p.broker.ToPlayer:
			p.handle(msg)
		default:
			return
		}
	}
}

func (p *Player) handle(msg any) {
	switch m := msg.(type) {
	case NoteOnMsg:
		p.SpawnVoice(m.Instrument, m.Pitch, m.Velocity, m.Offset)
	case NoteOffMsg:
		p.ReleaseVoice(m.Instrument, m.Pitch, m.Offset)
	case AutomationMsg:
		p.automation.ApplyBatch(m.Changes, m.Offset)
	case PanicMsg:
		p.Panic()
	case StopInstrumentMsg:
		p.StopInstrument(m.Instrument)
	case StatusMsg:
		TrySend(m.Reply, p.Status())
	default:
		// ignore unknown messages
	}
}

func (p *Player) free(op string, voices []imbolc.Voice) {
	for _, v := range voices {
		p.warn(op, p.backend.FreeNode(v.GroupID))
	}
}

// warn logs a failed backend call. Failures are not fatal: the next steal or
// cleanup pass brings the server back in line with the bookkeeping.
func (p *Player) warn(op string, err error) {
	if err != nil {
		p.logger.Printf("warning: %s: %v", op, err)
	}
}

func sourceParams(instr *imbolc.Instrument, nodes InstrumentNodes, v imbolc.Voice) []imbolc.Param {
	params := []imbolc.Param{
		imbolc.P("freq_in", float32(v.Channels.Freq)),
		imbolc.P("gate_in", float32(v.Channels.Gate)),
		imbolc.P("vel_in", float32(v.Channels.Vel)),
		imbolc.P("out", float32(nodes.SourceBus)),
		imbolc.P("attack", instr.Envelope.Attack),
		imbolc.P("decay", instr.Envelope.Decay),
		imbolc.P("sustain", instr.Envelope.Sustain),
		imbolc.P("release", instr.Envelope.Release),
	}
	if instr.Source == imbolc.SourceSampler {
		params = append(params, imbolc.P("buf", float32(instr.Buffer)), imbolc.P("rate", 1), imbolc.P("amp", 1))
	}
	return params
}
