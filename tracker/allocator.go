package tracker

import (
	"math"
	"slices"
	"time"

	"github.com/viterin/vek/vek32"

	imbolc "github.com/mohsenil85/imbolc-workspace-sub002"
)

type (
	// Allocator is the bookkeeping of the sounding voices and of the pool of
	// control channels they use. It never talks to a backend: every
	// operation that removes voices returns copies of them, and the caller
	// sends the teardown messages.
	//
	// Every control channel triple ever minted is either in the pool, owned
	// by exactly one voice in the allocator, or held for a voice whose
	// teardown the server has not executed yet.
	Allocator struct {
		voices []imbolc.Voice
		pool   []imbolc.ControlChannels
		held   []heldVoice

		nextAudioBus   int32
		nextControlBus int32

		maxVoices int
		decayTail time.Duration
		now       func() time.Time

		scores []float32 // scratch buffer for steal candidate scores
	}

	AllocatorConfig struct {
		// MaxVoicesPerInstrument is the number of non-releasing voices an
		// instrument may have before a new note steals one.
		MaxVoicesPerInstrument int
		// DecayTail is added to a voice's release time before CleanupExpired
		// frees it, so the server's envelope is surely silent.
		DecayTail time.Duration
		// FirstAudioBus and FirstControlBus are the initial watermarks.
		FirstAudioBus   int32
		FirstControlBus int32
		// Clock returns the current time; nil means time.Now.
		Clock func() time.Time
	}

	heldVoice struct {
		voice imbolc.Voice
		until time.Time
	}
)

// Steal scoring. Releasing voices score in [0, releasingWeight], active
// voices score above activeBase, so a releasing voice is always stolen before
// a held one.
const (
	releasingWeight = 999
	activeBase      = 1000
	velocityWeight  = 500
	ageWeight       = 500
)

func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		MaxVoicesPerInstrument: 64,
		DecayTail:              1500 * time.Millisecond,
		FirstAudioBus:          16,
		FirstControlBus:        0,
	}
}

func NewAllocator(cfg AllocatorConfig) *Allocator {
	if cfg.MaxVoicesPerInstrument <= 0 {
		cfg.MaxVoicesPerInstrument = DefaultAllocatorConfig().MaxVoicesPerInstrument
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Allocator{
		nextAudioBus:   cfg.FirstAudioBus,
		nextControlBus: cfg.FirstControlBus,
		maxVoices:      cfg.MaxVoicesPerInstrument,
		decayTail:      cfg.DecayTail,
		now:            cfg.Clock,
	}
}

// AllocChannels pops a control channel triple from the pool, or mints three
// new ids if the pool is empty. Held triples whose time has come are moved
// to the pool first.
func (a *Allocator) AllocChannels() imbolc.ControlChannels {
	a.releaseHeld()
	if n := len(a.pool); n > 0 {
		c := a.pool[n-1]
		a.pool = a.pool[:n-1]
		return c
	}
	c := imbolc.ControlChannels{
		Freq: a.nextControlBus,
		Gate: a.nextControlBus + 1,
		Vel:  a.nextControlBus + 2,
	}
	a.nextControlBus += 3
	return c
}

// ReturnChannels pushes a triple back to the pool. A triple must be returned
// only once.
func (a *Allocator) ReturnChannels(c imbolc.ControlChannels) {
	a.pool = append(a.pool, c)
}

// Add inserts a voice. Its Channels should come from AllocChannels.
func (a *Allocator) Add(v imbolc.Voice) {
	a.voices = append(a.voices, v)
}

// StealVoices makes room for a new note of pitch on instrument and returns
// the removed voices, whose channels are already back in the pool. A voice
// with the same pitch is always removed (retrigger). Then, if the instrument
// still has MaxVoicesPerInstrument or more non-releasing voices, the
// non-releasing voice with the lowest steal score is removed too, so the new
// note never takes the instrument over the ceiling.
func (a *Allocator) StealVoices(instrument int, pitch uint8) []imbolc.Voice {
	stolen := a.steal(instrument, pitch)
	for _, v := range stolen {
		a.ReturnChannels(v.Channels)
	}
	return stolen
}

// StealVoicesAt is StealVoices for a note the server starts at the given
// time. The stolen voices are torn down at that time too and keep reading
// their channels until then, so their triples are held back and only return
// to the pool once the time has passed.
func (a *Allocator) StealVoicesAt(instrument int, pitch uint8, at time.Time) []imbolc.Voice {
	if !at.After(a.now()) {
		return a.StealVoices(instrument, pitch)
	}
	stolen := a.steal(instrument, pitch)
	for _, v := range stolen {
		a.held = append(a.held, heldVoice{voice: v, until: at})
	}
	return stolen
}

func (a *Allocator) steal(instrument int, pitch uint8) []imbolc.Voice {
	var stolen []imbolc.Voice
	for i, v := range a.voices {
		if v.Instrument == instrument && v.Pitch == pitch {
			stolen = append(stolen, a.take(i))
			break
		}
	}
	if a.ActiveCount(instrument) >= a.maxVoices {
		if i, ok := a.stealCandidate(instrument, true); ok {
			stolen = append(stolen, a.take(i))
		}
	}
	return stolen
}

// StealCandidate returns the voice of instrument with the lowest steal
// score, releasing voices included.
func (a *Allocator) StealCandidate(instrument int) (imbolc.Voice, bool) {
	i, ok := a.stealCandidate(instrument, false)
	if !ok {
		return imbolc.Voice{}, false
	}
	return a.voices[i], true
}

// stealCandidate returns the index of the instrument's voice with the lowest
// steal score; on ties, the earliest added.
func (a *Allocator) stealCandidate(instrument int, activeOnly bool) (int, bool) {
	now := a.now()
	a.scores = a.scores[:0]
	indices := make([]int, 0, a.maxVoices+1)
	for i := range a.voices {
		v := &a.voices[i]
		if v.Instrument != instrument || (activeOnly && v.Releasing) {
			continue
		}
		a.scores = append(a.scores, stealScore(v, now))
		indices = append(indices, i)
	}
	if len(indices) == 0 {
		return 0, false
	}
	low := vek32.Min(a.scores)
	if i := slices.Index(a.scores, low); i >= 0 {
		return indices[i], true
	}
	return indices[0], true
}

// stealScore rates how acceptable it is to cut v short; lower is stolen
// first. A releasing voice scores by how much of its release is left; an
// active voice scores higher the louder and younger it is.
func stealScore(v *imbolc.Voice, now time.Time) float32 {
	if v.Releasing {
		progress := 1.0
		if v.ReleaseTime > 0 {
			progress = min(max(float64(now.Sub(v.ReleasedAt))/float64(v.ReleaseTime), 0), 1)
		}
		return float32((1 - progress) * releasingWeight)
	}
	age := max(now.Sub(v.Spawned).Seconds(), 0)
	return float32(activeBase + float64(ClampVelocity(v.Velocity))*velocityWeight + ageWeight/(1+age))
}

// ClampVelocity limits a velocity to [0, 1]. NaN becomes 0.
func ClampVelocity(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	return min(max(v, 0), 1)
}

// MarkReleased puts the first non-releasing voice of instrument with pitch
// into its release phase. It returns a copy of the voice, so the caller can
// still send a gate-off to its nodes.
func (a *Allocator) MarkReleased(instrument int, pitch uint8, releaseTime time.Duration) (imbolc.Voice, bool) {
	for i := range a.voices {
		v := &a.voices[i]
		if v.Instrument == instrument && v.Pitch == pitch && !v.Releasing {
			v.Releasing = true
			v.ReleasedAt = a.now()
			v.ReleaseTime = releaseTime
			return *v, true
		}
	}
	return imbolc.Voice{}, false
}

// CleanupExpired removes the voices whose release started at least
// ReleaseTime + DecayTail ago.
func (a *Allocator) CleanupExpired() []imbolc.Voice {
	now := a.now()
	return a.removeWhere(func(v *imbolc.Voice) bool {
		return v.Releasing && now.Sub(v.ReleasedAt) >= v.ReleaseTime+a.decayTail
	})
}

// DrainAll removes every voice. The voices stolen for notes that have not
// started yet are returned too and their channels go back to the pool, since
// a drain is followed by clearing the server's schedule or freeing the whole
// layout.
func (a *Allocator) DrainAll() []imbolc.Voice {
	removed := a.removeWhere(func(*imbolc.Voice) bool { return true })
	for _, h := range a.held {
		removed = append(removed, h.voice)
		a.ReturnChannels(h.voice.Channels)
	}
	clear(a.held)
	a.held = a.held[:0]
	return removed
}

// DrainInstrument removes every voice of one instrument.
func (a *Allocator) DrainInstrument(instrument int) []imbolc.Voice {
	return a.removeWhere(func(v *imbolc.Voice) bool { return v.Instrument == instrument })
}

// RemoveByGroupID removes the voices living in the given group node.
func (a *Allocator) RemoveByGroupID(group int32) []imbolc.Voice {
	return a.removeWhere(func(v *imbolc.Voice) bool { return v.GroupID == group })
}

// SyncWatermarks is called after the routing has been rebuilt and may have
// handed out buses itself. The audio watermark is taken as is; the control
// watermark only moves forward, since ids below it may sit in the pool.
func (a *Allocator) SyncWatermarks(audioBus, controlBus int32) {
	a.nextAudioBus = audioBus
	if controlBus > a.nextControlBus {
		a.nextControlBus = controlBus
	}
}

// Watermarks returns the next free audio and control bus ids.
func (a *Allocator) Watermarks() (audioBus, controlBus int32) {
	return a.nextAudioBus, a.nextControlBus
}

// Voices returns a copy of all voices, in the order they were added.
func (a *Allocator) Voices() []imbolc.Voice {
	ret := make([]imbolc.Voice, len(a.voices))
	copy(ret, a.voices)
	return ret
}

// VoicesFor returns copies of the voices of one instrument, releasing ones
// included.
func (a *Allocator) VoicesFor(instrument int) []imbolc.Voice {
	var ret []imbolc.Voice
	for _, v := range a.voices {
		if v.Instrument == instrument {
			ret = append(ret, v)
		}
	}
	return ret
}

// ActiveCount is the number of non-releasing voices of instrument.
func (a *Allocator) ActiveCount(instrument int) int {
	n := 0
	for _, v := range a.voices {
		if v.Instrument == instrument && !v.Releasing {
			n++
		}
	}
	return n
}

func (a *Allocator) NumVoices() int { return len(a.voices) }

// PoolSize is the number of control channel triples waiting for reuse.
func (a *Allocator) PoolSize() int { return len(a.pool) }

func (a *Allocator) MaxVoicesPerInstrument() int { return a.maxVoices }

// HeldCount is the number of channel triples held for stolen voices that
// the server still plays.
func (a *Allocator) HeldCount() int { return len(a.held) }

// take removes the voice at i without returning its channels.
func (a *Allocator) take(i int) imbolc.Voice {
	v := a.voices[i]
	a.voices = append(a.voices[:i], a.voices[i+1:]...)
	return v
}

func (a *Allocator) releaseHeld() {
	if len(a.held) == 0 {
		return
	}
	now := a.now()
	kept := a.held[:0]
	for _, h := range a.held {
		if now.Before(h.until) {
			kept = append(kept, h)
		} else {
			a.ReturnChannels(h.voice.Channels)
		}
	}
	clear(a.held[len(kept):])
	a.held = kept
}

// removeWhere keeps the order of the remaining voices.
func (a *Allocator) removeWhere(pred func(*imbolc.Voice) bool) []imbolc.Voice {
	var removed []imbolc.Voice
	kept := a.voices[:0]
	for i := range a.voices {
		if pred(&a.voices[i]) {
			removed = append(removed, a.voices[i])
			a.ReturnChannels(a.voices[i].Channels)
		} else {
			kept = append(kept, a.voices[i])
		}
	}
	clear(a.voices[len(kept):])
	a.voices = kept
	return removed
}
