package tracker_test

import (
	"io"
	"log"
	"testing"

	imbolc "github.com/mohsenil85/imbolc-workspace-sub002"
	"github.com/mohsenil85/imbolc-workspace-sub002/recording"
	"github.com/mohsenil85/imbolc-workspace-sub002/tracker"
)

const (
	lead    = 1
	sampler = 2
	plain   = 3
	reverb  = 1
)

func testSession() *imbolc.Session {
	return &imbolc.Session{
		MasterLevel: 0.8,
		Instruments: []imbolc.Instrument{
			{
				ID:       lead,
				Source:   imbolc.SourceOscillator,
				SynthDef: "imbolc_oscillator",
				Level:    0.5,
				Envelope: imbolc.Envelope{Attack: 0.01, Decay: 0.1, Sustain: 0.7, Release: 0.5},
				Filter:   &imbolc.Filter{Cutoff: 2000, Resonance: 0.2},
				LFO:      &imbolc.LFO{Rate: 4, Depth: 0.1},
				EQ:       &imbolc.EQ{Bands: []imbolc.EQBand{{Freq: 200, Gain: -3, Q: 1}, {Freq: 4000, Gain: 2, Q: 4}}},
				Effects: []imbolc.Effect{
					{SynthDef: "imbolc_delay", Params: []imbolc.Param{{Name: "time", Value: 0.25}, {Name: "feedback", Value: 0.4}}},
					{SynthDef: "imbolc_plugin", Plugin: true, Unit: 2},
				},
				Sends: []imbolc.Send{{Bus: reverb, Level: 0.3}},
			},
			{
				ID:       sampler,
				Source:   imbolc.SourceSampler,
				SynthDef: "imbolc_sampler",
				Buffer:   10,
				Sample:   "kick.wav",
				Level:    1,
				Envelope: imbolc.DefaultEnvelope,
			},
			{
				ID:       plain,
				Source:   imbolc.SourceOscillator,
				SynthDef: "imbolc_oscillator",
				Level:    1,
				Envelope: imbolc.DefaultEnvelope,
				Mute:     true,
			},
		},
		Buses: []imbolc.Bus{{ID: reverb, Level: 0.9}},
	}
}

type fixture struct {
	player   *tracker.Player
	recorder *recording.Backend
	session  *imbolc.Session
	clock    *fakeClock
}

// newFixture builds a player with its routing on a recording backend. The
// recording is reset after the routing is built.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	rec := recording.New()
	session := testSession()
	cfg := tracker.DefaultAllocatorConfig()
	cfg.Clock = clock.Now
	p := tracker.NewPlayer(nil, imbolc.NewHandle(rec), session, tracker.PlayerConfig{
		Allocator: cfg,
		Logger:    log.New(io.Discard, "", 0),
	})
	p.RebuildRouting()
	rec.Reset()
	return &fixture{player: p, recorder: rec, session: session, clock: clock}
}

func isKind(k recording.OpKind) func(recording.Op) bool {
	return func(op recording.Op) bool { return op.Kind == k }
}
