package tracker_test

import (
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	imbolc "github.com/mohsenil85/imbolc-workspace-sub002"
	"github.com/mohsenil85/imbolc-workspace-sub002/recording"
	"github.com/mohsenil85/imbolc-workspace-sub002/tracker"
)

func TestRebuildRoutingLayout(t *testing.T) {
	f := newFixture(t)
	r := f.player.Routing()
	nodes, ok := r.Instrument(lead)
	if !ok {
		t.Fatalf("no nodes for instrument %v", lead)
	}
	if nodes.Filter == 0 || nodes.LFO == 0 || nodes.EQ == 0 || len(nodes.Effects) != 2 || len(nodes.Sends) != 1 || nodes.Output == 0 {
		t.Fatalf("incomplete chain %+v", nodes)
	}
	s, _ := r.Instrument(sampler)
	if s.Filter != 0 || s.LFO != 0 || s.EQ != 0 || s.Output == 0 {
		t.Fatalf("sampler should only have an output stage: %+v", s)
	}
	if _, ok := r.Bus(reverb); !ok {
		t.Fatalf("no nodes for bus %v", reverb)
	}
	// one bus and three instruments, two channels each, from 16; one LFO
	audio, control := f.player.Allocator().Watermarks()
	if audio != 24 || control != 1 {
		t.Fatalf("watermarks after routing: got %v/%v, expected 24/1", audio, control)
	}
}

func TestRebuildRoutingFreesPreviousLayout(t *testing.T) {
	f := newFixture(t)
	old := f.player.Routing()
	f.player.SpawnVoice(lead, 60, 1, imbolc.Immediate)
	f.player.RebuildRouting()
	freed := f.recorder.NodesFreed()
	if len(freed) != 1 || freed[0] != old.Root {
		t.Fatalf("expected the old root %v to be freed, got %v", old.Root, freed)
	}
	if f.player.Allocator().NumVoices() != 0 {
		t.Fatalf("voices survived a routing rebuild")
	}
	if f.player.Routing().Root <= old.Root {
		t.Fatalf("node id %v reused after %v", f.player.Routing().Root, old.Root)
	}
	if f.player.Automation().Routing != f.player.Routing() {
		t.Fatalf("automation still resolves against the old routing")
	}
	// the LFO keeps its control bus; the voice's triple stays allocated
	if _, control := f.player.Allocator().Watermarks(); control != 4 {
		t.Fatalf("control watermark: got %v, expected 4", control)
	}
	oldLead, _ := old.Instrument(lead)
	newLead, _ := f.player.Routing().Instrument(lead)
	if newLead.LFOBus != oldLead.LFOBus {
		t.Fatalf("LFO bus moved from %v to %v", oldLead.LFOBus, newLead.LFOBus)
	}
}

func TestRebuildRoutingKeepsControlWatermark(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.player.RebuildRouting()
	}
	if _, control := f.player.Allocator().Watermarks(); control != 1 {
		t.Fatalf("control watermark after rebuilds: got %v, expected 1", control)
	}
}

func TestSpawnVoiceSendsOneBundle(t *testing.T) {
	f := newFixture(t)
	f.player.SpawnVoice(lead, 69, 0.5, 0.1)
	ops := f.recorder.Operations()
	if len(ops) != 1 || ops[0].Kind != recording.SendBundle || ops[0].Offset != 0.1 {
		t.Fatalf("expected one bundle at offset 0.1, got %+v", ops)
	}
	voices := f.player.Allocator().Voices()
	if len(voices) != 1 {
		t.Fatalf("expected one voice, got %v", voices)
	}
	v := voices[0]
	nodes, _ := f.player.Routing().Instrument(lead)
	msgs := ops[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %v", msgs)
	}
	if want := imbolc.GroupNewMessage(v.GroupID, imbolc.AddToHead, nodes.Group); !reflect.DeepEqual(msgs[0], want) {
		t.Fatalf("group message: got %v, expected %v", msgs[0], want)
	}
	synths := f.recorder.SynthsCreated()
	if len(synths) != 2 || synths[0].Def != "imbolc_midi" || synths[1].Def != "imbolc_oscillator" {
		t.Fatalf("unexpected synths %+v", synths)
	}
	if synths[0].ID != v.MIDINode || synths[1].ID != v.SourceNode || synths[0].Group != v.GroupID || synths[1].Group != v.GroupID {
		t.Fatalf("synths not placed in the voice group: %+v", synths)
	}
	midi := params(synths[0].Params)
	if midi["freq"] != 440 || midi["gate"] != 1 || midi["vel"] != 0.5 || midi["gate_out"] != float32(v.Channels.Gate) {
		t.Fatalf("unexpected control synth params %v", midi)
	}
	source := params(synths[1].Params)
	if source["freq_in"] != float32(v.Channels.Freq) || source["out"] != float32(nodes.SourceBus) || source["release"] != 0.5 {
		t.Fatalf("unexpected source synth params %v", source)
	}
	if _, ok := source["buf"]; ok {
		t.Fatalf("oscillator voice got a buffer")
	}
}

func TestSpawnSamplerVoice(t *testing.T) {
	f := newFixture(t)
	f.player.SpawnVoice(sampler, 36, 1, imbolc.Immediate)
	synths := f.recorder.SynthsCreated()
	if len(synths) != 2 {
		t.Fatalf("expected two synths, got %+v", synths)
	}
	if p := params(synths[1].Params); p["buf"] != 10 || p["rate"] != 1 || p["amp"] != 1 {
		t.Fatalf("unexpected sampler params %v", p)
	}
}

func TestSpawnRetriggerFreesOldVoiceInSameBundle(t *testing.T) {
	f := newFixture(t)
	f.player.SpawnVoice(lead, 60, 1, imbolc.Immediate)
	first := f.player.Allocator().Voices()[0]
	f.recorder.Reset()
	f.player.SpawnVoice(lead, 60, 1, imbolc.Immediate)
	ops := f.recorder.Operations()
	if len(ops) != 1 || len(ops[0].Messages) != 4 {
		t.Fatalf("expected one bundle of 4 messages, got %+v", ops)
	}
	if want := imbolc.FreeNodeMessage(first.GroupID); !reflect.DeepEqual(ops[0].Messages[0], want) {
		t.Fatalf("first message: got %v, expected %v", ops[0].Messages[0], want)
	}
	voices := f.player.Allocator().Voices()
	if len(voices) != 1 || voices[0].GroupID == first.GroupID {
		t.Fatalf("unexpected voices after retrigger %+v", voices)
	}
	if voices[0].Channels != first.Channels {
		t.Fatalf("retriggered voice did not reuse the freed channels")
	}
}

// A note scheduled ahead retriggers a voice; until the bundle runs, the old
// voice still reads its channels, so a note played right now must not get
// them.
func TestScheduledStealHoldsChannels(t *testing.T) {
	f := newFixture(t)
	f.player.SpawnVoice(lead, 60, 1, imbolc.Immediate)
	first := f.player.Allocator().Voices()[0]
	f.player.SpawnVoice(lead, 60, 1, 0.2)
	f.recorder.Reset()
	f.player.SpawnVoice(lead, 61, 1, imbolc.Immediate)
	synths := f.recorder.SynthsCreated()
	if len(synths) != 2 {
		t.Fatalf("expected two synths, got %+v", synths)
	}
	if got := params(synths[0].Params)["freq_out"]; got == float32(first.Channels.Freq) {
		t.Fatalf("new voice writes freq bus %v, which the scheduled-off voice still reads", got)
	}
	f.clock.Advance(250 * time.Millisecond)
	f.recorder.Reset()
	f.player.SpawnVoice(lead, 62, 1, imbolc.Immediate)
	if got := params(f.recorder.SynthsCreated()[0].Params)["freq_out"]; got != float32(first.Channels.Freq) {
		t.Fatalf("freq bus after the bundle ran: got %v, expected %v", got, first.Channels.Freq)
	}
}

func TestSpawnVelocity(t *testing.T) {
	tests := []struct {
		name     string
		velocity float32
		want     float32
	}{
		{"InRange", 0.25, 0.25},
		{"Loud", 1.7, 1},
		{"Negative", -1.5, 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			f.player.SpawnVoice(lead, 60, test.velocity, imbolc.Immediate)
			voices := f.player.Allocator().Voices()
			if len(voices) != 1 || voices[0].Velocity != test.want {
				t.Fatalf("unexpected voices %+v", voices)
			}
			if got := params(f.recorder.SynthsCreated()[0].Params)["vel"]; got != test.want {
				t.Fatalf("vel param: got %v, expected %v", got, test.want)
			}
		})
	}
}

func TestSpawnNaNVelocityIgnored(t *testing.T) {
	f := newFixture(t)
	f.player.SpawnVoice(lead, 60, float32(math.NaN()), imbolc.Immediate)
	if n := len(f.recorder.Operations()); n != 0 {
		t.Fatalf("sent %v operations", n)
	}
	if n := f.player.Allocator().NumVoices(); n != 0 {
		t.Fatalf("allocated %v voices", n)
	}
}

func TestSpawnIgnored(t *testing.T) {
	tests := []struct {
		name       string
		instrument int
		pitch      uint8
	}{
		{"Muted", plain, 60},
		{"Unknown", 42, 60},
		{"PitchOutOfRange", lead, 128},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)
			f.player.SpawnVoice(test.instrument, test.pitch, 1, imbolc.Immediate)
			if n := len(f.recorder.Operations()); n != 0 {
				t.Fatalf("sent %v operations", n)
			}
			if n := f.player.Allocator().NumVoices(); n != 0 {
				t.Fatalf("allocated %v voices", n)
			}
		})
	}
}

func TestReleaseVoice(t *testing.T) {
	f := newFixture(t)
	f.player.SpawnVoice(lead, 60, 1, imbolc.Immediate)
	f.recorder.Reset()
	f.player.ReleaseVoice(lead, 60, 0.25)
	v := f.player.Allocator().Voices()[0]
	if !v.Releasing || v.ReleaseTime != 750*time.Millisecond {
		t.Fatalf("unexpected voice after release %+v", v)
	}
	op, ok := f.recorder.Find(isKind(recording.SetParamsBundled))
	if !ok || op.Node != v.MIDINode || op.Offset != 0.25 || !reflect.DeepEqual(op.Params, []imbolc.Param{{Name: "gate", Value: 0}}) {
		t.Fatalf("unexpected gate off %+v", op)
	}
	f.recorder.Reset()
	f.player.ReleaseVoice(lead, 60, imbolc.Immediate)
	if n := len(f.recorder.Operations()); n != 0 {
		t.Fatalf("a second release sent %v operations", n)
	}
}

func TestTickFreesExpiredVoices(t *testing.T) {
	f := newFixture(t)
	f.player.SpawnVoice(lead, 60, 1, imbolc.Immediate)
	f.player.SpawnVoice(lead, 62, 1, imbolc.Immediate)
	f.player.ReleaseVoice(lead, 60, imbolc.Immediate)
	v := f.player.Allocator().Voices()[0]
	f.recorder.Reset()
	f.clock.Advance(1900 * time.Millisecond)
	f.player.Tick()
	if n := len(f.recorder.Operations()); n != 0 {
		t.Fatalf("tick before the tail ended sent %v operations", n)
	}
	f.clock.Advance(100 * time.Millisecond)
	f.player.Tick()
	if freed := f.recorder.NodesFreed(); !reflect.DeepEqual(freed, []int32{v.GroupID}) {
		t.Fatalf("freed %v, expected %v", freed, []int32{v.GroupID})
	}
	if f.player.Allocator().NumVoices() != 1 || f.player.Allocator().PoolSize() != 1 {
		t.Fatalf("voices %v, pool %v after cleanup", f.player.Allocator().NumVoices(), f.player.Allocator().PoolSize())
	}
}

func TestPanic(t *testing.T) {
	f := newFixture(t)
	f.player.SpawnVoice(lead, 60, 1, imbolc.Immediate)
	f.player.SpawnVoice(sampler, 36, 1, imbolc.Immediate)
	f.recorder.Reset()
	f.player.Panic()
	if n := len(f.recorder.NodesFreed()); n != 2 {
		t.Fatalf("panic freed %v groups, expected 2", n)
	}
	if _, ok := f.recorder.Find(func(op recording.Op) bool { return op.Kind == recording.SendRaw && op.Addr == "/clearSched" }); !ok {
		t.Fatalf("panic did not clear the schedule")
	}
	if f.player.Allocator().NumVoices() != 0 || f.player.Allocator().PoolSize() != 2 {
		t.Fatalf("panic left voices %v, pool %v", f.player.Allocator().NumVoices(), f.player.Allocator().PoolSize())
	}
}

func TestStopInstrumentAndRemoveGroup(t *testing.T) {
	f := newFixture(t)
	f.player.SpawnVoice(lead, 60, 1, imbolc.Immediate)
	f.player.SpawnVoice(lead, 62, 1, imbolc.Immediate)
	f.player.SpawnVoice(sampler, 36, 1, imbolc.Immediate)
	f.recorder.Reset()
	f.player.StopInstrument(lead)
	if n := len(f.recorder.NodesFreed()); n != 2 {
		t.Fatalf("stop instrument freed %v groups", n)
	}
	g := f.player.Allocator().Voices()[0].GroupID
	f.player.RemoveGroup(g)
	if freed := f.recorder.NodesFreed(); freed[len(freed)-1] != g {
		t.Fatalf("group %v was not freed: %v", g, freed)
	}
	if f.player.Allocator().NumVoices() != 0 {
		t.Fatalf("voices left after removing all")
	}
}

func TestSetMix(t *testing.T) {
	f := newFixture(t)
	f.player.SetMix(lead, 0.25, 0.5)
	nodes, _ := f.player.Routing().Instrument(lead)
	op, ok := f.recorder.Find(isKind(recording.SetParams))
	want := []imbolc.Param{{Name: "level", Value: 0.25 * f.session.MasterLevel}, {Name: "pan", Value: 0.5}}
	if !ok || op.Node != nodes.Output || !reflect.DeepEqual(op.Params, want) {
		t.Fatalf("unexpected mix change %+v", op)
	}
	if instr := f.session.Instrument(lead); instr.Level != 0.25 || instr.Pan != 0.5 {
		t.Fatalf("session not updated: %+v", instr)
	}
}

func TestSetMixMuted(t *testing.T) {
	f := newFixture(t)
	f.player.SetMix(plain, 0.7, -0.5)
	op, ok := f.recorder.Find(isKind(recording.SetParams))
	want := []imbolc.Param{{Name: "level", Value: 0}, {Name: "pan", Value: -0.5}}
	if !ok || !reflect.DeepEqual(op.Params, want) {
		t.Fatalf("muted instrument got %+v", op)
	}
	if instr := f.session.Instrument(plain); instr.Level != 0.7 {
		t.Fatalf("session level not stored: %+v", instr)
	}
}

func TestProcessMessages(t *testing.T) {
	f := newFixture(t)
	broker := tracker.NewBroker()
	cfg := tracker.DefaultAllocatorConfig()
	cfg.Clock = f.clock.Now
	p := tracker.NewPlayer(broker, f.recorder, f.session, tracker.PlayerConfig{Allocator: cfg})
	p.RebuildRouting()
	f.recorder.Reset()
	messages := []any{
		tracker.NoteOnMsg{Instrument: lead, Pitch: 60, Velocity: 1, Offset: imbolc.Immediate},
		tracker.NoteOnMsg{Instrument: lead, Pitch: 62, Velocity: 1, Offset: imbolc.Immediate},
		tracker.NoteOffMsg{Instrument: lead, Pitch: 60, Offset: imbolc.Immediate},
		tracker.AutomationMsg{Changes: []tracker.Change{{Target: tracker.Target{Kind: tracker.FilterCutoff, Instrument: lead}, Value: 100}}, Offset: imbolc.Immediate},
		"unknown",
	}
	for _, m := range messages {
		if !tracker.TrySend(broker.ToPlayer, m) {
			t.Fatalf("broker full")
		}
	}
	p.ProcessMessages()
	if n := p.Allocator().NumVoices(); n != 2 {
		t.Fatalf("expected 2 voices, got %v", n)
	}
	if p.Allocator().ActiveCount(lead) != 1 {
		t.Fatalf("note off was not processed")
	}
	if n := f.recorder.Count(isKind(recording.SendBundle)); n != 3 {
		t.Fatalf("expected 3 bundles, got %v", n)
	}
	tracker.TrySend(broker.ToPlayer, any(tracker.PanicMsg{}))
	p.ProcessMessages()
	if p.Allocator().NumVoices() != 0 {
		t.Fatalf("panic message was not processed")
	}
}

func TestRunStopsOnClose(t *testing.T) {
	f := newFixture(t)
	broker := tracker.NewBroker()
	p := tracker.NewPlayer(broker, f.recorder, f.session, tracker.PlayerConfig{})
	p.RebuildRouting()
	go p.Run(time.Millisecond)
	tracker.TrySend(broker.ToPlayer, any(tracker.NoteOnMsg{Instrument: lead, Pitch: 60, Velocity: 1, Offset: imbolc.Immediate}))
	reply := make(chan tracker.Status, 1)
	tracker.TrySend(broker.ToPlayer, any(tracker.StatusMsg{Reply: reply}))
	s, ok := tracker.TimeoutReceive(reply, time.Second)
	if !ok || s.Voices != 1 {
		t.Fatalf("unexpected status %+v", s)
	}
	tracker.TrySend(broker.ClosePlayer, struct{}{})
	if _, ok := tracker.TimeoutReceive(broker.FinishedPlayer, time.Second); ok {
		t.Fatalf("FinishedPlayer should be closed, not sent to")
	}
	select {
	case <-broker.FinishedPlayer:
	default:
		t.Fatalf("player did not finish")
	}
}

func TestSamplesAndRecording(t *testing.T) {
	f := newFixture(t)
	f.player.LoadSamples()
	want := []recording.OpKind{recording.LoadBuffer, recording.QueryBuffer}
	if got := kinds(f.recorder.Operations()); !reflect.DeepEqual(got, want) {
		t.Fatalf("loading samples: got %v, expected %v", got, want)
	}
	if op := f.recorder.Operations()[0]; op.Node != 10 || op.Path != "kick.wav" {
		t.Fatalf("unexpected load %+v", op)
	}
	f.recorder.Reset()
	f.player.StartRecording(100, "out.wav")
	if !f.player.Recording() {
		t.Fatalf("not recording after StartRecording")
	}
	want = []recording.OpKind{recording.AllocBuffer, recording.OpenBuffer, recording.CreateSynth}
	if got := kinds(f.recorder.Operations()); !reflect.DeepEqual(got, want) {
		t.Fatalf("starting recording: got %v, expected %v", got, want)
	}
	node := f.recorder.Operations()[2].Node
	f.recorder.Reset()
	f.player.StopRecording()
	f.player.StopRecording()
	want = []recording.OpKind{recording.FreeNode, recording.CloseBuffer, recording.FreeBuffer}
	if got := kinds(f.recorder.Operations()); !reflect.DeepEqual(got, want) {
		t.Fatalf("stopping recording: got %v, expected %v", got, want)
	}
	if f.recorder.Operations()[0].Node != node {
		t.Fatalf("stopped node %v, expected %v", f.recorder.Operations()[0].Node, node)
	}
}

func TestStatusFormatter(t *testing.T) {
	f := newFixture(t)
	f.player.SpawnVoice(lead, 60, 1, imbolc.Immediate)
	f.player.SpawnVoice(lead, 62, 1, imbolc.Immediate)
	f.player.ReleaseVoice(lead, 60, imbolc.Immediate)
	s := f.player.Status()
	if s.Voices != 2 || s.Releasing != 1 || s.Pool != 0 || s.AudioBus != 24 || s.ControlBus != 7 {
		t.Fatalf("unexpected status %+v", s)
	}
	formatter, err := tracker.NewStatusFormatter("")
	if err != nil {
		t.Fatalf("NewStatusFormatter failed: %v", err)
	}
	line, err := formatter.Format(s)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if want := "voices 2 (1 releasing) pool 0 buses a24/c7"; line != want {
		t.Fatalf("got %q, expected %q", line, want)
	}
	formatter, err = tracker.NewStatusFormatter(`{{.Voices | printf "%03d"}} {{"x" | repeat 3}}`)
	if err != nil {
		t.Fatalf("NewStatusFormatter failed: %v", err)
	}
	if line, _ := formatter.Format(s); !strings.HasPrefix(line, "002 xxx") {
		t.Fatalf("unexpected custom status %q", line)
	}
	if _, err := tracker.NewStatusFormatter("{{.Voices"); err == nil {
		t.Fatalf("expected an error for a broken template")
	}
}

func params(ps []imbolc.Param) map[string]float32 {
	ret := map[string]float32{}
	for _, p := range ps {
		ret[p.Name] = p.Value
	}
	return ret
}

func kinds(ops []recording.Op) []recording.OpKind {
	var ret []recording.OpKind
	for _, op := range ops {
		ret = append(ret, op.Kind)
	}
	return ret
}
