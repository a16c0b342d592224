package gomidi

import (
	"sync/atomic"

	imbolc "github.com/mohsenil85/imbolc-workspace-sub002"
	"github.com/mohsenil85/imbolc-workspace-sub002/tracker"
	"gitlab.com/gomidi/midi/v2"
)

// Input turns the note messages of a MIDI input into broker messages. MIDI
// channel ch plays the instrument Channels[ch]; channels without an entry
// play the instrument with the same id as the channel.
type Input struct {
	Channels map[uint8]int

	broker  *tracker.Broker
	dropped atomic.Int64
}

func NewInput(broker *tracker.Broker, channels map[uint8]int) *Input {
	return &Input{broker: broker, Channels: channels}
}

// HandleMessage is called by the MIDI driver on its own goroutine. It never
// blocks: if the player is lagging behind, the message is dropped.
func (i *Input) HandleMessage(msg midi.Message, timestampms int32) {
	m, ok := Decode(msg, i.instrument)
	if !ok {
		return
	}
	if !tracker.TrySend(i.broker.ToPlayer, m) {
		i.dropped.Add(1)
	}
}

// Dropped is the number of notes lost because the broker was full.
func (i *Input) Dropped() int64 { return i.dropped.Load() }

func (i *Input) instrument(ch uint8) int {
	if id, ok := i.Channels[ch]; ok {
		return id
	}
	return int(ch)
}

// Decode converts a note on or note off message into a tracker.NoteOnMsg or
// tracker.NoteOffMsg. A note on with zero velocity is a note off. Other
// messages return false.
func Decode(msg midi.Message, instrument func(channel uint8) int) (any, bool) {
	var channel, key, velocity uint8
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity) && velocity > 0:
		return tracker.NoteOnMsg{
			Instrument: instrument(channel),
			Pitch:      key,
			Velocity:   float32(velocity) / 127,
			Offset:     imbolc.Immediate,
		}, true
	case msg.GetNoteOn(&channel, &key, &velocity), msg.GetNoteOff(&channel, &key, &velocity):
		return tracker.NoteOffMsg{
			Instrument: instrument(channel),
			Pitch:      key,
			Offset:     imbolc.Immediate,
		}, true
	}
	return nil, false
}
