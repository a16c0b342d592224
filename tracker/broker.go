package tracker

import (
	"time"

	imbolc "github.com/mohsenil85/imbolc-workspace-sub002"
)

type (
	// Broker carries messages from the producers (MIDI input, sequencers,
	// the command line) to the player goroutine, which is the only one
	// touching the allocator. Producers send with TrySend and never block;
	// when the channel is full the message is dropped.
	//
	// For closing the player there are two channels: ClosePlayer has a
	// capacity of 1, so anyone can request closing with a non-blocking send
	// of struct{}{}; if it is already full, closing has already been
	// requested. FinishedPlayer is closed by the player once it has drained
	// all voices. Wait on it with a timeout:
	//    select {
	//      case <-FinishedPlayer:
	//      case <-time.After(3 * time.Second):
	//    }
	Broker struct {
		ToPlayer chan any // TODO: consider a sum type instead of any

		ClosePlayer    chan struct{}
		FinishedPlayer chan struct{}
	}

	NoteOnMsg struct {
		Instrument int
		Pitch      uint8
		Velocity   float32
		Offset     imbolc.Offset
	}

	NoteOffMsg struct {
		Instrument int
		Pitch      uint8
		Offset     imbolc.Offset
	}

	// AutomationMsg carries the lane values of one scheduling tick. They are
	// sent as one bundle at Offset.
	AutomationMsg struct {
		Changes []Change
		Offset  imbolc.Offset
	}

	// PanicMsg stops every voice.
	PanicMsg struct{}

	// StopInstrumentMsg stops every voice of one instrument.
	StopInstrumentMsg struct {
		Instrument int
	}

	// StatusMsg asks the player for a Status, sent without blocking to Reply.
	StatusMsg struct {
		Reply chan<- Status
	}
)

func NewBroker() *Broker {
	return &Broker{
		ToPlayer:       make(chan any, 1024),
		ClosePlayer:    make(chan struct{}, 1),
		FinishedPlayer: make(chan struct{}),
	}
}

// TrySend is a helper function to send a value to a channel if it is not full.
// It is guaranteed to be non-blocking. Return true if the value was sent, false
// otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive is a helper function to block until a value is received from a
// channel, or timing out after t. ok will be false if the timeout occurred or
// if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
