package imbolc

import (
	"math"
	"time"
)

type (
	// Voice is one sounding note instance. Each voice lives in its own group
	// node, holding a MIDI-control synth that writes frequency, gate and
	// velocity to the voice's control channels, and a source synth that reads
	// them.
	Voice struct {
		Instrument int
		Pitch      uint8
		Velocity   float32 // 0..1
		GroupID    int32
		MIDINode   int32
		SourceNode int32
		Spawned    time.Time

		// Releasing is set once the note has been released; ReleasedAt and
		// ReleaseTime are only meaningful when it is true.
		Releasing   bool
		ReleasedAt  time.Time
		ReleaseTime time.Duration

		Channels ControlChannels
	}

	// ControlChannels are the control bus ids owned by one voice.
	ControlChannels struct {
		Freq int32
		Gate int32
		Vel  int32
	}
)

// NoteFrequency converts a MIDI pitch to Hz in twelve-tone equal temperament
// with A4 = 440 Hz.
func NoteFrequency(pitch uint8) float32 {
	return float32(440 * math.Pow(2, (float64(pitch)-69)/12))
}

// Seconds converts an Offset-like seconds value to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
