//go:build !cgo

package cmd

import (
	"errors"

	"github.com/mohsenil85/imbolc-workspace-sub002/tracker"
)

// with no cgo, we cannot use MIDI
func OpenMIDI(broker *tracker.Broker, prefix string, channels map[uint8]int) (func(), error) {
	return func() {}, errors.New("MIDI input is not available in builds without cgo")
}

func MIDIInputs() []string { return nil }
