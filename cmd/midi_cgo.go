//go:build cgo

package cmd

import (
	"github.com/mohsenil85/imbolc-workspace-sub002/tracker"
	"github.com/mohsenil85/imbolc-workspace-sub002/tracker/gomidi"
)

// OpenMIDI forwards the MIDI input whose name starts with prefix to broker.
// The returned function closes the driver.
func OpenMIDI(broker *tracker.Broker, prefix string, channels map[uint8]int) (func(), error) {
	ctx := gomidi.NewContext()
	if err := ctx.Open(prefix, gomidi.NewInput(broker, channels)); err != nil {
		ctx.Close()
		return func() {}, err
	}
	return ctx.Close, nil
}

// MIDIInputs lists the names of the MIDI input ports.
func MIDIInputs() []string {
	ctx := gomidi.NewContext()
	defer ctx.Close()
	return ctx.InputNames()
}
