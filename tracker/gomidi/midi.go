//go:build cgo

package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// RTMIDIContext owns the rtmidi driver and at most one open input port.
type RTMIDIContext struct {
	driver    *rtmididrv.Driver
	currentIn drivers.In
	stop      func()
}

// Open the driver.
func NewContext() *RTMIDIContext {
	// there's not much we can do if this fails, so just use m.driver = nil to
	// indicate no driver available
	m := RTMIDIContext{}
	m.driver, _ = rtmididrv.New()
	return &m
}

// InputNames lists the available input ports.
func (c *RTMIDIContext) InputNames() []string {
	if c.driver == nil {
		return nil
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return nil
	}
	ret := make([]string, 0, len(ins))
	for _, in := range ins {
		ret = append(ret, in.String())
	}
	return ret
}

// Open starts forwarding the input port whose name starts with namePrefix to
// input, closing the port that was open before. An empty prefix takes the
// first port.
func (c *RTMIDIContext) Open(namePrefix string, input *Input) error {
	if c.driver == nil {
		return errors.New("no driver available")
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return fmt.Errorf("listing MIDI inputs failed: %w", err)
	}
	var in drivers.In
	for _, i := range ins {
		if strings.HasPrefix(i.String(), namePrefix) {
			in = i
			break
		}
	}
	if in == nil {
		return fmt.Errorf("could not find any MIDI input starting with %q", namePrefix)
	}
	c.closeInput()
	if err := in.Open(); err != nil {
		return fmt.Errorf("opening MIDI input failed: %w", err)
	}
	stop, err := midi.ListenTo(in, input.HandleMessage)
	if err != nil {
		in.Close()
		return fmt.Errorf("listening to MIDI input failed: %w", err)
	}
	c.currentIn, c.stop = in, stop
	return nil
}

func (c *RTMIDIContext) HasDeviceOpen() bool {
	return c.currentIn != nil && c.currentIn.IsOpen()
}

func (c *RTMIDIContext) Close() {
	if c.driver == nil {
		return
	}
	c.closeInput()
	c.driver.Close()
}

func (c *RTMIDIContext) closeInput() {
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	if c.HasDeviceOpen() {
		c.currentIn.Close()
	}
	c.currentIn = nil
}
