package imbolc

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type (
	// Session is the part of a project the control core reads: the master
	// level, the instruments and the mixer buses. It is stored as YAML.
	Session struct {
		MasterLevel float32
		Instruments []Instrument
		Buses       []Bus `yaml:",omitempty"`
	}

	// Instrument describes one playable instrument and its processing chain.
	// Filter, LFO and EQ are optional stages; a nil stage is not present in the
	// server graph and automation targeting it does nothing.
	Instrument struct {
		ID       int
		Name     string `yaml:",omitempty"`
		Source   SourceKind
		SynthDef string `yaml:",omitempty"`
		// Buffer is the sample buffer played by sampler sources. Sample is
		// the sound file loaded into it when the session is opened.
		Buffer   int32    `yaml:",omitempty"`
		Sample   string   `yaml:",omitempty"`
		Level    float32
		Pan      float32  `yaml:",omitempty"`
		Envelope Envelope `yaml:",flow"`
		Filter   *Filter  `yaml:",flow,omitempty"`
		LFO      *LFO     `yaml:",flow,omitempty"`
		EQ       *EQ      `yaml:",omitempty"`
		Effects  []Effect `yaml:",omitempty"`
		Sends    []Send   `yaml:",flow,omitempty"`
		Mute     bool     `yaml:",omitempty"`
	}

	SourceKind string

	// Envelope stage durations are in seconds; Sustain is a level.
	Envelope struct {
		Attack  float32
		Decay   float32
		Sustain float32
		Release float32
	}

	Filter struct {
		Cutoff    float32
		Resonance float32
	}

	LFO struct {
		Rate  float32
		Depth float32
	}

	EQ struct {
		Bands []EQBand `yaml:",flow"`
	}

	// EQBand is a peaking band. Q is the quality factor; the server side unit
	// takes its reciprocal.
	EQBand struct {
		Freq float32
		Gain float32
		Q    float32
	}

	// Effect is one insert effect. A plugin effect is hosted by a plugin unit
	// inside the node; its parameters are addressed by index through unit
	// commands, not by name.
	Effect struct {
		SynthDef string
		Plugin   bool   `yaml:",omitempty"`
		// Unit is the index of the plugin host unit inside the effect node.
		Unit   int32   `yaml:",omitempty"`
		Params []Param `yaml:",flow,omitempty"`
	}

	Send struct {
		Bus   int
		Level float32
	}

	Bus struct {
		ID    int
		Name  string `yaml:",omitempty"`
		Level float32
	}
)

const (
	SourceOscillator SourceKind = "oscillator"
	SourceSampler    SourceKind = "sampler"
)

// DefaultEnvelope is used for instruments that do not define one.
var DefaultEnvelope = Envelope{Attack: 0.01, Decay: 0.1, Sustain: 0.8, Release: 0.3}

// Instrument returns a pointer to the instrument with the given id, or nil.
func (s *Session) Instrument(id int) *Instrument {
	for i := range s.Instruments {
		if s.Instruments[i].ID == id {
			return &s.Instruments[i]
		}
	}
	return nil
}

// Bus returns a pointer to the bus with the given id, or nil.
func (s *Session) Bus(id int) *Bus {
	for i := range s.Buses {
		if s.Buses[i].ID == id {
			return &s.Buses[i]
		}
	}
	return nil
}

// Validate checks that ids are unique and that sends target existing buses.
func (s *Session) Validate() error {
	seen := map[int]bool{}
	for _, instr := range s.Instruments {
		if seen[instr.ID] {
			return fmt.Errorf("duplicate instrument id %d", instr.ID)
		}
		seen[instr.ID] = true
		switch instr.Source {
		case SourceOscillator, SourceSampler:
		default:
			return fmt.Errorf("instrument %d: unknown source %q", instr.ID, instr.Source)
		}
		for _, send := range instr.Sends {
			if s.Bus(send.Bus) == nil {
				return fmt.Errorf("instrument %d: send to unknown bus %d", instr.ID, send.Bus)
			}
		}
		if instr.EQ != nil {
			for i, b := range instr.EQ.Bands {
				if b.Q <= 0 {
					return fmt.Errorf("instrument %d: eq band %d has non-positive q", instr.ID, i)
				}
			}
		}
	}
	buses := map[int]bool{}
	for _, b := range s.Buses {
		if buses[b.ID] {
			return fmt.Errorf("duplicate bus id %d", b.ID)
		}
		buses[b.ID] = true
	}
	return nil
}

// ReadSession decodes and validates a YAML session. Instruments without a
// synthdef get the default one for their source, a zero envelope is
// replaced by DefaultEnvelope, and a missing master level means 1.
func ReadSession(r io.Reader) (*Session, error) {
	s := Session{MasterLevel: 1}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty session file")
		}
		return nil, fmt.Errorf("could not decode session: %w", err)
	}
	for i := range s.Instruments {
		instr := &s.Instruments[i]
		if instr.Source == "" {
			instr.Source = SourceOscillator
		}
		if instr.SynthDef == "" {
			instr.SynthDef = "imbolc_" + string(instr.Source)
		}
		if instr.Envelope == (Envelope{}) {
			instr.Envelope = DefaultEnvelope
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Write encodes the session as YAML.
func (s *Session) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("could not encode session: %w", err)
	}
	return enc.Close()
}
