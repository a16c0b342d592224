package tracker

import (
	"fmt"
	"log"

	imbolc "github.com/mohsenil85/imbolc-workspace-sub002"
)

type (
	// Automation turns a value for a named target into parameter changes on
	// the server. Apply sends them right away; Collect appends the same
	// messages to a list that the caller sends as one bundle. Both go
	// through resolve, so live control and scheduled automation always agree.
	Automation struct {
		Session *imbolc.Session
		Routing *Routing
		Voices  *Allocator
		Backend imbolc.Backend
		Logger  *log.Logger
	}

	// Target names one automatable parameter. Index is the EQ band, effect,
	// send or bus id depending on Kind; Param is the parameter index of an
	// effect.
	Target struct {
		Kind       TargetKind
		Instrument int
		Index      int
		Param      int
	}

	TargetKind int

	// Change is one automation lane value for a tick.
	Change struct {
		Target Target
		Value  float32
	}

	// paramWrite is one resolved parameter change: a named parameter of a
	// node, or an indexed parameter of a plugin unit.
	paramWrite struct {
		node   int32
		name   string
		plugin bool
		unit   int32
		index  int32
		value  float32
	}
)

const (
	InstrumentLevel TargetKind = iota
	InstrumentPan
	FilterCutoff
	FilterResonance
	LFORate
	LFODepth
	EQBandFreq
	EQBandGain
	EQBandQ
	EffectParam
	SendLevel
	BusLevel
	SampleRate
	SampleAmp
	EnvAttack
	EnvDecay
	EnvSustain
	EnvRelease
)

// pluginSetCommand is the unit command of the plugin host unit that sets a
// parameter by index.
const pluginSetCommand = "/set"

var targetKindNames = [...]string{
	"level", "pan", "filter.cutoff", "filter.resonance", "lfo.rate",
	"lfo.depth", "eq.freq", "eq.gain", "eq.q", "effect.param", "send.level",
	"bus.level", "sample.rate", "sample.amp", "env.attack", "env.decay",
	"env.sustain", "env.release",
}

func (k TargetKind) String() string {
	if k < 0 || int(k) >= len(targetKindNames) {
		return fmt.Sprintf("TargetKind(%d)", int(k))
	}
	return targetKindNames[k]
}

func (t Target) String() string {
	switch t.Kind {
	case BusLevel:
		return fmt.Sprintf("bus %d %v", t.Index, t.Kind)
	case EQBandFreq, EQBandGain, EQBandQ, SendLevel:
		return fmt.Sprintf("instrument %d %v[%d]", t.Instrument, t.Kind, t.Index)
	case EffectParam:
		return fmt.Sprintf("instrument %d %v[%d][%d]", t.Instrument, t.Kind, t.Index, t.Param)
	}
	return fmt.Sprintf("instrument %d %v", t.Instrument, t.Kind)
}

// Apply resolves target and sends each resulting change immediately.
// Delivery failures are logged and the remaining changes still sent.
func (a *Automation) Apply(target Target, value float32) {
	for _, w := range a.resolve(target, value, nil) {
		var err error
		if w.plugin {
			err = a.Backend.SendUnitCommand(w.node, w.unit, pluginSetCommand, []imbolc.Arg{imbolc.Int(w.index), imbolc.Float(w.value)})
		} else {
			err = a.Backend.SetParam(w.node, w.name, w.value)
		}
		if err != nil {
			a.logger().Printf("automation %v: %v", target, err)
		}
	}
}

// Collect resolves target and appends the resulting messages to msgs,
// applying the same state changes as Apply. The caller sends msgs with
// Backend.SendBundle.
func (a *Automation) Collect(msgs []imbolc.Message, target Target, value float32) []imbolc.Message {
	for _, w := range a.resolve(target, value, nil) {
		msgs = append(msgs, w.message())
	}
	return msgs
}

// ApplyBatch collects all changes and sends them as a single bundle at
// offset, so lanes updated in the same tick cost one round trip.
func (a *Automation) ApplyBatch(changes []Change, offset imbolc.Offset) error {
	var msgs []imbolc.Message
	for _, c := range changes {
		msgs = a.Collect(msgs, c.Target, c.Value)
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := a.Backend.SendBundle(msgs, offset); err != nil {
		a.logger().Printf("automation batch of %d changes: %v", len(changes), err)
		return err
	}
	return nil
}

// resolve appends the parameter writes for target to writes. Targets whose
// stage or node does not exist resolve to nothing. Envelope targets also
// update the instrument in the session, as they shape voices spawned later.
func (a *Automation) resolve(t Target, value float32, writes []paramWrite) []paramWrite {
	if t.Kind == BusLevel {
		if n, ok := a.Routing.Bus(t.Index); ok {
			writes = append(writes, paramWrite{node: n.Node, name: "level", value: value})
		}
		return writes
	}
	instr := a.Session.Instrument(t.Instrument)
	nodes, ok := a.Routing.Instrument(t.Instrument)
	if instr == nil || !ok {
		return writes
	}
	set := func(node int32, name string, v float32) {
		if node != 0 {
			writes = append(writes, paramWrite{node: node, name: name, value: v})
		}
	}
	switch t.Kind {
	case InstrumentLevel:
		set(nodes.Output, "level", outputLevel(a.Session, instr, value))
	case InstrumentPan:
		set(nodes.Output, "pan", value)
	case FilterCutoff:
		set(nodes.Filter, "cutoff", value)
	case FilterResonance:
		set(nodes.Filter, "resonance", value)
	case LFORate:
		set(nodes.LFO, "rate", value)
	case LFODepth:
		set(nodes.LFO, "depth", value)
	case EQBandFreq, EQBandGain, EQBandQ:
		if instr.EQ == nil || t.Index < 0 || t.Index >= len(instr.EQ.Bands) {
			break
		}
		switch t.Kind {
		case EQBandFreq:
			set(nodes.EQ, eqParamName(t.Index, "freq"), value)
		case EQBandGain:
			set(nodes.EQ, eqParamName(t.Index, "gain"), value)
		case EQBandQ:
			if value > 0 {
				set(nodes.EQ, eqParamName(t.Index, "rq"), inverseQ(value))
			}
		}
	case EffectParam:
		if t.Index < 0 || t.Index >= len(instr.Effects) || t.Index >= len(nodes.Effects) {
			break
		}
		fx := instr.Effects[t.Index]
		node := nodes.Effects[t.Index]
		switch {
		case t.Param < 0:
		case fx.Plugin:
			writes = append(writes, paramWrite{node: node, plugin: true, unit: fx.Unit, index: int32(t.Param), value: value})
		case t.Param < len(fx.Params):
			set(node, fx.Params[t.Param].Name, value)
		}
	case SendLevel:
		if t.Index >= 0 && t.Index < len(nodes.Sends) {
			set(nodes.Sends[t.Index], "level", value)
		}
	case SampleRate, SampleAmp:
		if instr.Source != imbolc.SourceSampler {
			break
		}
		name := "rate"
		if t.Kind == SampleAmp {
			name = "amp"
		}
		for _, v := range a.Voices.VoicesFor(t.Instrument) {
			set(v.SourceNode, name, value)
		}
	case EnvAttack, EnvDecay, EnvSustain, EnvRelease:
		var name string
		switch t.Kind {
		case EnvAttack:
			instr.Envelope.Attack, name = value, "attack"
		case EnvDecay:
			instr.Envelope.Decay, name = value, "decay"
		case EnvSustain:
			instr.Envelope.Sustain, name = value, "sustain"
		case EnvRelease:
			instr.Envelope.Release, name = value, "release"
		}
		for _, v := range a.Voices.VoicesFor(t.Instrument) {
			set(v.SourceNode, name, value)
		}
	}
	return writes
}

func (w paramWrite) message() imbolc.Message {
	if w.plugin {
		return imbolc.UnitCommandMessage(w.node, w.unit, pluginSetCommand, []imbolc.Arg{imbolc.Int(w.index), imbolc.Float(w.value)})
	}
	return imbolc.SetParamMessage(w.node, w.name, w.value)
}

func (a *Automation) logger() *log.Logger {
	if a.Logger == nil {
		return log.Default()
	}
	return a.Logger
}
