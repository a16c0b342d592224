package tracker

import (
	"fmt"

	imbolc "github.com/mohsenil85/imbolc-workspace-sub002"
)

type (
	// Routing is the server-side node layout of a session: which nodes
	// exist for each instrument's processing stages and for each bus. A zero
	// node id means the stage is absent. Automation resolves targets against
	// it; only the Player rebuilds it.
	Routing struct {
		Root        int32
		BusGroup    int32
		instruments map[int]InstrumentNodes
		buses       map[int]BusNodes
		// control buses owned by the layout, in use or spare; the next
		// layout takes them over
		controlBuses []int32
	}

	// InstrumentNodes are the nodes of one instrument. Voices are added to
	// the head of Group and write to SourceBus; the stages process SourceBus
	// in place, in the order LFO, filter, EQ, effects, sends, output.
	InstrumentNodes struct {
		Group     int32
		SourceBus int32
		LFO       int32
		LFOBus    int32
		Filter    int32
		EQ        int32
		Effects   []int32
		Sends     []int32
		Output    int32
	}

	BusNodes struct {
		Node int32
		Bus  int32
	}

	// controlBusSource hands out control buses, first from reuse, then new
	// ids from next.
	controlBusSource struct {
		reuse []int32
		next  int32
	}

	// nodeIDs mints node ids. Ids are never reused, so a message can never
	// refer to a node id that has been recycled.
	nodeIDs struct {
		next int32
	}
)

// Synth definitions the routing and the voices expect on the server.
const (
	DefaultGroup = 1
	firstNodeID  = 1000

	synthDefMIDI   = "imbolc_midi"
	synthDefLFO    = "imbolc_lfo"
	synthDefFilter = "imbolc_filter"
	synthDefEQ     = "imbolc_eq"
	synthDefSend   = "imbolc_send"
	synthDefOutput = "imbolc_output"
	synthDefBus    = "imbolc_bus"
	synthDefDisk   = "imbolc_disk_out"
)

func (n *nodeIDs) mint() int32 {
	if n.next < firstNodeID {
		n.next = firstNodeID
	}
	id := n.next
	n.next++
	return id
}

func (c *controlBusSource) take() int32 {
	if len(c.reuse) > 0 {
		id := c.reuse[0]
		c.reuse = c.reuse[1:]
		return id
	}
	id := c.next
	c.next++
	return id
}

func newRouting(root int32) *Routing {
	return &Routing{
		Root:        root,
		instruments: map[int]InstrumentNodes{},
		buses:       map[int]BusNodes{},
	}
}

// Instrument returns the nodes of an instrument.
func (r *Routing) Instrument(id int) (InstrumentNodes, bool) {
	if r == nil {
		return InstrumentNodes{}, false
	}
	n, ok := r.instruments[id]
	return n, ok
}

// Bus returns the nodes of a bus.
func (r *Routing) Bus(id int) (BusNodes, bool) {
	if r == nil {
		return BusNodes{}, false
	}
	n, ok := r.buses[id]
	return n, ok
}

// buildRouting lays out the nodes for session and creates them through
// backend. Audio buses are handed out from audioBus, two channels at a time;
// LFO outputs take control buses from control, which reuses the buses of the
// previous layout, so rebuilding does not move the control watermark. The
// returned watermarks are the next free ids.
func buildRouting(s *imbolc.Session, ids *nodeIDs, backend imbolc.Backend, audioBus int32, control *controlBusSource, warn func(string, error)) (r *Routing, nextAudio, nextControl int32) {
	r = newRouting(ids.mint())
	warn("create root group", backend.CreateGroup(r.Root, imbolc.AddToTail, DefaultGroup))
	for _, b := range s.Buses {
		r.buses[b.ID] = BusNodes{Bus: audioBus}
		audioBus += 2
	}
	for _, instr := range s.Instruments {
		n := InstrumentNodes{Group: ids.mint(), SourceBus: audioBus}
		audioBus += 2
		op := fmt.Sprintf("build instrument %d", instr.ID)
		warn(op, backend.CreateGroup(n.Group, imbolc.AddToTail, r.Root))
		bus := imbolc.P("bus", float32(n.SourceBus))
		if instr.LFO != nil {
			n.LFO, n.LFOBus = ids.mint(), control.take()
			r.controlBuses = append(r.controlBuses, n.LFOBus)
			warn(op, backend.CreateSynth(synthDefLFO, n.LFO, n.Group, []imbolc.Param{
				imbolc.P("out", float32(n.LFOBus)), imbolc.P("rate", instr.LFO.Rate), imbolc.P("depth", instr.LFO.Depth),
			}))
		}
		if instr.Filter != nil {
			n.Filter = ids.mint()
			params := []imbolc.Param{bus, imbolc.P("cutoff", instr.Filter.Cutoff), imbolc.P("resonance", instr.Filter.Resonance)}
			if n.LFO != 0 {
				params = append(params, imbolc.P("lfo_in", float32(n.LFOBus)))
			}
			warn(op, backend.CreateSynth(synthDefFilter, n.Filter, n.Group, params))
		}
		if instr.EQ != nil {
			n.EQ = ids.mint()
			params := []imbolc.Param{bus}
			for i, band := range instr.EQ.Bands {
				params = append(params,
					imbolc.P(eqParamName(i, "freq"), band.Freq),
					imbolc.P(eqParamName(i, "gain"), band.Gain),
					imbolc.P(eqParamName(i, "rq"), inverseQ(band.Q)))
			}
			warn(op, backend.CreateSynth(synthDefEQ, n.EQ, n.Group, params))
		}
		for _, fx := range instr.Effects {
			id := ids.mint()
			n.Effects = append(n.Effects, id)
			params := []imbolc.Param{bus}
			if !fx.Plugin {
				params = append(params, fx.Params...)
			}
			warn(op, backend.CreateSynth(fx.SynthDef, id, n.Group, params))
		}
		for _, send := range instr.Sends {
			id := ids.mint()
			n.Sends = append(n.Sends, id)
			warn(op, backend.CreateSynth(synthDefSend, id, n.Group, []imbolc.Param{
				imbolc.P("in", float32(n.SourceBus)), imbolc.P("out", float32(r.buses[send.Bus].Bus)), imbolc.P("level", send.Level),
			}))
		}
		n.Output = ids.mint()
		warn(op, backend.CreateSynth(synthDefOutput, n.Output, n.Group, []imbolc.Param{
			imbolc.P("in", float32(n.SourceBus)), imbolc.P("out", 0), imbolc.P("level", outputLevel(s, &instr, instr.Level)), imbolc.P("pan", instr.Pan),
		}))
		r.instruments[instr.ID] = n
	}
	if len(s.Buses) > 0 {
		r.BusGroup = ids.mint()
		warn("create bus group", backend.CreateGroup(r.BusGroup, imbolc.AddToTail, r.Root))
		for _, b := range s.Buses {
			nodes := r.buses[b.ID]
			nodes.Node = ids.mint()
			r.buses[b.ID] = nodes
			warn(fmt.Sprintf("build bus %d", b.ID), backend.CreateSynth(synthDefBus, nodes.Node, r.BusGroup, []imbolc.Param{
				imbolc.P("in", float32(nodes.Bus)), imbolc.P("out", 0), imbolc.P("level", b.Level),
			}))
		}
	}
	r.controlBuses = append(r.controlBuses, control.reuse...)
	return r, audioBus, control.next
}

func eqParamName(band int, name string) string {
	return fmt.Sprintf("b%d_%s", band, name)
}

// inverseQ converts a quality factor to the reciprocal the EQ unit takes.
// Non-positive values give 0.
func inverseQ(q float32) float32 {
	if q <= 0 {
		return 0
	}
	return 1 / q
}

// outputLevel is the level sent to an instrument's output node: level scaled
// by the master level, or zero while the instrument is muted.
func outputLevel(s *imbolc.Session, instr *imbolc.Instrument, level float32) float32 {
	if instr.Mute {
		return 0
	}
	return level * s.MasterLevel
}
