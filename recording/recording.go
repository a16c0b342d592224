// Package recording provides a Backend that records every call instead of
// talking to a server. Tests install it behind an imbolc.Handle, run the code
// under test, and then assert on the recorded operations.
package recording

import (
	"net"
	"slices"
	"sync"

	"github.com/mohsenil85/imbolc-workspace-sub002"
)

type (
	// Backend records operations. It is safe for concurrent use and always
	// reports success.
	Backend struct {
		mu  sync.Mutex
		ops []Op
	}

	// Op is one recorded call. Kind tells which of the fields are set.
	Op struct {
		Kind OpKind

		Node     int32 // node, group or buffer id
		Target   int32
		Action   imbolc.AddAction
		Group    int32
		Def      string
		Name     string
		Value    float32
		Params   []imbolc.Param
		Unit     int32
		Command  string
		Args     []imbolc.Arg
		Path     string
		Frames   int32
		Channels int32
		Addr     string
		Messages []imbolc.Message
		Offset   imbolc.Offset
	}

	OpKind int

	// Synth is a synth creation found in the recording, either from a
	// CreateSynth call or from a creation message inside a bundle.
	Synth struct {
		Def    string
		ID     int32
		Group  int32
		Params []imbolc.Param
	}
)

const (
	CreateGroup OpKind = iota
	CreateSynth
	FreeNode
	SetParam
	SetParams
	SetParamsBundled
	SendBundle
	SendUnitCommand
	LoadBuffer
	AllocBuffer
	OpenBuffer
	CloseBuffer
	QueryBuffer
	FreeBuffer
	SendRaw
)

var opKindNames = [...]string{
	"CreateGroup", "CreateSynth", "FreeNode", "SetParam", "SetParams",
	"SetParamsBundled", "SendBundle", "SendUnitCommand", "LoadBuffer",
	"AllocBuffer", "OpenBuffer", "CloseBuffer", "QueryBuffer", "FreeBuffer",
	"SendRaw",
}

func (k OpKind) String() string {
	if k < 0 || int(k) >= len(opKindNames) {
		return "Unknown"
	}
	return opKindNames[k]
}

var _ imbolc.Backend = (*Backend)(nil)

func New() *Backend { return &Backend{} }

func (b *Backend) record(op Op) error {
	b.mu.Lock()
	b.ops = append(b.ops, op)
	b.mu.Unlock()
	return nil
}

func (b *Backend) CreateGroup(id int32, action imbolc.AddAction, target int32) error {
	return b.record(Op{Kind: CreateGroup, Node: id, Action: action, Target: target})
}

func (b *Backend) CreateSynth(def string, id int32, group int32, params []imbolc.Param) error {
	return b.record(Op{Kind: CreateSynth, Def: def, Node: id, Group: group, Params: slices.Clone(params)})
}

func (b *Backend) FreeNode(id int32) error {
	return b.record(Op{Kind: FreeNode, Node: id})
}

func (b *Backend) SetParam(node int32, name string, value float32) error {
	return b.record(Op{Kind: SetParam, Node: node, Name: name, Value: value})
}

func (b *Backend) SetParams(node int32, params []imbolc.Param) error {
	return b.record(Op{Kind: SetParams, Node: node, Params: slices.Clone(params)})
}

func (b *Backend) SetParamsBundled(node int32, params []imbolc.Param, offset imbolc.Offset) error {
	return b.record(Op{Kind: SetParamsBundled, Node: node, Params: slices.Clone(params), Offset: offset})
}

func (b *Backend) SendBundle(msgs []imbolc.Message, offset imbolc.Offset) error {
	return b.record(Op{Kind: SendBundle, Messages: slices.Clone(msgs), Offset: offset})
}

func (b *Backend) SendUnitCommand(node int32, unit int32, command string, args []imbolc.Arg) error {
	return b.record(Op{Kind: SendUnitCommand, Node: node, Unit: unit, Command: command, Args: slices.Clone(args)})
}

func (b *Backend) LoadBuffer(id int32, path string) error {
	return b.record(Op{Kind: LoadBuffer, Node: id, Path: path})
}

func (b *Backend) AllocBuffer(id int32, frames, channels int32) error {
	return b.record(Op{Kind: AllocBuffer, Node: id, Frames: frames, Channels: channels})
}

func (b *Backend) OpenBuffer(id int32, path string) error {
	return b.record(Op{Kind: OpenBuffer, Node: id, Path: path})
}

func (b *Backend) CloseBuffer(id int32) error {
	return b.record(Op{Kind: CloseBuffer, Node: id})
}

func (b *Backend) QueryBuffer(id int32) error {
	return b.record(Op{Kind: QueryBuffer, Node: id})
}

func (b *Backend) FreeBuffer(id int32) error {
	return b.record(Op{Kind: FreeBuffer, Node: id})
}

func (b *Backend) SendRaw(addr string, args []imbolc.Arg) error {
	return b.record(Op{Kind: SendRaw, Addr: addr, Args: slices.Clone(args)})
}

func (b *Backend) CloneConn() (*net.UDPConn, error) { return nil, imbolc.ErrUnavailable }

func (b *Backend) ServerAddr() (net.Addr, error) { return nil, imbolc.ErrUnavailable }

// Operations returns a copy of all recorded operations, oldest first.
func (b *Backend) Operations() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.ops)
}

// Count returns the number of recorded operations matching pred.
func (b *Backend) Count(pred func(Op) bool) int {
	n := 0
	for _, op := range b.Operations() {
		if pred(op) {
			n++
		}
	}
	return n
}

// Find returns the first recorded operation matching pred.
func (b *Backend) Find(pred func(Op) bool) (Op, bool) {
	for _, op := range b.Operations() {
		if pred(op) {
			return op, true
		}
	}
	return Op{}, false
}

// Reset forgets all recorded operations.
func (b *Backend) Reset() {
	b.mu.Lock()
	b.ops = nil
	b.mu.Unlock()
}

// SynthsCreated lists synth creations in recording order, including the ones
// sent inside bundles.
func (b *Backend) SynthsCreated() []Synth {
	var ret []Synth
	for _, op := range b.Operations() {
		switch op.Kind {
		case CreateSynth:
			ret = append(ret, Synth{Def: op.Def, ID: op.Node, Group: op.Group, Params: op.Params})
		case SendBundle:
			for _, m := range op.Messages {
				if s, ok := decodeSynthNew(m); ok {
					ret = append(ret, s)
				}
			}
		}
	}
	return ret
}

// NodesFreed lists the ids of freed nodes in recording order, including the
// ones freed inside bundles.
func (b *Backend) NodesFreed() []int32 {
	var ret []int32
	for _, op := range b.Operations() {
		switch op.Kind {
		case FreeNode:
			ret = append(ret, op.Node)
		case SendBundle:
			for _, m := range op.Messages {
				if m.Addr() == imbolc.AddrNodeFree {
					for _, a := range m.Args() {
						if id, ok := a.(imbolc.Int); ok {
							ret = append(ret, int32(id))
						}
					}
				}
			}
		}
	}
	return ret
}

// Messages renders every recorded operation as the wire messages it stands
// for. Bundles are flattened into their contained messages.
func (b *Backend) Messages() []imbolc.Message {
	var ret []imbolc.Message
	for _, op := range b.Operations() {
		ret = append(ret, op.Wire()...)
	}
	return ret
}

// Wire returns the wire messages the operation stands for.
func (op Op) Wire() []imbolc.Message {
	switch op.Kind {
	case CreateGroup:
		return []imbolc.Message{imbolc.GroupNewMessage(op.Node, op.Action, op.Target)}
	case CreateSynth:
		return []imbolc.Message{imbolc.SynthNewMessage(op.Def, op.Node, op.Group, op.Params)}
	case FreeNode:
		return []imbolc.Message{imbolc.FreeNodeMessage(op.Node)}
	case SetParam:
		return []imbolc.Message{imbolc.SetParamMessage(op.Node, op.Name, op.Value)}
	case SetParams, SetParamsBundled:
		return []imbolc.Message{imbolc.SetParamsMessage(op.Node, op.Params)}
	case SendBundle:
		return slices.Clone(op.Messages)
	case SendUnitCommand:
		return []imbolc.Message{imbolc.UnitCommandMessage(op.Node, op.Unit, op.Command, op.Args)}
	case LoadBuffer:
		return []imbolc.Message{imbolc.LoadBufferMessage(op.Node, op.Path)}
	case AllocBuffer:
		return []imbolc.Message{imbolc.AllocBufferMessage(op.Node, op.Frames, op.Channels)}
	case OpenBuffer:
		return []imbolc.Message{imbolc.OpenBufferMessage(op.Node, op.Path)}
	case CloseBuffer:
		return []imbolc.Message{imbolc.CloseBufferMessage(op.Node)}
	case QueryBuffer:
		return []imbolc.Message{imbolc.QueryBufferMessage(op.Node)}
	case FreeBuffer:
		return []imbolc.Message{imbolc.FreeBufferMessage(op.Node)}
	case SendRaw:
		return []imbolc.Message{imbolc.NewMessage(op.Addr, op.Args...)}
	}
	return nil
}

func decodeSynthNew(m imbolc.Message) (Synth, bool) {
	if m.Addr() != imbolc.AddrSynthNew || m.NumArgs() < 4 {
		return Synth{}, false
	}
	def, ok1 := m.Arg(0).(imbolc.String)
	id, ok2 := m.Arg(1).(imbolc.Int)
	group, ok3 := m.Arg(3).(imbolc.Int)
	if !ok1 || !ok2 || !ok3 {
		return Synth{}, false
	}
	s := Synth{Def: string(def), ID: int32(id), Group: int32(group)}
	for i := 4; i+1 < m.NumArgs(); i += 2 {
		name, ok := m.Arg(i).(imbolc.String)
		value, ok2 := m.Arg(i + 1).(imbolc.Float)
		if !ok || !ok2 {
			continue
		}
		s.Params = append(s.Params, imbolc.Param{Name: string(name), Value: float32(value)})
	}
	return s, true
}
