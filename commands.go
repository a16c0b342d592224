package imbolc

// Addresses of the synthesis server commands used by the core. All wire
// layouts are built by the functions below; the live backend, the recording
// double and the automation collector share them so that every path produces
// identical messages.
const (
	AddrGroupNew    = "/g_new"
	AddrSynthNew    = "/s_new"
	AddrNodeFree    = "/n_free"
	AddrNodeSet     = "/n_set"
	AddrUnitCommand = "/u_cmd"
	AddrBufAllocRd  = "/b_allocRead"
	AddrBufAlloc    = "/b_alloc"
	AddrBufWrite    = "/b_write"
	AddrBufClose    = "/b_close"
	AddrBufQuery    = "/b_query"
	AddrBufFree     = "/b_free"
)

func GroupNewMessage(id int32, action AddAction, target int32) Message {
	return NewMessage(AddrGroupNew, Int(id), Int(action), Int(target))
}

// SynthNewMessage creates a synth at the tail of group.
func SynthNewMessage(def string, id int32, group int32, params []Param) Message {
	args := make([]Arg, 0, 4+2*len(params))
	args = append(args, String(def), Int(id), Int(AddToTail), Int(group))
	return NewMessage(AddrSynthNew, appendParams(args, params)...)
}

func FreeNodeMessage(id int32) Message {
	return NewMessage(AddrNodeFree, Int(id))
}

func SetParamMessage(node int32, name string, value float32) Message {
	return NewMessage(AddrNodeSet, Int(node), String(name), Float(value))
}

func SetParamsMessage(node int32, params []Param) Message {
	args := make([]Arg, 0, 1+2*len(params))
	args = append(args, Int(node))
	return NewMessage(AddrNodeSet, appendParams(args, params)...)
}

// UnitCommandMessage addresses a command to one unit generator inside a node,
// e.g. the "/set" command of a plugin host unit.
func UnitCommandMessage(node int32, unit int32, command string, args []Arg) Message {
	all := make([]Arg, 0, 3+len(args))
	all = append(all, Int(node), Int(unit), String(command))
	all = append(all, args...)
	return NewMessage(AddrUnitCommand, all...)
}

func LoadBufferMessage(id int32, path string) Message {
	return NewMessage(AddrBufAllocRd, Int(id), String(path))
}

func AllocBufferMessage(id int32, frames, channels int32) Message {
	return NewMessage(AddrBufAlloc, Int(id), Int(frames), Int(channels))
}

// OpenBufferMessage opens a sound file for streaming writes from an already
// allocated buffer. The file stays open until CloseBufferMessage.
func OpenBufferMessage(id int32, path string) Message {
	return NewMessage(AddrBufWrite, Int(id), String(path), String("wav"), String("float"), Int(0), Int(0), Int(1))
}

func CloseBufferMessage(id int32) Message { return NewMessage(AddrBufClose, Int(id)) }

func QueryBufferMessage(id int32) Message { return NewMessage(AddrBufQuery, Int(id)) }

func FreeBufferMessage(id int32) Message { return NewMessage(AddrBufFree, Int(id)) }

func appendParams(args []Arg, params []Param) []Arg {
	for _, p := range params {
		args = append(args, String(p.Name), Float(p.Value))
	}
	return args
}
