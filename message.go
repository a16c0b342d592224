package imbolc

import (
	"fmt"
	"strings"
)

type (
	// Arg is one typed argument of an addressed message. The concrete types
	// are Int, Float, String and Blob; no other types are accepted by the
	// backends.
	Arg interface {
		isArg()
	}

	Int    int32
	Float  float32
	String string
	Blob   []byte

	// Message is an addressed message: an address such as "/n_set" and an
	// ordered list of typed arguments. A Message is immutable once
	// constructed; use NewMessage to build one.
	Message struct {
		addr string
		args []Arg
	}

	// Offset is a bundle execution time, in seconds from now. The sentinel
	// Immediate asks the server to execute the bundle as soon as it arrives.
	Offset float64
)

// Immediate is the Offset for "execute as soon as received". All non-negative
// offsets are relative to the moment of sending.
const Immediate Offset = -1

func (Int) isArg()    {}
func (Float) isArg()  {}
func (String) isArg() {}
func (Blob) isArg()   {}

// NewMessage returns a message with the given address and arguments. The
// argument slice is copied, so later changes to args do not leak into the
// message.
func NewMessage(addr string, args ...Arg) Message {
	m := Message{addr: addr}
	if len(args) > 0 {
		m.args = make([]Arg, len(args))
		copy(m.args, args)
	}
	return m
}

func (m Message) Addr() string { return m.addr }

// Args returns a copy of the arguments of the message.
func (m Message) Args() []Arg {
	ret := make([]Arg, len(m.args))
	copy(ret, m.args)
	return ret
}

func (m Message) NumArgs() int { return len(m.args) }

func (m Message) Arg(i int) Arg { return m.args[i] }

func (m Message) String() string {
	var b strings.Builder
	b.WriteString(m.addr)
	for _, a := range m.args {
		switch v := a.(type) {
		case String:
			fmt.Fprintf(&b, " %q", string(v))
		case Blob:
			fmt.Fprintf(&b, " <%d bytes>", len(v))
		default:
			fmt.Fprintf(&b, " %v", v)
		}
	}
	return b.String()
}

// IsImmediate reports whether the offset is the Immediate sentinel. Any
// negative offset is treated as immediate.
func (o Offset) IsImmediate() bool { return o < 0 }
