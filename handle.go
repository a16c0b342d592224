package imbolc

import (
	"net"
	"sync/atomic"
)

// Handle is a shared, swappable reference to a Backend. It always holds a
// valid backend: a zero Handle, or one set to nil, uses NullBackend. The
// control thread owns the Handle and calls through it; whoever installed the
// backend (e.g. a test holding a *recording.Backend) keeps its own pointer to
// the same value and can inspect it afterwards.
type Handle struct {
	current atomic.Pointer[backendBox]
}

type backendBox struct{ Backend }

var _ Backend = (*Handle)(nil)

// NewHandle returns a Handle using b, or NullBackend if b is nil.
func NewHandle(b Backend) *Handle {
	h := &Handle{}
	h.Set(b)
	return h
}

// Set replaces the backend. Calls already in flight finish on the old one.
func (h *Handle) Set(b Backend) {
	if b == nil {
		b = NullBackend{}
	}
	h.current.Store(&backendBox{b})
}

// Get returns the current backend; never nil.
func (h *Handle) Get() Backend {
	if box := h.current.Load(); box != nil {
		return box.Backend
	}
	return NullBackend{}
}

// Connected reports whether the current backend has a network transport.
func (h *Handle) Connected() bool {
	_, err := h.Get().ServerAddr()
	return err == nil
}

func (h *Handle) CreateGroup(id int32, action AddAction, target int32) error {
	return h.Get().CreateGroup(id, action, target)
}

func (h *Handle) CreateSynth(def string, id int32, group int32, params []Param) error {
	return h.Get().CreateSynth(def, id, group, params)
}

func (h *Handle) FreeNode(id int32) error { return h.Get().FreeNode(id) }

func (h *Handle) SetParam(node int32, name string, value float32) error {
	return h.Get().SetParam(node, name, value)
}

func (h *Handle) SetParams(node int32, params []Param) error {
	return h.Get().SetParams(node, params)
}

func (h *Handle) SetParamsBundled(node int32, params []Param, offset Offset) error {
	return h.Get().SetParamsBundled(node, params, offset)
}

func (h *Handle) SendBundle(msgs []Message, offset Offset) error {
	return h.Get().SendBundle(msgs, offset)
}

func (h *Handle) SendUnitCommand(node int32, unit int32, command string, args []Arg) error {
	return h.Get().SendUnitCommand(node, unit, command, args)
}

func (h *Handle) LoadBuffer(id int32, path string) error { return h.Get().LoadBuffer(id, path) }

func (h *Handle) AllocBuffer(id int32, frames, channels int32) error {
	return h.Get().AllocBuffer(id, frames, channels)
}

func (h *Handle) OpenBuffer(id int32, path string) error { return h.Get().OpenBuffer(id, path) }
func (h *Handle) CloseBuffer(id int32) error             { return h.Get().CloseBuffer(id) }
func (h *Handle) QueryBuffer(id int32) error             { return h.Get().QueryBuffer(id) }
func (h *Handle) FreeBuffer(id int32) error              { return h.Get().FreeBuffer(id) }

func (h *Handle) SendRaw(addr string, args []Arg) error { return h.Get().SendRaw(addr, args) }

func (h *Handle) CloneConn() (*net.UDPConn, error) { return h.Get().CloneConn() }
func (h *Handle) ServerAddr() (net.Addr, error)    { return h.Get().ServerAddr() }
