package imbolc

import (
	"errors"
	"fmt"
	"net"
)

type (
	// Backend exposes every synthesis-server operation the core needs as a
	// typed call, independent of the wire encoding. Routing and allocation
	// logic is written against this interface, so it can be tested with the
	// recording double instead of a live server.
	//
	// SetParam, SetParams and SetParamsBundled are three escalating
	// granularities: a single immediate set, an atomic multi-set in one
	// message, and a multi-set wrapped in a timestamped bundle.
	Backend interface {
		CreateGroup(id int32, action AddAction, target int32) error
		CreateSynth(def string, id int32, group int32, params []Param) error
		FreeNode(id int32) error

		SetParam(node int32, name string, value float32) error
		SetParams(node int32, params []Param) error
		SetParamsBundled(node int32, params []Param, offset Offset) error
		SendBundle(msgs []Message, offset Offset) error
		SendUnitCommand(node int32, unit int32, command string, args []Arg) error

		LoadBuffer(id int32, path string) error
		AllocBuffer(id int32, frames, channels int32) error
		OpenBuffer(id int32, path string) error
		CloseBuffer(id int32) error
		QueryBuffer(id int32) error
		FreeBuffer(id int32) error

		SendRaw(addr string, args []Arg) error

		// CloneConn returns a duplicate of the transport socket, so that a
		// low-latency sender can write on it from its own goroutine.
		// Backends without a network connection return ErrUnavailable.
		CloneConn() (*net.UDPConn, error)
		// ServerAddr returns the network address of the synthesis server, or
		// ErrUnavailable.
		ServerAddr() (net.Addr, error)
	}

	// Param is a named float parameter of a node.
	Param struct {
		Name  string
		Value float32
	}

	// AddAction tells the server where to place a new node relative to its
	// target node.
	AddAction int32

	// BackendError is the only error kind the backends return: the message
	// could not be delivered. Message is meant for humans.
	BackendError struct {
		Message string
	}
)

const (
	AddToHead AddAction = iota
	AddToTail
	AddBefore
	AddAfter
	AddReplace
)

// ErrUnavailable is returned by the transport capabilities of backends that
// have no network connection.
var ErrUnavailable = &BackendError{Message: "not available on this backend"}

func (e *BackendError) Error() string { return e.Message }

// Errorf formats a BackendError. A %w verb is rendered into the message only;
// the wrapped error is not kept, as callers never inspect it.
func Errorf(format string, a ...any) error {
	return &BackendError{Message: fmt.Errorf(format, a...).Error()}
}

// IsUnavailable reports whether err is ErrUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// P is a short constructor for a Param.
func P(name string, value float32) Param {
	return Param{Name: name, Value: value}
}
