package imbolc

import "net"

// NullBackend is a Backend that does nothing and always succeeds. It is used
// whenever there is no server connection, so that callers never need to check
// whether they are connected.
type NullBackend struct{}

var _ Backend = NullBackend{}

func (NullBackend) CreateGroup(int32, AddAction, int32) error         { return nil }
func (NullBackend) CreateSynth(string, int32, int32, []Param) error   { return nil }
func (NullBackend) FreeNode(int32) error                              { return nil }
func (NullBackend) SetParam(int32, string, float32) error             { return nil }
func (NullBackend) SetParams(int32, []Param) error                    { return nil }
func (NullBackend) SetParamsBundled(int32, []Param, Offset) error     { return nil }
func (NullBackend) SendBundle([]Message, Offset) error                { return nil }
func (NullBackend) SendUnitCommand(int32, int32, string, []Arg) error { return nil }
func (NullBackend) LoadBuffer(int32, string) error                    { return nil }
func (NullBackend) AllocBuffer(int32, int32, int32) error             { return nil }
func (NullBackend) OpenBuffer(int32, string) error                    { return nil }
func (NullBackend) CloseBuffer(int32) error                           { return nil }
func (NullBackend) QueryBuffer(int32) error                           { return nil }
func (NullBackend) FreeBuffer(int32) error                            { return nil }
func (NullBackend) SendRaw(string, []Arg) error                       { return nil }
func (NullBackend) CloneConn() (*net.UDPConn, error)                  { return nil, ErrUnavailable }
func (NullBackend) ServerAddr() (net.Addr, error)                     { return nil, ErrUnavailable }
