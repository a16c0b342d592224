// Package scsynth implements imbolc.Backend for a SuperCollider synthesis
// server reached over OSC/UDP.
package scsynth

import (
	"net"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"

	imbolc "github.com/mohsenil85/imbolc-workspace-sub002"
)

type (
	// Client delivers encoded OSC packets to the server. UDPClient writes
	// directly on the calling goroutine; Sender queues for a background
	// goroutine.
	Client interface {
		Send(p osc.Packet) error
	}

	// Backend translates backend calls to OSC messages and bundles. Bundles
	// with a non-immediate offset are timestamped now+offset, so the server
	// executes them at that moment regardless of network jitter.
	Backend struct {
		client Client
		conn   *net.UDPConn
		addr   *net.UDPAddr
		now    func() time.Time
	}

	// UDPClient sends each packet as one datagram on a connected socket.
	UDPClient struct {
		conn *net.UDPConn
	}
)

// immediately is the OSC timetag meaning "execute on arrival".
const immediately = 1

var _ imbolc.Backend = (*Backend)(nil)

// Dial connects a UDP socket to the server at addr (host:port).
func Dial(addr string) (*Backend, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving server address %s", addr)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "dialing server")
	}
	return &Backend{
		client: &UDPClient{conn: conn},
		conn:   conn,
		addr:   raddr,
		now:    time.Now,
	}, nil
}

// NewBackend returns a Backend sending through client. It has no socket of
// its own, so CloneConn and ServerAddr report imbolc.ErrUnavailable.
func NewBackend(client Client) *Backend {
	return &Backend{client: client, now: time.Now}
}

// SetClient replaces the packet client, typically with a Sender started on
// a socket from CloneConn. It must be called before the backend is shared
// with other goroutines.
func (b *Backend) SetClient(c Client) {
	b.client = c
}

// Close closes the socket opened by Dial.
func (b *Backend) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

func (b *Backend) CreateGroup(id int32, action imbolc.AddAction, target int32) error {
	return b.send(imbolc.GroupNewMessage(id, action, target))
}

func (b *Backend) CreateSynth(def string, id int32, group int32, params []imbolc.Param) error {
	return b.send(imbolc.SynthNewMessage(def, id, group, params))
}

func (b *Backend) FreeNode(id int32) error {
	return b.send(imbolc.FreeNodeMessage(id))
}

func (b *Backend) SetParam(node int32, name string, value float32) error {
	return b.send(imbolc.SetParamMessage(node, name, value))
}

func (b *Backend) SetParams(node int32, params []imbolc.Param) error {
	if len(params) == 0 {
		return nil
	}
	return b.send(imbolc.SetParamsMessage(node, params))
}

func (b *Backend) SetParamsBundled(node int32, params []imbolc.Param, offset imbolc.Offset) error {
	if len(params) == 0 {
		return nil
	}
	return b.SendBundle([]imbolc.Message{imbolc.SetParamsMessage(node, params)}, offset)
}

func (b *Backend) SendBundle(msgs []imbolc.Message, offset imbolc.Offset) error {
	if len(msgs) == 0 {
		return nil
	}
	bundle := b.bundle(offset)
	for _, m := range msgs {
		if err := bundle.Append(encode(m)); err != nil {
			return imbolc.Errorf("scsynth: building bundle: %v", err)
		}
	}
	if err := b.client.Send(bundle); err != nil {
		return imbolc.Errorf("scsynth: sending bundle of %d messages: %v", len(msgs), err)
	}
	return nil
}

func (b *Backend) SendUnitCommand(node int32, unit int32, command string, args []imbolc.Arg) error {
	return b.send(imbolc.UnitCommandMessage(node, unit, command, args))
}

func (b *Backend) LoadBuffer(id int32, path string) error {
	return b.send(imbolc.LoadBufferMessage(id, path))
}

func (b *Backend) AllocBuffer(id int32, frames, channels int32) error {
	return b.send(imbolc.AllocBufferMessage(id, frames, channels))
}

func (b *Backend) OpenBuffer(id int32, path string) error {
	return b.send(imbolc.OpenBufferMessage(id, path))
}

func (b *Backend) CloseBuffer(id int32) error {
	return b.send(imbolc.CloseBufferMessage(id))
}

func (b *Backend) QueryBuffer(id int32) error {
	return b.send(imbolc.QueryBufferMessage(id))
}

func (b *Backend) FreeBuffer(id int32) error {
	return b.send(imbolc.FreeBufferMessage(id))
}

func (b *Backend) SendRaw(addr string, args []imbolc.Arg) error {
	return b.send(imbolc.NewMessage(addr, args...))
}

// CloneConn duplicates the socket's file descriptor. The clone shares the
// remote address, so it can be written to independently, e.g. by a Sender.
func (b *Backend) CloneConn() (*net.UDPConn, error) {
	if b.conn == nil {
		return nil, imbolc.ErrUnavailable
	}
	f, err := b.conn.File()
	if err != nil {
		return nil, imbolc.Errorf("scsynth: cloning socket: %v", err)
	}
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, imbolc.Errorf("scsynth: cloning socket: %v", err)
	}
	udp, ok := c.(*net.UDPConn)
	if !ok {
		c.Close()
		return nil, imbolc.Errorf("scsynth: cloned socket is not UDP")
	}
	return udp, nil
}

func (b *Backend) ServerAddr() (net.Addr, error) {
	if b.addr == nil {
		return nil, imbolc.ErrUnavailable
	}
	return b.addr, nil
}

func (b *Backend) send(m imbolc.Message) error {
	if err := b.client.Send(encode(m)); err != nil {
		return imbolc.Errorf("scsynth: %s: %v", m.Addr(), err)
	}
	return nil
}

func (b *Backend) bundle(offset imbolc.Offset) *osc.Bundle {
	if offset.IsImmediate() {
		bundle := osc.NewBundle(b.now())
		bundle.Timetag = *osc.NewTimetagFromTimetag(immediately)
		return bundle
	}
	return osc.NewBundle(b.now().Add(imbolc.Seconds(float64(offset))))
}

// encode converts a message to its OSC form. Arguments map one to one to the
// OSC int32, float32, string and blob types.
func encode(m imbolc.Message) *osc.Message {
	msg := osc.NewMessage(m.Addr())
	for _, a := range m.Args() {
		switch v := a.(type) {
		case imbolc.Int:
			msg.Append(int32(v))
		case imbolc.Float:
			msg.Append(float32(v))
		case imbolc.String:
			msg.Append(string(v))
		case imbolc.Blob:
			msg.Append([]byte(v))
		}
	}
	return msg
}

// NewUDPClient wraps a connected UDP socket.
func NewUDPClient(conn *net.UDPConn) *UDPClient {
	return &UDPClient{conn: conn}
}

func (c *UDPClient) Send(p osc.Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encoding packet")
	}
	if _, err := c.conn.Write(data); err != nil {
		return errors.Wrap(err, "writing packet")
	}
	return nil
}
