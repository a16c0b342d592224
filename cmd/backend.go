package cmd

import (
	"fmt"
	"log"

	"github.com/mohsenil85/imbolc-workspace-sub002/scsynth"
)

// Connection is a live scsynth backend whose packets are written by a
// Sender goroutine on a cloned socket, so the control loop never waits on
// the network.
type Connection struct {
	Backend *scsynth.Backend
	Sender  *scsynth.Sender
}

// Connect dials scsynth at addr. queue is the number of packets the sender
// buffers before Send starts failing.
func Connect(addr string, queue int, logger *log.Logger) (*Connection, error) {
	b, err := scsynth.Dial(addr)
	if err != nil {
		return nil, err
	}
	conn, err := b.CloneConn()
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("could not clone the connection to %v: %w", addr, err)
	}
	s := scsynth.NewSender(conn, queue, logger)
	b.SetClient(s)
	return &Connection{Backend: b, Sender: s}, nil
}

// Close stops the sender after it has written the queued packets and closes
// the backend's own socket.
func (c *Connection) Close() error {
	c.Sender.Close()
	<-c.Sender.Finished
	return c.Backend.Close()
}
