package scsynth

import (
	"log"
	"net"
	"sync"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"
)

// ErrQueueFull is returned by Sender.Send when the outgoing queue has no room.
// The packet is dropped.
var ErrQueueFull = errors.New("send queue full")

// ErrSenderClosed is returned by Sender.Send after Close.
var ErrSenderClosed = errors.New("sender closed")

// Sender is a Client that encodes packets on the calling goroutine and hands
// the bytes to a dedicated goroutine, which writes them on its own socket.
// Send never blocks, so the control thread never waits on network I/O.
//
// Closing follows the same pattern as the tracker's goroutines: Close signals
// the writer to stop, and Finished is closed once the writer has drained the
// queue and closed the socket.
type Sender struct {
	conn     *net.UDPConn
	queue    chan []byte
	logger   *log.Logger
	mu       sync.RWMutex
	closed   bool
	Finished chan struct{}
}

// NewSender starts the writer goroutine on conn with room for size packets.
// A nil logger means log.Default().
func NewSender(conn *net.UDPConn, size int, logger *log.Logger) *Sender {
	if logger == nil {
		logger = log.Default()
	}
	if size <= 0 {
		size = 1
	}
	s := &Sender{
		conn:     conn,
		queue:    make(chan []byte, size),
		logger:   logger,
		Finished: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sender) Send(p osc.Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encoding packet")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSenderClosed
	}
	select {
	case s.queue <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting packets; already queued packets are still written.
// It does not wait; receive from Finished for that.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

// Pending returns the number of packets waiting to be written.
func (s *Sender) Pending() int {
	return len(s.queue)
}

func (s *Sender) run() {
	defer close(s.Finished)
	defer s.conn.Close()
	for data := range s.queue {
		if _, err := s.conn.Write(data); err != nil {
			s.logger.Printf("scsynth sender: write failed: %v", err)
		}
	}
}
