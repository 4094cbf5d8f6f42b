package quicdg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	sendBuffer  = 256
	sendTimeout = time.Second
)

// outgoing is one frame queued for the write pump, tagged with the channel
// class it should ride on.
type outgoing struct {
	payload  []byte
	reliable bool
}

// session adapts one QUIC connection to the hub's MessageWriter. Reliable
// frames travel on short-lived streams, unreliable ones as datagrams.
type session struct {
	conn      quic.Connection
	send      chan outgoing
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newSession(parent context.Context, conn quic.Connection) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		conn:   conn,
		send:   make(chan outgoing, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// WriteMessage queues a frame for delivery. A connection that cannot drain
// its queue within sendTimeout is reported as failed so the hub drops it.
func (s *session) WriteMessage(data []byte, reliable bool) error {
	select {
	case s.send <- outgoing{payload: data, reliable: reliable}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-time.After(sendTimeout):
		return fmt.Errorf("send queue full for %s", s.conn.RemoteAddr())
	}
}

// Close tears the connection down. Safe to call from both the hub and the
// pumps.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.CloseWithError(closeCodeGoingAway, "session closed")
	})
	return err
}

func (s *session) writePump() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.send:
			if !msg.reliable {
				// Datagram loss is acceptable here: pongs are resampled
				// on the next ping.
				_ = s.conn.SendDatagram(msg.payload)
				continue
			}

			stream, err := s.conn.OpenStreamSync(s.ctx)
			if err != nil {
				s.Close()
				return
			}
			if _, err := stream.Write(msg.payload); err != nil {
				stream.Close()
				s.Close()
				return
			}
			stream.Close()
		}
	}
}
