// Package quicdg exposes the hub over QUIC. Each client connection carries
// two channel classes: short-lived streams for frames that must arrive
// (handshake, keyframes, updates, rejections) and QUIC datagrams for
// traffic covered by retransmission or resampling (inbound input windows,
// pings, pongs). Frame payloads are the same JSON envelopes the websocket
// transport uses.
package quicdg

import (
	"context"
	"crypto/tls"
	"log"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"gridlock/server"
)

const (
	closeCodeGoingAway = quic.ApplicationErrorCode(0x0000)
	closeCodeRejected  = quic.ApplicationErrorCode(0x000a)

	maxFrameSize = 64 * 1024
)

var bufferPool = &sync.Pool{
	New: func() any {
		buf := make([]byte, 4096)
		return &buf
	},
}

// Listener accepts QUIC connections and binds each one to a hub session.
type Listener struct {
	hub      *server.Hub
	listener *quic.Listener
	logger   *log.Logger
}

// Listen binds addr and prepares the accept loop. Serve must be called to
// start accepting.
func Listen(addr string, tlsConf *tls.Config, hub *server.Hub, logger *log.Logger) (*Listener, error) {
	if logger == nil {
		logger = log.Default()
	}
	quicConf := &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
	listener, err := quic.ListenAddr(addr, tlsConf, quicConf)
	if err != nil {
		return nil, err
	}
	return &Listener{hub: hub, listener: listener, logger: logger}, nil
}

// Addr reports the bound address.
func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled or the listener closes.
func (l *Listener) Serve(ctx context.Context) {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				l.logger.Printf("quic accept failed: %v", err)
				return
			}
		}
		go l.handleConn(ctx, conn)
	}
}

// Close stops the accept loop. Established connections shut down through
// their own contexts.
func (l *Listener) Close() error {
	return l.listener.Close()
}

func (l *Listener) handleConn(ctx context.Context, conn quic.Connection) {
	writer := newSession(ctx, conn)
	sess, err := l.hub.Join(writer)
	if err != nil {
		l.logger.Printf("quic join rejected for %s: %v", conn.RemoteAddr(), err)
		conn.CloseWithError(closeCodeRejected, "join rejected")
		return
	}

	go writer.writePump()
	go l.datagramPump(writer, sess)
	l.streamPump(writer, sess)
}

// streamPump drains inbound reliable frames. It owns the connection's
// lifetime: when it returns the session is disconnected.
func (l *Listener) streamPump(writer *session, sess *server.Session) {
	defer l.hub.Disconnect(sess.ID(), "connection closed")

	for {
		stream, err := writer.conn.AcceptStream(writer.ctx)
		if err != nil {
			return
		}
		payload, err := readFrame(stream)
		if err != nil {
			return
		}
		if err := l.hub.HandleMessage(sess, payload); err != nil {
			l.hub.Disconnect(sess.ID(), "write failure")
			return
		}
	}
}

// datagramPump drains inbound unreliable frames (inputs, pings).
func (l *Listener) datagramPump(writer *session, sess *server.Session) {
	for {
		payload, err := writer.conn.ReceiveDatagram(writer.ctx)
		if err != nil {
			return
		}
		if err := l.hub.HandleMessage(sess, payload); err != nil {
			l.hub.Disconnect(sess.ID(), "write failure")
			return
		}
	}
}

// readFrame consumes one stream to EOF. Clients close their end after each
// frame, so a frame is exactly the stream's contents.
func readFrame(stream quic.Stream) ([]byte, error) {
	defer stream.Close()

	buf := *bufferPool.Get().(*[]byte)
	defer bufferPool.Put(&buf)

	var frame []byte
	for len(frame) < maxFrameSize {
		n, err := stream.Read(buf)
		if n > 0 {
			frame = append(frame, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return frame, nil
}
