package server

import (
	"sync"
	"time"

	"gridlock/server/internal/game"
	"gridlock/server/internal/lockstep"
	"gridlock/server/internal/world"
)

// MessageWriter is the transport half of a session. Implementations own
// their write serialization and deadlines; reliable selects the ordered
// channel where the transport has an unreliable one.
type MessageWriter interface {
	WriteMessage(data []byte, reliable bool) error
	Close() error
}

// Session is one connected client's replication state: what it knows, which
// inputs it has sent, and where its frames go.
type Session struct {
	id     game.PlayerID
	writer MessageWriter

	mu            sync.Mutex
	know          *world.Knowledge
	acc           world.Accumulator
	pending       []world.Input
	pendingUpTo   uint32
	lastReceived  uint32
	lastApplied   uint32
	window        int
	dropped       uint64
	needKeyframe  bool
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

func newSession(id game.PlayerID, writer MessageWriter, know *world.Knowledge, window int, now time.Time) *Session {
	return &Session{
		id:            id,
		writer:        writer,
		know:          know,
		acc:           world.NewAccumulator(),
		window:        window,
		needKeyframe:  true,
		lastHeartbeat: now,
	}
}

// ID returns the player identity bound to this session.
func (s *Session) ID() game.PlayerID { return s.id }

// enqueue merges a retransmitted input window into the pending queue,
// skipping sequences already received. Inputs beyond the window are dropped
// and counted; the client retransmits until acknowledged.
func (s *Session) enqueue(req *lockstep.Request) (accepted, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, in := range req.Inputs {
		seq := req.First + uint32(i)
		if seq <= s.lastReceived {
			continue
		}
		if seq != s.lastReceived+1 {
			// The client evicted inputs this session never saw. Resume
			// from its window rather than waiting for sequences that no
			// longer exist anywhere.
			dropped += int(seq - s.lastReceived - 1)
			s.dropped += uint64(seq - s.lastReceived - 1)
			s.lastReceived = seq - 1
		}
		if len(s.pending) >= s.window {
			// Window full: stop here and let the client retransmit the
			// rest once the queue drains.
			break
		}
		s.pending = append(s.pending, in)
		s.lastReceived = seq
		accepted++
	}
	return accepted, dropped
}

// takeInputs drains the pending queue for this tick and remembers the
// sequence the drain reaches, so markApplied can advance the ack cursor
// once the tick commits.
func (s *Session) takeInputs() []world.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	inputs := s.pending
	s.pending = nil
	s.pendingUpTo = s.lastReceived
	return inputs
}

func (s *Session) markApplied() {
	s.mu.Lock()
	s.lastApplied = s.pendingUpTo
	s.mu.Unlock()
}

// occupancy reports how full the input window is, for the client's rate
// controller.
func (s *Session) occupancy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window <= 0 {
		return 0
	}
	return float64(len(s.pending)) / float64(s.window)
}

func (s *Session) acks() (lastApplied, lastReceived uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastApplied, s.lastReceived
}

func (s *Session) markHeartbeat(receivedAt time.Time, clientSent int64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = receivedAt
	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			s.lastRTT = rtt
		}
	}
	return s.lastRTT
}

func (s *Session) heartbeatAge(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastHeartbeat)
}

func (s *Session) scheduleKeyframe() {
	s.mu.Lock()
	s.needKeyframe = true
	s.mu.Unlock()
}
