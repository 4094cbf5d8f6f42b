package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"gridlock/server/logging"
)

// jsonRecord is the NDJSON line layout. Encoding through a struct keeps
// the field order stable for log processors.
type jsonRecord struct {
	Type      logging.EventType   `json:"type"`
	Tick      uint64              `json:"tick"`
	Time      string              `json:"time"`
	Severity  logging.Severity    `json:"severity"`
	Category  string              `json:"category,omitempty"`
	Actor     logging.EntityRef   `json:"actor"`
	Targets   []logging.EntityRef `json:"targets,omitempty"`
	Payload   any                 `json:"payload,omitempty"`
	Extra     map[string]any      `json:"extra,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
}

// JSON appends one NDJSON line per event, flushed either on every write or
// by a background loop on an interval.
type JSON struct {
	mu       sync.Mutex
	writer   *bufio.Writer
	enc      *json.Encoder
	eager    bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewJSON wraps w in a buffered NDJSON sink. A flushInterval of zero
// flushes after every event instead of batching.
func NewJSON(w io.Writer, flushInterval time.Duration) *JSON {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	s := &JSON{
		writer: buf,
		enc:    json.NewEncoder(buf),
		eager:  flushInterval <= 0,
		stop:   make(chan struct{}),
	}
	if !s.eager {
		go s.flushLoop(flushInterval)
	}
	return s
}

// Write satisfies logging.Sink.
func (s *JSON) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := jsonRecord{
		Type:      event.Type,
		Tick:      event.Tick,
		Time:      event.Time.Format(time.RFC3339Nano),
		Severity:  event.Severity,
		Category:  event.Category,
		Actor:     event.Actor,
		Targets:   event.Targets,
		Payload:   event.Payload,
		Extra:     event.Extra,
		SessionID: event.SessionID,
	}
	if err := s.enc.Encode(rec); err != nil {
		return err
	}
	if s.eager {
		return s.writer.Flush()
	}
	return nil
}

// Close stops the background flusher and drains the buffer.
func (s *JSON) Close(context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Flush()
}

func (s *JSON) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.writer.Flush()
			s.mu.Unlock()
		}
	}
}
