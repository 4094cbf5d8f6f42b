package journal

import (
	"fmt"
)

// Reason records one desync report that contributed to a resync decision.
type Reason struct {
	Session string
	Tick    uint64
}

// Signal summarizes the divergence that triggered a resync.
type Signal struct {
	Desyncs      uint64
	TotalUpdates uint64
	Reasons      []Reason
}

// Policy decides when reported desyncs warrant pushing a fresh keyframe.
// Desyncs are weighed against the total update volume so a single stale
// report after hours of clean replication does not force a resync storm.
type Policy struct {
	totalUpdates uint64
	desyncs      uint64
	pending      bool
	reasons      []Reason
}

const desyncThresholdPerTenThousand = 1
const reasonLimit = 8

func NewPolicy() *Policy {
	return &Policy{reasons: make([]Reason, 0, reasonLimit)}
}

// NoteUpdate counts one delivered update toward the divergence ratio.
func (p *Policy) NoteUpdate() {
	if p == nil {
		return
	}
	if p.totalUpdates == ^uint64(0) {
		p.totalUpdates = p.totalUpdates / 2
		p.desyncs = p.desyncs / 2
	}
	p.totalUpdates++
}

// NoteDesync records a client-reported checksum divergence.
func (p *Policy) NoteDesync(session string, tick uint64) {
	if p == nil {
		return
	}
	p.desyncs++
	if len(p.reasons) < reasonLimit {
		p.reasons = append(p.reasons, Reason{Session: session, Tick: tick})
	}
	p.evaluate()
}

func (p *Policy) evaluate() {
	if p == nil || p.pending || p.desyncs == 0 {
		return
	}
	total := p.totalUpdates
	if total == 0 {
		total = 1
	}
	if p.desyncs*10000 >= total*desyncThresholdPerTenThousand {
		p.pending = true
	}
}

// Consume returns and clears the pending resync signal, if any.
func (p *Policy) Consume() (Signal, bool) {
	if p == nil || !p.pending {
		return Signal{}, false
	}
	signal := Signal{
		Desyncs:      p.desyncs,
		TotalUpdates: p.totalUpdates,
		Reasons:      append([]Reason(nil), p.reasons...),
	}
	p.pending = false
	p.totalUpdates = 0
	p.desyncs = 0
	if len(p.reasons) > 0 {
		p.reasons = p.reasons[:0]
	}
	return signal, true
}

func (s Signal) Summary() string {
	if s.Desyncs == 0 && s.TotalUpdates == 0 {
		return ""
	}
	return fmt.Sprintf("desyncs=%d total_updates=%d reasons=%v", s.Desyncs, s.TotalUpdates, s.Reasons)
}
