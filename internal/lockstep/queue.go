package lockstep

import (
	"time"

	"gridlock/server/internal/world"
)

// entry is one sent input awaiting acknowledgement.
type entry struct {
	seq    uint32
	input  world.Input
	sentAt time.Time
}

// queue stores unacknowledged inputs in a fixed-size ring. Sequence
// numbers start at 1 and never reuse; capacity is the prediction horizon,
// since every unacknowledged input is one speculatively simulated tick.
// The client is single-threaded, so the ring carries no lock.
type queue struct {
	data    []entry
	head    int
	tail    int
	count   int
	nextSeq uint32
}

func newQueue(capacity int) *queue {
	if capacity < 1 {
		capacity = 1
	}
	return &queue{data: make([]entry, capacity), nextSeq: 1}
}

func (q *queue) len() int  { return q.count }
func (q *queue) cap() int  { return len(q.data) }
func (q *queue) full() bool { return q.count == len(q.data) }

// lastSeq reports the most recently assigned sequence number, 0 when
// nothing has been sent yet.
func (q *queue) lastSeq() uint32 { return q.nextSeq - 1 }

// push appends an input, returning its assigned sequence number. Fails
// when the ring is full.
func (q *queue) push(input world.Input, now time.Time) (uint32, bool) {
	if q.full() {
		return 0, false
	}
	seq := q.nextSeq
	q.nextSeq++
	q.data[q.tail] = entry{seq: seq, input: input, sentAt: now}
	q.tail = (q.tail + 1) % len(q.data)
	q.count++
	return seq, true
}

// evictOldest drops the oldest unacknowledged input to make room.
func (q *queue) evictOldest() (entry, bool) {
	if q.count == 0 {
		return entry{}, false
	}
	e := q.data[q.head]
	q.head = (q.head + 1) % len(q.data)
	q.count--
	return e, true
}

// ackThrough pops every entry with sequence number at or below seq and
// returns them in send order.
func (q *queue) ackThrough(seq uint32) []entry {
	var acked []entry
	for q.count > 0 && q.data[q.head].seq <= seq {
		acked = append(acked, q.data[q.head])
		q.head = (q.head + 1) % len(q.data)
		q.count--
	}
	return acked
}

// unacked returns the pending entries in send order.
func (q *queue) unacked() []entry {
	if q.count == 0 {
		return nil
	}
	out := make([]entry, q.count)
	for i := 0; i < q.count; i++ {
		out[i] = q.data[(q.head+i)%len(q.data)]
	}
	return out
}

// sentTime looks up when the entry with the given sequence number was
// sent.
func (q *queue) sentTime(seq uint32) (time.Time, bool) {
	for i := 0; i < q.count; i++ {
		e := q.data[(q.head+i)%len(q.data)]
		if e.seq == seq {
			return e.sentAt, true
		}
	}
	return time.Time{}, false
}

// reset discards everything but keeps the sequence counter running, so a
// resync never reuses a sequence number the server may still remember.
func (q *queue) reset() {
	q.head = 0
	q.tail = 0
	q.count = 0
}
