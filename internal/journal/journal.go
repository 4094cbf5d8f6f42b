// Package journal retains recent world keyframes so clients that fall
// behind or report divergence can be resynchronized from a known-good
// snapshot instead of restarting their session.
package journal

import (
	"sync"
	"time"

	"gridlock/server/internal/world"
)

// Telemetry receives retention-window updates as keyframes are recorded.
type Telemetry interface {
	RecordJournal(size int, oldestSequence, newestSequence uint64)
}

// Keyframe is one retained snapshot together with its retention metadata.
type Keyframe struct {
	Sequence   uint64
	Tick       uint64
	Frame      *world.Keyframe
	RecordedAt time.Time
}

// Eviction describes a keyframe dropped from the retention window.
type Eviction struct {
	Sequence uint64
	Tick     uint64
	Reason   string
}

// RecordResult reports the retention window after a record operation.
type RecordResult struct {
	Sequence       uint64
	Size           int
	OldestSequence uint64
	NewestSequence uint64
	Evicted        []Eviction
}

// Journal is a bounded keyframe buffer with count and age retention.
type Journal struct {
	mu        sync.RWMutex
	maxFrames int
	maxAge    time.Duration
	nextSeq   uint64
	frames    []Keyframe
	telemetry Telemetry
	now       func() time.Time
}

// New constructs a journal retaining at most maxFrames keyframes, each for
// at most maxAge. A zero maxAge disables age-based eviction.
func New(maxFrames int, maxAge time.Duration, telemetry Telemetry) *Journal {
	return &Journal{
		maxFrames: maxFrames,
		maxAge:    maxAge,
		telemetry: telemetry,
		now:       time.Now,
	}
}

// Record stores a keyframe, assigns it the next sequence number, and
// enforces the retention limits.
func (j *Journal) Record(tick uint64, frame *world.Keyframe) RecordResult {
	j.mu.Lock()

	j.nextSeq++
	entry := Keyframe{
		Sequence:   j.nextSeq,
		Tick:       tick,
		Frame:      frame,
		RecordedAt: j.now(),
	}

	if j.maxFrames == 0 {
		j.frames = j.frames[:0]
		j.mu.Unlock()
		return RecordResult{Sequence: entry.Sequence}
	}

	j.frames = append(j.frames, entry)

	var evicted []Eviction
	if j.maxAge > 0 {
		cutoff := entry.RecordedAt.Add(-j.maxAge)
		idx := 0
		for idx < len(j.frames) && j.frames[idx].RecordedAt.Before(cutoff) {
			evicted = append(evicted, Eviction{
				Sequence: j.frames[idx].Sequence,
				Tick:     j.frames[idx].Tick,
				Reason:   "expired",
			})
			idx++
		}
		if idx > 0 {
			copy(j.frames, j.frames[idx:])
			j.frames = j.frames[:len(j.frames)-idx]
		}
	}

	if overflow := len(j.frames) - j.maxFrames; overflow > 0 {
		for i := 0; i < overflow; i++ {
			evicted = append(evicted, Eviction{
				Sequence: j.frames[i].Sequence,
				Tick:     j.frames[i].Tick,
				Reason:   "count",
			})
		}
		copy(j.frames, j.frames[overflow:])
		j.frames = j.frames[:len(j.frames)-overflow]
	}

	result := RecordResult{Sequence: entry.Sequence, Size: len(j.frames), Evicted: evicted}
	if result.Size > 0 {
		result.OldestSequence = j.frames[0].Sequence
		result.NewestSequence = j.frames[result.Size-1].Sequence
	}
	j.mu.Unlock()

	if j.telemetry != nil {
		j.telemetry.RecordJournal(result.Size, result.OldestSequence, result.NewestSequence)
	}
	return result
}

// Latest returns the most recently recorded keyframe.
func (j *Journal) Latest() (Keyframe, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.frames) == 0 {
		return Keyframe{}, false
	}
	return j.frames[len(j.frames)-1], true
}

// BySequence returns the keyframe matching the given sequence number.
func (j *Journal) BySequence(sequence uint64) (Keyframe, bool) {
	if sequence == 0 {
		return Keyframe{}, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, frame := range j.frames {
		if frame.Sequence == sequence {
			return frame, true
		}
	}
	return Keyframe{}, false
}

// Window reports the current retention window.
func (j *Journal) Window() (size int, oldest, newest uint64) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	size = len(j.frames)
	if size == 0 {
		return size, 0, 0
	}
	return size, j.frames[0].Sequence, j.frames[size-1].Sequence
}
